package domain

import "time"

type RecordingID string

// RecordingSession is the server-side state of the one active recording.
type RecordingSession struct {
	ID             RecordingID
	Active         bool
	FilePath       string
	StartTime      time.Time
	PacketsWritten uint64
	BytesWritten   uint64
	Format         AudioFormat
	FormatFixed    bool
}

type RecordingStatus struct {
	IsRecording    bool   `json:"is_recording"`
	FilePath       string `json:"file_path,omitempty"`
	PacketsWritten uint64 `json:"packets_written"`
	BytesWritten   uint64 `json:"bytes_written"`
}

// StartResult reports whether Start opened a session. A refused start is a
// diagnostic, not a failure.
type StartResult struct {
	Started  bool        `json:"started"`
	ID       RecordingID `json:"id,omitempty"`
	FilePath string      `json:"file_path,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

type RecordingSummary struct {
	ID        RecordingID   `json:"id"`
	FilePath  string        `json:"file_path"`
	StartedAt time.Time     `json:"started_at"`
	StoppedAt time.Time     `json:"stopped_at"`
	Duration  time.Duration `json:"duration"`
	Packets   uint64        `json:"packets"`
	FileSize  int64         `json:"file_size"`
	DataSize  int64         `json:"data_size"`
	Format    AudioFormat   `json:"format"`
	Empty     bool          `json:"empty"`
}

// FinalizeResult describes a recording file after its header was finalized.
type FinalizeResult struct {
	FileSize int64
	DataSize int64
	Empty    bool
}
