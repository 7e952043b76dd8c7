package ports

import (
	"time"

	"micstream/internal/core/domain"
)

// RecordingWriter is an open recording file. Write never blocks; once it
// reports saturation callers wait on Drain before writing again.
type RecordingWriter interface {
	Write(p []byte) (saturated bool, err error)
	Drain() <-chan struct{}
	// Close writes everything queued, flushes and syncs the file.
	Close() error
}

// RecordingStore creates recording files and finalizes them once flushed.
type RecordingStore interface {
	// Create opens path and writes the placeholder header for format.
	// release receives every buffer passed to Write once it is on disk.
	Create(path string, format domain.AudioFormat, release func([]byte)) (RecordingWriter, error)
	Finalize(path string, format domain.AudioFormat) (domain.FinalizeResult, error)
}

// RecordingMetrics observes the recording lifecycle.
type RecordingMetrics interface {
	RecordingStarted()
	RecordingStopped(summary *domain.RecordingSummary)
	RecordingAborted()
	PacketWritten(bytes int)
	BackpressureWait(d time.Duration)
}
