package signal

import (
	"sync/atomic"
	"time"

	"micstream/internal/infrastructure/codec"
)

// FrameRateLimited counts frames dropped by the per-connection limiter.
const FrameRateLimited = "rate_limited"

// ServerSession holds the counters of one server run.
type ServerSession struct {
	startedAt atomic.Int64 // unix nanos

	totalClients   atomic.Int64
	activeClients  atomic.Int64
	bytesReceived  atomic.Int64
	frames         atomic.Int64
	audioFrames    atomic.Int64
	malformed      atomic.Int64
	ignored        atomic.Int64
	rateLimited    atomic.Int64
	rejectedClient atomic.Int64
}

// ServerStats is a point-in-time copy of a ServerSession.
type ServerStats struct {
	StartedAt         time.Time `json:"started_at"`
	TotalClients      int64     `json:"total_clients"`
	ActiveClients     int64     `json:"active_clients"`
	RejectedClients   int64     `json:"rejected_clients"`
	BytesReceived     int64     `json:"bytes_received"`
	Frames            int64     `json:"frames"`
	AudioFrames       int64     `json:"audio_frames"`
	MalformedFrames   int64     `json:"malformed_frames"`
	IgnoredFrames     int64     `json:"ignored_frames"`
	RateLimitedFrames int64     `json:"rate_limited_frames"`
}

// Reset zeroes the run counters. Active clients are carried over since
// their connections are still open.
func (s *ServerSession) Reset(now time.Time) {
	s.startedAt.Store(now.UnixNano())
	s.totalClients.Store(0)
	s.bytesReceived.Store(0)
	s.frames.Store(0)
	s.audioFrames.Store(0)
	s.malformed.Store(0)
	s.ignored.Store(0)
	s.rateLimited.Store(0)
	s.rejectedClient.Store(0)
}

func (s *ServerSession) clientConnected() {
	s.totalClients.Add(1)
	s.activeClients.Add(1)
}

func (s *ServerSession) clientDisconnected() {
	s.activeClients.Add(-1)
}

func (s *ServerSession) clientRejected() {
	s.rejectedClient.Add(1)
}

func (s *ServerSession) received(n int) {
	s.bytesReceived.Add(int64(n))
}

func (s *ServerSession) recordFrame(outcome string) {
	s.frames.Add(1)
	switch outcome {
	case codec.OutcomeAudio:
		s.audioFrames.Add(1)
	case codec.OutcomeMalformed:
		s.malformed.Add(1)
	case codec.OutcomeIgnored:
		s.ignored.Add(1)
	case FrameRateLimited:
		s.rateLimited.Add(1)
	}
}

func (s *ServerSession) Snapshot() ServerStats {
	var started time.Time
	if ns := s.startedAt.Load(); ns != 0 {
		started = time.Unix(0, ns)
	}
	return ServerStats{
		StartedAt:         started,
		TotalClients:      s.totalClients.Load(),
		ActiveClients:     s.activeClients.Load(),
		RejectedClients:   s.rejectedClient.Load(),
		BytesReceived:     s.bytesReceived.Load(),
		Frames:            s.frames.Load(),
		AudioFrames:       s.audioFrames.Load(),
		MalformedFrames:   s.malformed.Load(),
		IgnoredFrames:     s.ignored.Load(),
		RateLimitedFrames: s.rateLimited.Load(),
	}
}
