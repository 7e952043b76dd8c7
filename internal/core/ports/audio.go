package ports

import (
	"context"

	"micstream/internal/core/domain"
)

// Microphone grants access to a capture device.
type Microphone interface {
	// Acquire returns domain.ErrPermissionDenied when the grant is refused.
	Acquire(ctx context.Context, format domain.AudioFormat) (MicrophoneHandle, error)
}

// MicrophoneHandle is a granted device. onBuffer is called once per filled
// buffer of framesPerBuffer frames (interleaved float samples in [-1, 1]).
type MicrophoneHandle interface {
	Start(framesPerBuffer int, onBuffer func(samples []float32)) error
	Stop() error
	Release() error
}

// PacketSender is the fire-and-forget send path of the connection.
type PacketSender interface {
	Send(data []byte)
}

// FrameEncoder turns one capture buffer into a wire frame.
type FrameEncoder interface {
	Frame(samples []float32) ([]byte, error)
}
