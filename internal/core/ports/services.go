package ports

import (
	"context"

	"micstream/internal/core/domain"
)

type ConnectionService interface {
	Connect()
	Disconnect()
	Send(data []byte)
	IsConnected() bool
	State() domain.ConnectionState
	Subscribe() (<-chan domain.ConnectionState, func())
}

type CaptureService interface {
	RequestAccess(ctx context.Context) (MicrophoneHandle, error)
	StartCapture() error
	StopCapture() error
	IsCapturing() bool
}

type PacketDecoder interface {
	Decode(raw []byte) *domain.DecodedAudio
}

type RecordingService interface {
	Start(ctx context.Context, accepting bool) (domain.StartResult, error)
	WritePacket(ctx context.Context, audio *domain.DecodedAudio) error
	Stop(ctx context.Context) (*domain.RecordingSummary, error)
	Status() domain.RecordingStatus
	Recordings(ctx context.Context) ([]*domain.RecordingSummary, error)
}

// Archiver copies finished recordings to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, summary *domain.RecordingSummary) error
}
