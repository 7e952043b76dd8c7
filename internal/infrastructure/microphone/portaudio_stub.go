//go:build !portaudio

package microphone

import (
	"context"
	"errors"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"

	"go.uber.org/zap"
)

// PortAudioAvailable reports whether the binary was built with live capture.
const PortAudioAvailable = false

// ErrNoPortAudio is returned by Acquire in builds without the portaudio tag.
var ErrNoPortAudio = errors.New("built without portaudio support (rebuild with -tags portaudio)")

type PortAudioSource struct {
	logger *zap.SugaredLogger
}

func NewPortAudioSource(logger *zap.SugaredLogger) *PortAudioSource {
	return &PortAudioSource{logger: logger}
}

func (s *PortAudioSource) Acquire(ctx context.Context, format domain.AudioFormat) (ports.MicrophoneHandle, error) {
	return nil, ErrNoPortAudio
}
