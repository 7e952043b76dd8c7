//go:build portaudio

package microphone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// PortAudioAvailable reports whether the binary was built with live capture.
const PortAudioAvailable = true

// PortAudioSource captures from the default input device.
type PortAudioSource struct {
	logger *zap.SugaredLogger
}

func NewPortAudioSource(logger *zap.SugaredLogger) *PortAudioSource {
	return &PortAudioSource{logger: logger}
}

// Acquire initializes PortAudio and checks that an input device exists. A
// missing or refused device maps to domain.ErrPermissionDenied.
func (s *PortAudioSource) Acquire(ctx context.Context, format domain.AudioFormat) (ports.MicrophoneHandle, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil || device == nil || device.MaxInputChannels < format.Channels {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: no usable input device", domain.ErrPermissionDenied)
	}

	s.logger.Infow("microphone acquired", "device", device.Name, "sample_rate", format.SampleRate)
	return &portAudioHandle{format: format, logger: s.logger}, nil
}

type portAudioHandle struct {
	format domain.AudioFormat
	logger *zap.SugaredLogger

	mu       sync.Mutex
	stream   *portaudio.Stream
	stop     chan struct{}
	done     chan struct{}
	released bool
}

func (h *portAudioHandle) Start(framesPerBuffer int, onBuffer func(samples []float32)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrReleased
	}
	if h.stream != nil {
		return ErrAlreadyStarted
	}

	in := make([]float32, framesPerBuffer*h.format.Channels)
	stream, err := portaudio.OpenDefaultStream(h.format.Channels, 0, float64(h.format.SampleRate), framesPerBuffer, in)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	h.stream = stream
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go h.run(stream, in, onBuffer, h.stop, h.done)
	return nil
}

func (h *portAudioHandle) run(stream *portaudio.Stream, in []float32, onBuffer func([]float32), stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				h.logger.Debugw("input overflowed")
				continue
			}
			h.logger.Warnw("input stream read failed", "error", err)
			return
		}
		onBuffer(in)
	}
}

func (h *portAudioHandle) Stop() error {
	h.mu.Lock()
	stream, stop, done := h.stream, h.stop, h.done
	h.stream, h.stop, h.done = nil, nil, nil
	h.mu.Unlock()

	if stream == nil {
		return nil
	}
	close(stop)
	err := stream.Stop()
	<-done
	return errors.Join(err, stream.Close())
}

func (h *portAudioHandle) Release() error {
	err := h.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return err
	}
	h.released = true
	return errors.Join(err, portaudio.Terminate())
}
