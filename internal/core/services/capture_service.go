package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"

	"go.uber.org/zap"
)

// DefaultFramesPerBuffer is the capture buffer size in frames.
const DefaultFramesPerBuffer = 4096

type captureService struct {
	mic             ports.Microphone
	encoder         ports.FrameEncoder
	sender          ports.PacketSender
	format          domain.AudioFormat
	framesPerBuffer int
	logger          *zap.SugaredLogger

	mu        sync.Mutex
	handle    ports.MicrophoneHandle
	capturing bool

	framesSent atomic.Uint64
}

// CaptureService is the concrete capture pipeline. FramesSent is exposed for
// status reporting.
type CaptureService interface {
	ports.CaptureService
	FramesSent() uint64
}

func NewCaptureService(
	mic ports.Microphone,
	encoder ports.FrameEncoder,
	sender ports.PacketSender,
	format domain.AudioFormat,
	framesPerBuffer int,
	logger *zap.SugaredLogger,
) CaptureService {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &captureService{
		mic:             mic,
		encoder:         encoder,
		sender:          sender,
		format:          format,
		framesPerBuffer: framesPerBuffer,
		logger:          logger,
	}
}

// RequestAccess acquires the microphone once and returns the held handle on
// later calls.
func (s *captureService) RequestAccess(ctx context.Context) (ports.MicrophoneHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return s.handle, nil
	}

	handle, err := s.mic.Acquire(ctx, s.format)
	if err != nil {
		if errors.Is(err, domain.ErrPermissionDenied) {
			s.logger.Warnw("microphone access denied", "error", err)
			return nil, err
		}
		return nil, fmt.Errorf("failed to acquire microphone: %w", err)
	}

	s.handle = handle
	s.logger.Infow("microphone access granted",
		"sample_rate", s.format.SampleRate,
		"channels", s.format.Channels,
	)
	return handle, nil
}

func (s *captureService) StartCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		s.logger.Debugw("capture start skipped: no microphone handle")
		return nil
	}
	if s.capturing {
		return nil
	}

	if err := s.handle.Start(s.framesPerBuffer, s.onBuffer); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	s.capturing = true
	s.logger.Infow("capture started", "frames_per_buffer", s.framesPerBuffer)
	return nil
}

// StopCapture stops the pipeline and releases the device. Safe to call
// repeatedly.
func (s *captureService) StopCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return nil
	}

	var errs []error
	if s.capturing {
		if err := s.handle.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
	}
	if err := s.handle.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release: %w", err))
	}

	wasCapturing := s.capturing
	s.handle = nil
	s.capturing = false

	if wasCapturing {
		s.logger.Infow("capture stopped", "frames_sent", s.framesSent.Load())
	}
	return errors.Join(errs...)
}

func (s *captureService) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

func (s *captureService) FramesSent() uint64 {
	return s.framesSent.Load()
}

func (s *captureService) onBuffer(samples []float32) {
	frame, err := s.encoder.Frame(samples)
	if err != nil {
		s.logger.Warnw("failed to frame capture buffer", "error", err, "samples", len(samples))
		return
	}
	s.sender.Send(frame)
	s.framesSent.Add(1)
}
