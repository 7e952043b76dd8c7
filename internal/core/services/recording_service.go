package services

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"micstream/internal/core/domain"
	"micstream/internal/core/ports"
	"micstream/pkg/optimize"
	"micstream/pkg/tracing"
	"micstream/pkg/utils"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RecordingServiceConfig struct {
	Directory     string
	DefaultFormat domain.AudioFormat
}

// RecordingService owns the single active recording. Writes are serialized
// by the store's writer; Start and Stop are serialized by lifecycle so a
// Start issued during a Stop waits for the file to be finalized.
type RecordingService struct {
	cfg      RecordingServiceConfig
	store    ports.RecordingStore
	repo     ports.RecordingRepository
	archiver ports.Archiver
	metrics  ports.RecordingMetrics
	clock    clock.Clock
	logger   *zap.SugaredLogger

	buffers *optimize.BytePool

	lifecycle sync.Mutex

	mu        sync.Mutex
	session   *domain.RecordingSession
	writer    ports.RecordingWriter
	saturated bool
	// inflight counts WritePacket calls holding a session snapshot.
	inflight sync.WaitGroup

	background sync.WaitGroup
}

// NewRecordingService wires the recorder. archiver and metrics may be nil.
func NewRecordingService(
	cfg RecordingServiceConfig,
	store ports.RecordingStore,
	repo ports.RecordingRepository,
	archiver ports.Archiver,
	metrics ports.RecordingMetrics,
	clk clock.Clock,
	logger *zap.SugaredLogger,
) *RecordingService {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RecordingService{
		cfg:      cfg,
		store:    store,
		repo:     repo,
		archiver: archiver,
		metrics:  metrics,
		clock:    clk,
		logger:   logger,
		buffers:  optimize.NewBytePool(DefaultFramesPerBuffer * 2 * 2),
	}
}

// Start opens a new recording. A refused start (already recording, or the
// server is not accepting connections) is reported in the result, not as an
// error.
func (s *RecordingService) Start(ctx context.Context, accepting bool) (domain.StartResult, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	ctx, span := tracing.TraceRecording(ctx, "start", "")
	defer span.End()

	s.mu.Lock()
	active := s.session
	s.mu.Unlock()

	if active != nil {
		s.logger.Warnw("recording already active", "file", active.FilePath, "error", domain.ErrWriterBusy)
		return domain.StartResult{Reason: domain.ErrWriterBusy.Error(), FilePath: active.FilePath}, nil
	}
	if !accepting {
		s.logger.Warnw("cannot start recording", "error", domain.ErrNotAccepting)
		return domain.StartResult{Reason: domain.ErrNotAccepting.Error()}, nil
	}

	if err := os.MkdirAll(s.cfg.Directory, 0o755); err != nil {
		tracing.RecordError(ctx, err)
		return domain.StartResult{}, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	now := s.clock.Now()
	id := domain.RecordingID(uuid.NewString())
	path := filepath.Join(s.cfg.Directory, "recording-"+utils.FileTimestamp(now)+".wav")

	writer, err := s.store.Create(path, s.cfg.DefaultFormat, s.buffers.Put)
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.StartResult{}, fmt.Errorf("failed to create recording file: %w", err)
	}

	session := &domain.RecordingSession{
		ID:        id,
		Active:    true,
		FilePath:  path,
		StartTime: now,
		Format:    s.cfg.DefaultFormat,
	}

	s.mu.Lock()
	s.session = session
	s.writer = writer
	s.saturated = false
	s.mu.Unlock()

	tracing.AddSpanAttributes(ctx, tracing.RecordingIDKey.String(string(id)))
	if s.metrics != nil {
		s.metrics.RecordingStarted()
	}
	s.logger.Infow("recording started", "recording_id", id, "file", path)

	return domain.StartResult{Started: true, ID: id, FilePath: path}, nil
}

// WritePacket appends the samples of audio to the active recording. Without
// an active recording it does nothing. When the previous write saturated the
// writer, it first waits for the writer to drain.
func (s *RecordingService) WritePacket(ctx context.Context, audio *domain.DecodedAudio) error {
	if audio == nil {
		return nil
	}

	s.mu.Lock()
	session, writer := s.session, s.writer
	if session == nil || !session.Active {
		s.mu.Unlock()
		return nil
	}
	if !session.FormatFixed {
		s.fixFormat(session, audio.Format())
	}
	wait := s.saturated
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if wait {
		start := s.clock.Now()
		select {
		case <-writer.Drain():
		case <-ctx.Done():
			return ctx.Err()
		}
		if s.metrics != nil {
			s.metrics.BackpressureWait(s.clock.Since(start))
		}
	}

	buf := s.buffers.Get()[:0]
	for _, sample := range audio.Samples {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(sample))
	}
	size := len(buf)

	saturated, err := writer.Write(buf)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if s.session != session {
			// stopped while this packet was in flight
			return nil
		}
		s.abort(session, writer, err)
		return fmt.Errorf("%w: %v", domain.ErrSessionAborted, err)
	}

	session.PacketsWritten++
	session.BytesWritten += uint64(size)
	if s.session == session {
		s.saturated = saturated
	}
	if s.metrics != nil {
		s.metrics.PacketWritten(size)
	}
	return nil
}

// fixFormat must be called with s.mu held.
func (s *RecordingService) fixFormat(session *domain.RecordingSession, format domain.AudioFormat) {
	if err := format.Validate(); err != nil {
		s.logger.Warnw("first packet has unusable format, keeping default",
			"recording_id", session.ID,
			"error", err,
		)
		format = s.cfg.DefaultFormat
	}
	session.Format = format
	session.FormatFixed = true
	s.logger.Infow("recording format fixed",
		"recording_id", session.ID,
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
	)
}

// abort must be called with s.mu held.
func (s *RecordingService) abort(session *domain.RecordingSession, writer ports.RecordingWriter, cause error) {
	session.Active = false
	s.session = nil
	s.writer = nil
	s.saturated = false

	s.logger.Errorw("recording aborted",
		"recording_id", session.ID,
		"file", session.FilePath,
		"error", cause,
	)
	if s.metrics != nil {
		s.metrics.RecordingAborted()
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := writer.Close(); err != nil {
			s.logger.Debugw("closing aborted recording failed", "recording_id", session.ID, "error", err)
		}
	}()
}

// Stop ends the active recording: the writer is drained and synced, then the
// header is finalized. Without an active recording it returns nil, nil.
func (s *RecordingService) Stop(ctx context.Context) (*domain.RecordingSummary, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	session, writer := s.session, s.writer
	if session == nil {
		s.mu.Unlock()
		s.logger.Infow("no active recording to stop")
		return nil, nil
	}
	session.Active = false
	s.session = nil
	s.writer = nil
	s.saturated = false
	s.mu.Unlock()

	ctx, span := tracing.TraceRecording(ctx, "stop", string(session.ID))
	defer span.End()

	var errs []error
	if err := writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", domain.ErrFinalizeIO, err))
	}
	// packets accepted before Close must be in the summary
	s.inflight.Wait()

	stoppedAt := s.clock.Now()

	s.mu.Lock()
	summary := &domain.RecordingSummary{
		ID:        session.ID,
		FilePath:  session.FilePath,
		StartedAt: session.StartTime,
		StoppedAt: stoppedAt,
		Duration:  stoppedAt.Sub(session.StartTime),
		Packets:   session.PacketsWritten,
		Format:    session.Format,
	}
	s.mu.Unlock()

	result, err := s.store.Finalize(session.FilePath, session.Format)
	if err != nil {
		errs = append(errs, err)
	}
	summary.FileSize = result.FileSize
	summary.DataSize = result.DataSize
	summary.Empty = result.Empty

	if err := errors.Join(errs...); err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Errorw("failed to finalize recording",
			"recording_id", session.ID,
			"file", session.FilePath,
			"error", err,
		)
		return summary, err
	}

	if summary.Empty {
		s.logger.Infow("recording stopped with no audio", "recording_id", session.ID, "file", session.FilePath)
	} else {
		s.logger.Infow("recording saved",
			"recording_id", session.ID,
			"file", session.FilePath,
			"packets", summary.Packets,
			"data_size", summary.DataSize,
			"duration", utils.FormatDuration(summary.Duration),
		)
	}
	if s.metrics != nil {
		s.metrics.RecordingStopped(summary)
	}

	if err := s.repo.Save(ctx, summary); err != nil {
		s.logger.Warnw("failed to catalog recording", "recording_id", session.ID, "error", err)
	}
	s.archive(summary)

	return summary, nil
}

func (s *RecordingService) archive(summary *domain.RecordingSummary) {
	if s.archiver == nil || summary.Empty {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.archiver.Archive(context.Background(), summary); err != nil {
			s.logger.Warnw("failed to archive recording",
				"recording_id", summary.ID,
				"file", summary.FilePath,
				"error", err,
			)
		}
	}()
}

func (s *RecordingService) Status() domain.RecordingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return domain.RecordingStatus{}
	}
	return domain.RecordingStatus{
		IsRecording:    s.session.Active,
		FilePath:       s.session.FilePath,
		PacketsWritten: s.session.PacketsWritten,
		BytesWritten:   s.session.BytesWritten,
	}
}

func (s *RecordingService) Recordings(ctx context.Context) ([]*domain.RecordingSummary, error) {
	return s.repo.List(ctx)
}

// Wait blocks until background archive and cleanup work is done.
func (s *RecordingService) Wait() {
	s.background.Wait()
}
