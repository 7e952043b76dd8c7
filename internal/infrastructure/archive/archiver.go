// Package archive copies finished recordings to long-term storage and
// expires old archives.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"micstream/internal/core/domain"
	"micstream/pkg/backup"
	"micstream/pkg/circuitbreaker"
	"micstream/pkg/retry"
	"micstream/pkg/tracing"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Config contains archiver configuration
type Config struct {
	Retry   retry.Config
	Breaker circuitbreaker.Config
}

// DefaultConfig retries each upload three times and stops calling the
// storage backend for a minute after five consecutive failures.
func DefaultConfig() Config {
	cfg := Config{
		Retry:   retry.DefaultConfig(),
		Breaker: circuitbreaker.DefaultConfig(),
	}
	cfg.Retry.InitialDelay = 500 * time.Millisecond
	cfg.Breaker.Timeout = time.Minute
	return cfg
}

// Archiver uploads a recording and a JSON summary next to it.
type Archiver struct {
	storage backup.Storage
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
	logger  *zap.SugaredLogger
}

// NewArchiver creates an archiver writing to storage. clk may be nil.
func NewArchiver(storage backup.Storage, cfg Config, clk clock.Clock, logger *zap.SugaredLogger) *Archiver {
	cfg.Retry.NonRetryableErrors = append(cfg.Retry.NonRetryableErrors, circuitbreaker.ErrOpen, os.ErrNotExist)

	breaker := circuitbreaker.New(cfg.Breaker, clk)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("archive storage circuit changed state", "from", from.String(), "to", to.String())
	})

	return &Archiver{
		storage: storage,
		breaker: breaker,
		retry:   cfg.Retry,
		logger:  logger,
	}
}

// SummaryName returns the sidecar object name for a recording object.
func SummaryName(recordingName string) string {
	return strings.TrimSuffix(recordingName, filepath.Ext(recordingName)) + ".json"
}

func (a *Archiver) Archive(ctx context.Context, summary *domain.RecordingSummary) error {
	ctx, span := tracing.TraceRecording(ctx, "archive", string(summary.ID))
	defer span.End()

	name := filepath.Base(summary.FilePath)
	start := time.Now()

	err := a.put(ctx, name, func() (io.ReadCloser, error) {
		return os.Open(summary.FilePath)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to archive %s: %w", name, err)
	}

	meta, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	err = a.put(ctx, SummaryName(name), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(meta)), nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to archive summary for %s: %w", name, err)
	}

	tracing.MarkOK(ctx)
	a.logger.Infow("recording archived",
		"recording_id", summary.ID,
		"name", name,
		"bytes", summary.FileSize,
		"duration", time.Since(start),
	)
	return nil
}

// put reopens the source on every attempt so a retried upload starts from
// the first byte.
func (a *Archiver) put(ctx context.Context, name string, open func() (io.ReadCloser, error)) error {
	attempt := 0
	return retry.Retry(ctx, a.retry, func() error {
		attempt++
		err := a.breaker.Execute(ctx, func() error {
			rc, err := open()
			if err != nil {
				return err
			}
			defer rc.Close()
			return a.storage.Save(ctx, name, rc)
		})
		if err != nil && !errors.Is(err, circuitbreaker.ErrOpen) {
			a.logger.Debugw("archive upload failed", "name", name, "attempt", attempt, "error", err)
		}
		return err
	})
}

// BreakerState exposes the storage circuit for health reporting.
func (a *Archiver) BreakerState() circuitbreaker.State {
	return a.breaker.State()
}
