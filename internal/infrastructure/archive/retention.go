package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"micstream/pkg/backup"
	"micstream/pkg/utils"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// RecordingPrefix is the object name prefix of archived recordings.
const RecordingPrefix = "recording-"

// RetentionConfig contains retention sweeper configuration
type RetentionConfig struct {
	Interval      time.Duration
	RetentionDays int
}

// Retention periodically deletes archives older than the retention period.
type Retention struct {
	storage       backup.Storage
	interval      time.Duration
	retentionDays int
	clock         clock.Clock
	logger        *zap.SugaredLogger
	stopChan      chan struct{}
	done          chan struct{}
}

// NewRetention creates a new retention sweeper. clk may be nil.
func NewRetention(storage backup.Storage, cfg RetentionConfig, clk clock.Clock, logger *zap.SugaredLogger) *Retention {
	if clk == nil {
		clk = clock.New()
	}
	return &Retention{
		storage:       storage,
		interval:      cfg.Interval,
		retentionDays: cfg.RetentionDays,
		clock:         clk,
		logger:        logger,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start runs a sweep immediately and then every interval until Stop is
// called or ctx is done.
func (r *Retention) Start(ctx context.Context) {
	defer close(r.done)

	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			r.runSweep(ctx)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the sweeper and waits for Start to return.
func (r *Retention) Stop() {
	close(r.stopChan)
	<-r.done
}

func (r *Retention) runSweep(ctx context.Context) {
	deleted, err := r.Sweep(ctx)
	if err != nil {
		r.logger.Warnw("archive retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Infow("archive retention sweep finished", "deleted", deleted)
	}
}

// Sweep deletes every recording and summary whose file timestamp is older
// than the retention period and returns how many objects were removed.
func (r *Retention) Sweep(ctx context.Context) (int, error) {
	names, err := r.storage.List(ctx, RecordingPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list archives: %w", err)
	}

	cutoff := r.clock.Now().AddDate(0, 0, -r.retentionDays)
	deleted := 0

	for _, name := range names {
		timestamp, err := archiveTime(name)
		if err != nil {
			r.logger.Debugw("skipping archive with unparsable name", "name", name, "error", err)
			continue
		}
		if !timestamp.Before(cutoff) {
			continue
		}
		if err := r.storage.Delete(ctx, name); err != nil {
			r.logger.Warnw("failed to delete old archive", "name", name, "error", err)
			continue
		}
		deleted++
		r.logger.Infow("deleted old archive", "name", name, "age", r.clock.Since(timestamp))
	}

	return deleted, nil
}

// archiveTime extracts the timestamp from recording-<timestamp>.<ext>.
func archiveTime(name string) (time.Time, error) {
	stem := strings.TrimSuffix(strings.TrimPrefix(name, RecordingPrefix), filepath.Ext(name))
	return utils.ParseFileTimestamp(stem)
}
