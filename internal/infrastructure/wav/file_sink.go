package wav

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"

	"micstream/internal/core/domain"
)

// DefaultHighWaterMark is the queued-bytes threshold past which Write
// reports saturation.
const DefaultHighWaterMark = 64 * 1024

type SinkOptions struct {
	HighWaterMark int
	// Header is written once before any queued data.
	Header []byte
	// Release, if set, receives every buffer after it has been written.
	Release func([]byte)
}

// FileSink appends buffers to a file from a single owner goroutine. Write
// never blocks; callers pace themselves on Drain once Write reports the
// queue is saturated.
type FileSink struct {
	path string
	file *os.File
	w    *bufio.Writer
	opts SinkOptions

	headerOnce sync.Once
	headerErr  error

	mu       sync.Mutex
	cond     *sync.Cond
	pending  [][]byte
	queued   int
	drain    chan struct{}
	closing  bool
	err      error
	written  int64
	done     chan struct{}
	closeErr error
	closed   sync.Once
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// OpenFileSink creates (or truncates) path and starts the writer goroutine.
func OpenFileSink(path string, opts SinkOptions) (*FileSink, error) {
	if opts.HighWaterMark <= 0 {
		opts.HighWaterMark = DefaultHighWaterMark
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	s := &FileSink{
		path: path,
		file: file,
		w:    bufio.NewWriterSize(file, opts.HighWaterMark),
		opts: opts,
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	// The file is writable as soon as it is open; the worker repeats the
	// call when it becomes ready. Either way the header lands once.
	if err := s.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}

	go s.run()
	return s, nil
}

func (s *FileSink) Path() string {
	return s.path
}

// Write queues p. The sink owns p until it is handed to Release. saturated
// reports whether the queue has reached the high-water mark.
func (s *FileSink) Write(p []byte) (saturated bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return false, s.err
	}
	if s.closing {
		return false, domain.ErrSinkClosed
	}

	s.pending = append(s.pending, p)
	s.queued += len(p)
	s.cond.Signal()
	return s.queued >= s.opts.HighWaterMark, nil
}

// Drain returns a channel that is closed once the queue falls below the
// high-water mark or the sink fails.
func (s *FileSink) Drain() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queued < s.opts.HighWaterMark || s.err != nil || s.closing {
		return closedChan
	}
	if s.drain == nil {
		s.drain = make(chan struct{})
	}
	return s.drain
}

// Queued is the number of bytes accepted but not yet written.
func (s *FileSink) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

// Written is the number of data bytes handed to the file, header excluded.
func (s *FileSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Err reports the first write failure, if any.
func (s *FileSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close writes everything still queued, flushes and syncs the file and
// closes it. It returns the first failure seen by the sink.
func (s *FileSink) Close() error {
	s.closed.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.cond.Signal()
		s.mu.Unlock()

		<-s.done

		var errs []error
		if err := s.Err(); err != nil {
			errs = append(errs, err)
		}
		if err := s.w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush: %w", err))
		}
		if err := s.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync: %w", err))
		}
		if err := s.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *FileSink) writeHeader() error {
	s.headerOnce.Do(func() {
		if len(s.opts.Header) == 0 {
			return
		}
		if _, err := s.w.Write(s.opts.Header); err != nil {
			s.headerErr = fmt.Errorf("failed to write WAV header: %w", err)
			return
		}
		s.headerErr = s.w.Flush()
	})
	return s.headerErr
}

func (s *FileSink) run() {
	defer close(s.done)

	if err := s.writeHeader(); err != nil {
		s.fail(err)
		return
	}

	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closing {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for i, p := range batch {
			if _, err := s.w.Write(p); err != nil {
				s.fail(fmt.Errorf("failed to write %s: %w", s.path, err))
				s.release(batch[i:])
				return
			}
			s.mu.Lock()
			s.queued -= len(p)
			s.written += int64(len(p))
			if s.queued < s.opts.HighWaterMark && s.drain != nil {
				close(s.drain)
				s.drain = nil
			}
			s.mu.Unlock()
			s.release(batch[i : i+1])
		}
	}
}

func (s *FileSink) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	if s.drain != nil {
		close(s.drain)
		s.drain = nil
	}
	s.queued = 0
	rest := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.release(rest)
}

func (s *FileSink) release(bufs [][]byte) {
	if s.opts.Release == nil {
		return
	}
	for _, b := range bufs {
		s.opts.Release(b)
	}
}
