// Package microphone provides capture sources for the client: a synthetic
// tone, a WAV file replayed in real time and (with the portaudio build tag)
// the default input device.
package microphone

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	ErrAlreadyStarted = errors.New("capture already started")
	ErrReleased       = errors.New("microphone handle released")
)

// fillFunc writes the next buffer into dst and reports how many samples it
// wrote. ok is false once the source is exhausted.
type fillFunc func(dst []float32) (n int, ok bool)

// pacedHandle delivers buffers from fill at the rate a real device would,
// one buffer per buffer duration of the injected clock.
type pacedHandle struct {
	clock      clock.Clock
	sampleRate int
	channels   int
	fill       fillFunc

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	released bool
}

func newPacedHandle(clk clock.Clock, sampleRate, channels int, fill fillFunc) *pacedHandle {
	if clk == nil {
		clk = clock.New()
	}
	return &pacedHandle{
		clock:      clk,
		sampleRate: sampleRate,
		channels:   channels,
		fill:       fill,
	}
}

func (h *pacedHandle) Start(framesPerBuffer int, onBuffer func(samples []float32)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrReleased
	}
	if h.stop != nil {
		return ErrAlreadyStarted
	}

	interval := time.Duration(framesPerBuffer) * time.Second / time.Duration(h.sampleRate)
	buf := make([]float32, framesPerBuffer*h.channels)
	ticker := h.clock.Ticker(interval)

	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go h.run(ticker, buf, onBuffer, h.stop, h.done)
	return nil
}

func (h *pacedHandle) run(ticker *clock.Ticker, buf []float32, onBuffer func([]float32), stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	exhausted := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if exhausted {
				continue
			}
			n, ok := h.fill(buf)
			if n > 0 {
				onBuffer(buf[:n])
			}
			exhausted = !ok
		}
	}
}

func (h *pacedHandle) Stop() error {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	h.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (h *pacedHandle) Release() error {
	err := h.Stop()
	h.mu.Lock()
	h.released = true
	h.mu.Unlock()
	return err
}
