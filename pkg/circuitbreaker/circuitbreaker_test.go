package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend unavailable")

func testBreaker(t *testing.T) (*CircuitBreaker, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	return New(Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             10 * time.Second,
		MaxRequestsHalfOpen: 1,
	}, mock), mock
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	}
	assert.Equal(t, StateClosed, cb.State())

	// a success resets the streak
	require.NoError(t, cb.Execute(ctx, succeed))
	for i := 0; i < 2; i++ {
		cb.Execute(ctx, fail)
	}
	assert.Equal(t, StateClosed, cb.State())

	cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	cb, mock := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.State())

	mock.Add(9 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrOpen)

	mock.Add(time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, mock := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, fail)
	}
	mock.Add(10 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsConcurrentRequests(t *testing.T) {
	cb, mock := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, fail)
	}
	mock.Add(10 * time.Second)

	release := make(chan struct{})
	entered := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrOpen)

	close(release)
	assert.NoError(t, <-done)
}

func TestCircuitBreaker_CancelledContextIsNotAFailure(t *testing.T) {
	cb, _ := testBreaker(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.GetStats().FailureCount)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, mock := testBreaker(t)
	ctx := context.Background()

	var mu sync.Mutex
	var transitions []string
	cb.OnStateChange(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, fail)
	}
	mock.Add(10 * time.Second)
	cb.Execute(ctx, succeed)
	cb.Execute(ctx, succeed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, mock := testBreaker(t)
	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), fail)
	}

	stats := cb.GetStats()
	assert.Equal(t, StateOpen, stats.State)
	assert.Equal(t, mock.Now(), stats.LastFailureTime)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), succeed))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
