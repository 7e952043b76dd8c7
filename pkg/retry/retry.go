package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts        int           // Maximum number of retry attempts after the first call
	InitialDelay       time.Duration // Delay before the first retry
	MaxDelay           time.Duration // Upper bound for any single delay
	Multiplier         float64       // Exponential backoff multiplier (typically 2.0)
	Jitter             bool          // Spread delays by up to ±25%
	NonRetryableErrors []error       // Errors that stop the loop immediately
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// ReconnectConfig is the client reconnection schedule: 1s, 2s, 4s, 8s with a
// 10s ceiling and four attempts.
func ReconnectConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the wait before retry number n (1-based):
// min(InitialDelay * Multiplier^(n-1), MaxDelay).
func (c Config) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(c.InitialDelay) * math.Pow(multiplier, float64(n-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	duration := time.Duration(delay)
	if c.Jitter {
		// deterministic spread keyed on the attempt number
		quarter := duration / 4
		duration = duration - quarter + time.Duration(int64(quarter)*2*int64(n%4)/4)
	}
	return duration
}

// Retry executes fn until it succeeds, a non-retryable error is returned,
// attempts are exhausted or ctx is done.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if isNonRetryable(err, cfg.NonRetryableErrors) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(cfg.Delay(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

func isNonRetryable(err error, nonRetryable []error) bool {
	for _, target := range nonRetryable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
