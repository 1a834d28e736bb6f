// Package retry repeats device operations that fail transiently, such as
// discovery while the driver is still loading or a request for device
// files another process is about to release.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/NavarchProject/npudev/pkg/clock"
	"github.com/NavarchProject/npudev/pkg/npu"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts counts the initial attempt. Zero retries until ctx is
	// done.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Jitter spreads each delay by up to +/- this fraction.
	Jitter float64

	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(error) bool

	// Clock defaults to clock.Real.
	Clock clock.Clock
}

// DefaultConfig suits waiting for a driver: five attempts over about
// fifteen seconds, retrying I/O and availability failures.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
		Retryable:    OnCodes(npu.CodeIO, npu.CodeUnavailable),
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done. It returns the last error.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, lastErr)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			break
		}

		wait := delay
		if cfg.Jitter > 0 {
			spread := float64(delay) * cfg.Jitter
			wait = delay + time.Duration(rand.Float64()*2*spread-spread)
		}
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-clk.After(wait):
		}

		delay = time.Duration(math.Min(float64(delay)*cfg.Multiplier, float64(cfg.MaxDelay)))
	}

	return lastErr
}

// DoWithValue is Do for functions that produce a value.
func DoWithValue[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// OnCodes returns a Retryable that accepts errors carrying one of codes.
// Joined errors qualify when any part does.
func OnCodes(codes ...npu.Code) func(error) bool {
	return func(err error) bool {
		for _, c := range codes {
			if errors.Is(err, &npu.Error{Code: c}) {
				return true
			}
		}
		return false
	}
}
