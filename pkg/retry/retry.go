package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Backoff is an exponential delay schedule with symmetric jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Delay returns the wait before the given retry. retry counts from 1.
func (b Backoff) Delay(retry int) time.Duration {
	if b.Initial <= 0 || retry < 1 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}

	d := float64(b.Initial)
	for i := 1; i < retry; i++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}

	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	return time.Duration(d)
}

// Config controls Do. Do is for establishing connections at startup.
type Config struct {
	MaxAttempts int
	Backoff     Backoff
	// Retryable reports whether an error is worth another attempt. Nil
	// retries everything except errors wrapped with Permanent.
	Retryable func(error) bool
	Logger    *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Backoff: Backoff{
			Initial:    200 * time.Millisecond,
			Max:        5 * time.Second,
			Multiplier: 2,
			Jitter:     0.1,
		},
		Logger: zap.NewNop(),
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func Do(ctx context.Context, cfg Config, name string, operation func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err = operation(ctx); err == nil {
			if attempt > 1 {
				cfg.Logger.Info("Operation succeeded after retry",
					zap.String("operation", name),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}

		if attempt == cfg.MaxAttempts || !shouldRetry(cfg, err) {
			return err
		}

		delay := cfg.Backoff.Delay(attempt)
		cfg.Logger.Warn("Operation failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func shouldRetry(cfg Config, err error) bool {
	if IsPermanent(err) {
		return false
	}
	if cfg.Retryable != nil {
		return cfg.Retryable(err)
	}
	return true
}
