// Package resilience wraps calls to unreliable remote dependencies with
// retry, circuit breaking, and bounded concurrency.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/service"
)

// Config tunes the retry, breaker, and concurrency behavior shared by
// every target the executor manages.
type Config struct {
	// OnStateChange is invoked on every breaker transition, after the
	// transition has been logged. Optional.
	OnStateChange func(target, from, to string)

	// MaxConcurrent bounds in-flight calls per target.
	MaxConcurrent int

	// Retry schedule. The defaults walk 1s, 5s, 15s and then repeat
	// the final delay until the attempt budget runs out.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// SamplingWindow is how long breaker failure counts accumulate
	// before resetting; BreakDuration is how long an open circuit
	// rejects calls before admitting the half-open probe.
	SamplingWindow time.Duration
	BreakDuration  time.Duration

	// MinThroughput is the number of calls within the sampling window
	// required before an all-failure run can trip the breaker.
	MinThroughput int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		MaxAttempts:    4,
		InitialDelay:   1 * time.Second,
		MaxDelay:       15 * time.Second,
		Multiplier:     5.0,
		SamplingWindow: 1 * time.Minute,
		BreakDuration:  30 * time.Second,
		MinThroughput:  3,
	}
}

// Executor runs operations against named remote targets. Calls to the
// same target share one permit pool and one circuit breaker; targets
// are isolated from each other.
type Executor struct {
	targets map[string]*target
	cfg     Config
	mu      sync.Mutex
}

type target struct {
	permits chan struct{}
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// New creates an executor. Zero-valued config fields fall back to
// DefaultConfig.
func New(cfg Config) *Executor {
	defaults := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaults.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = defaults.Multiplier
	}
	if cfg.SamplingWindow <= 0 {
		cfg.SamplingWindow = defaults.SamplingWindow
	}
	if cfg.BreakDuration <= 0 {
		cfg.BreakDuration = defaults.BreakDuration
	}
	if cfg.MinThroughput <= 0 {
		cfg.MinThroughput = defaults.MinThroughput
	}

	return &Executor{
		cfg:     cfg,
		targets: make(map[string]*target),
	}
}

// Execute runs op against the named target with bounded concurrency,
// circuit breaking, and retry. Results are captured through op's
// closure; Execute reports only success or the terminal error.
func (e *Executor) Execute(ctx context.Context, targetName string, op func(context.Context) error) error {
	t := e.targetFor(targetName)

	select {
	case t.permits <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.permits }()

	return common.WithRetry(ctx, func() error {
		_, err := t.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, op(ctx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Fail fast without consuming the retry budget.
			return &common.RetryableError{
				Err:       fmt.Errorf("%w: %s", common.ErrCircuitOpen, targetName),
				Retryable: false,
			}
		}
		return err
	}, service.RetryOptions{
		MaxAttempts:  e.cfg.MaxAttempts,
		InitialDelay: e.cfg.InitialDelay,
		MaxDelay:     e.cfg.MaxDelay,
		Multiplier:   e.cfg.Multiplier,
	})
}

func (e *Executor) targetFor(name string) *target {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.targets[name]; ok {
		return t
	}

	minThroughput := uint32(e.cfg.MinThroughput) // positive after New
	t := &target{
		permits: make(chan struct{}, e.cfg.MaxConcurrent),
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    e.cfg.SamplingWindow,
			Timeout:     e.cfg.BreakDuration,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= minThroughput &&
					counts.TotalFailures == counts.Requests
			},
			IsSuccessful: func(err error) bool {
				// Cancellation is the caller's doing, not the target's.
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: e.logStateChange,
		}),
	}
	e.targets[name] = t
	return t
}

func (e *Executor) logStateChange(name string, from, to gobreaker.State) {
	slog.Warn("Circuit breaker state changed",
		"target", name,
		"from", from.String(),
		"to", to.String())
	if e.cfg.OnStateChange != nil {
		e.cfg.OnStateChange(name, from.String(), to.String())
	}
}
