package generation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"restyle/internal/infra"
)

const (
	// DefaultMaxAttempts bounds retries of a single unit on transient
	// provider errors.
	DefaultMaxAttempts = 3
	// DefaultAttemptTimeout caps one provider call, independent of overall
	// job runtime.
	DefaultAttemptTimeout = 2 * time.Minute
)

// Adapter wraps a Generator with per-attempt timeouts and exponential-backoff
// retries for transient failures. Tier-unavailable and fatal errors are
// returned immediately for the worker to act on.
type Adapter struct {
	gen            Generator
	logger         infra.Logger
	maxAttempts    uint64
	attemptTimeout time.Duration
	initialBackoff time.Duration
}

// AdapterOption customizes an Adapter.
type AdapterOption func(*Adapter)

// WithMaxAttempts overrides the retry bound.
func WithMaxAttempts(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.maxAttempts = uint64(n)
		}
	}
}

// WithAttemptTimeout overrides the per-call timeout.
func WithAttemptTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.attemptTimeout = d
		}
	}
}

// WithInitialBackoff overrides the first retry delay. Tests shrink it.
func WithInitialBackoff(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.initialBackoff = d
		}
	}
}

// NewAdapter builds the retrying adapter around the provider.
func NewAdapter(gen Generator, logger infra.Logger, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		gen:            gen,
		logger:         logger,
		maxAttempts:    DefaultMaxAttempts,
		attemptTimeout: DefaultAttemptTimeout,
		initialBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GenerateUnit runs one unit against the provider, retrying transient errors
// up to the attempt bound. The returned error keeps its taxonomy so callers
// can distinguish tier-unavailable from fatal conditions.
func (a *Adapter) GenerateUnit(ctx context.Context, req Request) (Result, error) {
	attempt := 0
	operation := func() (Result, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, a.attemptTimeout)
		defer cancel()

		res, err := a.gen.Generate(attemptCtx, req)
		if err == nil {
			return res, nil
		}
		if IsTransient(err) {
			a.logger.Warn().Err(err).
				Str("job_id", req.JobID).
				Int("ordinal", req.Ordinal).
				Int("attempt", attempt).
				Msg("generation: transient provider error, retrying")
			return Result{}, err
		}
		return Result{}, backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.initialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, a.maxAttempts-1), ctx)
	return backoff.RetryWithData(operation, policy)
}
