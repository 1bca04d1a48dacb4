// Package retry classifies failures as transient or permanent and re-runs
// transient ones with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jmylchreest/pagewalk/internal/logger"
)

// ErrExhausted is matched by every *ExhaustedError.
var ErrExhausted = errors.New("retries exhausted")

// ExhaustedError is returned when an operation still fails with a
// Transient or Unknown error after its whole attempt budget.
type ExhaustedError struct {
	Attempts int
	Class    Classification
	Err      error // last underlying failure
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts (%s): %v", e.Attempts, e.Class, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Attempt describes one failed attempt at a retry boundary.
type Attempt struct {
	Number      int // 1-indexed
	MaxAttempts int // budget for this failure's class
	Class       Classification
	Err         error
	Delay       time.Duration // backoff before the next attempt, 0 when giving up
}

// Policy configures Do and Execute.
type Policy struct {
	// MaxAttempts is the total number of invocations allowed for Transient
	// failures (1 means no retry).
	MaxAttempts int
	// UnknownAttempts caps invocations when the latest failure is Unknown.
	// It never exceeds MaxAttempts.
	UnknownAttempts int
	// BaseDelay and MaxDelay bound the backoff: the delay after the k-th
	// failed attempt is min(BaseDelay * 2^k, MaxDelay).
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter scales each delay by a random factor in [0.5, 1.0].
	Jitter bool

	// Classifier overrides Classify.
	Classifier func(error) Classification
	// Sleep overrides the context-aware backoff sleep (tests inject a
	// recorder here).
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called at each retry boundary after logging.
	OnRetry func(Attempt)
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:     3,
		UnknownAttempts: 2,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
	}
}

func (p *Policy) normalized() Policy {
	d := DefaultPolicy()
	if p == nil {
		return *d
	}
	n := *p
	if n.MaxAttempts < 1 {
		n.MaxAttempts = 1
	}
	if n.UnknownAttempts < 1 {
		n.UnknownAttempts = d.UnknownAttempts
	}
	if n.UnknownAttempts > n.MaxAttempts {
		n.UnknownAttempts = n.MaxAttempts
	}
	if n.BaseDelay < 0 {
		n.BaseDelay = 0
	}
	if n.MaxDelay <= 0 {
		n.MaxDelay = d.MaxDelay
	}
	if n.Classifier == nil {
		n.Classifier = Classify
	}
	if n.Sleep == nil {
		n.Sleep = sleep
	}
	return n
}

// Backoff returns the delay after the k-th failed attempt (k >= 1):
// BaseDelay * 2^k, capped at MaxDelay. Jitter is not applied here.
func (p *Policy) Backoff(k int) time.Duration {
	n := p.normalized()
	return backoff(n.BaseDelay, n.MaxDelay, k)
}

func backoff(base, ceiling time.Duration, k int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < k; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// MaxTotalDelay bounds the time Execute can spend sleeping over its whole
// attempt budget (without jitter, which only shortens delays).
func (p *Policy) MaxTotalDelay() time.Duration {
	n := p.normalized()
	var total time.Duration
	for k := 1; k < n.MaxAttempts; k++ {
		total += backoff(n.BaseDelay, n.MaxDelay, k)
	}
	return total
}

// Operation is a fallible unit of work. It receives the attempt number
// (1-indexed).
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Execute runs op until it succeeds, fails with a Permanent error, or the
// attempt budget for its failure class runs out.
//
//   - Permanent: the original error is returned immediately.
//   - Transient: retried while attempt < MaxAttempts.
//   - Unknown: retried while attempt < UnknownAttempts.
//
// An exhausted budget yields an *ExhaustedError wrapping the last failure.
// A ctx that ends during backoff stops the loop and returns ctx's error
// joined with the last failure.
func Execute[T any](ctx context.Context, p *Policy, op Operation[T]) (T, error) {
	n := p.normalized()
	log := logger.FromContext(ctx)

	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				log.Debug("retry succeeded", "attempt", attempt)
			}
			return v, nil
		}

		class := n.Classifier(err)
		budget := n.MaxAttempts
		if class == Unknown {
			budget = n.UnknownAttempts
		}

		a := Attempt{Number: attempt, MaxAttempts: budget, Class: class, Err: err}

		if class == Permanent {
			log.Info("attempt failed, not retrying",
				"attempt", attempt, "class", class.String(), "error", err)
			return zero, err
		}

		if attempt >= budget {
			log.Warn("retries exhausted",
				"attempt", attempt, "max_attempts", budget, "class", class.String(), "error", err)
			if n.OnRetry != nil {
				n.OnRetry(a)
			}
			return zero, &ExhaustedError{Attempts: attempt, Class: class, Err: err}
		}

		a.Delay = backoff(n.BaseDelay, n.MaxDelay, attempt)
		if n.Jitter && a.Delay > 0 {
			a.Delay = time.Duration(float64(a.Delay) * (0.5 + rand.Float64()/2))
		}

		log.Info("attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", budget,
			"class", class.String(),
			"delay", a.Delay,
			"error", err)
		if n.OnRetry != nil {
			n.OnRetry(a)
		}

		if err := n.Sleep(ctx, a.Delay); err != nil {
			return zero, fmt.Errorf("retry interrupted after attempt %d: %w", attempt, errors.Join(err, a.Err))
		}
	}
}

// Do is Execute for operations without a result.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, p, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
