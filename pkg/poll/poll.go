// Package poll implements a bounded condition wait.
//
// Until evaluates a predicate on a fixed interval until it reports true or a
// deadline passes. It never touches a browser itself: the predicate is the
// only thing that may call into a driver, which keeps the poller usable for
// any wait (DOM state, URL pattern, script result, network quiescence).
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/pagewalk/internal/logger"
)

// DefaultInterval is used when Until is given a non-positive interval.
const DefaultInterval = 100 * time.Millisecond

// Predicate reports whether the awaited condition holds. It is evaluated
// repeatedly and must be safe to call any number of times.
type Predicate func(ctx context.Context) bool

// Status is the terminal state of a poll.
type Status int

const (
	// Satisfied means the predicate returned true before the deadline.
	Satisfied Status = iota + 1
	// TimedOut means the deadline passed (or ctx ended) first.
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Satisfied:
		return "satisfied"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single Until call.
type Outcome struct {
	Status      Status
	Elapsed     time.Duration
	Evaluations int
}

// Satisfied reports whether the condition became true.
func (o Outcome) Satisfied() bool { return o.Status == Satisfied }

// TimedOut reports whether the deadline passed first.
func (o Outcome) TimedOut() bool { return o.Status == TimedOut }

// Until evaluates pred until it returns true or timeout elapses, sleeping
// interval between evaluations. With timeout <= 0 the predicate is evaluated
// exactly once and Until returns without sleeping.
//
// The effective deadline is the earlier of now+timeout and ctx's deadline;
// a cancelled ctx ends the wait at the next tick with TimedOut.
func Until(ctx context.Context, pred Predicate, timeout, interval time.Duration) Outcome {
	start := time.Now()
	if interval <= 0 {
		interval = DefaultInterval
	}

	var out Outcome
	if timeout <= 0 {
		out.Evaluations = 1
		out.Status = TimedOut
		if pred(ctx) {
			out.Status = Satisfied
		}
		out.Elapsed = time.Since(start)
		return out
	}

	deadline := start.Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for {
		out.Evaluations++
		if pred(ctx) {
			out.Status = Satisfied
			out.Elapsed = time.Since(start)
			return out
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			break
		}

		wait := interval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}

		if ctx.Err() != nil || !time.Now().Before(deadline) {
			break
		}
	}

	out.Status = TimedOut
	out.Elapsed = time.Since(start)
	logger.FromContext(ctx).Debug("poll timed out",
		"timeout", timeout,
		"evaluations", out.Evaluations,
		"elapsed", out.Elapsed.Round(time.Millisecond))
	return out
}

// ErrTimedOut is matched by every *TimeoutError.
var ErrTimedOut = errors.New("condition wait timed out")

// TimeoutError reports a poll that ended in TimedOut. Its message contains
// "timed out" so retry classification treats it as transient.
type TimeoutError struct {
	What    string
	Timeout time.Duration
	Outcome Outcome
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s (%d checks)",
		e.Timeout, e.What, e.Outcome.Evaluations)
}

// Is reports whether target is ErrTimedOut.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimedOut }

// Require runs Until and converts a TimedOut outcome into a *TimeoutError.
// It is the bridge for callers that treat an expired wait as a failure,
// typically inside a retry loop.
func Require(ctx context.Context, what string, pred Predicate, timeout, interval time.Duration) (Outcome, error) {
	out := Until(ctx, pred, timeout, interval)
	if out.TimedOut() {
		return out, &TimeoutError{What: what, Timeout: timeout, Outcome: out}
	}
	return out, nil
}
