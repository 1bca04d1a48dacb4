// Package wait builds poll predicates over a driver.PageDriver and runs
// them with a timeout. Every predicate treats a driver error as "not yet".
package wait

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmylchreest/pagewalk/pkg/driver"
	"github.com/jmylchreest/pagewalk/pkg/poll"
)

// DefaultTimeout applies when a helper is given a non-positive timeout.
const DefaultTimeout = 30 * time.Second

// SelectorPresent is satisfied once selector matches at least one node.
func SelectorPresent(d driver.Querier, selector string) poll.Predicate {
	return func(ctx context.Context) bool {
		el, err := d.Query(ctx, selector)
		return err == nil && el != nil
	}
}

// SelectorAbsent is satisfied once selector matches nothing.
func SelectorAbsent(d driver.Querier, selector string) poll.Predicate {
	return func(ctx context.Context) bool {
		el, err := d.Query(ctx, selector)
		return err == nil && el == nil
	}
}

// SelectorVisible is satisfied once the first match is visible.
func SelectorVisible(d driver.PageDriver, selector string) poll.Predicate {
	return func(ctx context.Context) bool {
		el, err := d.Query(ctx, selector)
		if err != nil || el == nil {
			return false
		}
		visible, err := d.IsVisible(ctx, el)
		return err == nil && visible
	}
}

// SelectorHidden is satisfied once no match is visible, including when
// nothing matches.
func SelectorHidden(d driver.PageDriver, selector string) poll.Predicate {
	return func(ctx context.Context) bool {
		els, err := d.QueryAll(ctx, selector)
		if err != nil {
			return false
		}
		for _, el := range els {
			visible, err := d.IsVisible(ctx, el)
			if err != nil || visible {
				return false
			}
		}
		return true
	}
}

// State returns the predicate for selector reaching state; it backs
// PageDriver.WaitForSelector in the browser drivers.
func State(d driver.PageDriver, selector string, state driver.WaitState) poll.Predicate {
	switch state {
	case driver.StateDetached:
		return SelectorAbsent(d, selector)
	case driver.StateVisible:
		return SelectorVisible(d, selector)
	case driver.StateHidden:
		return SelectorHidden(d, selector)
	default:
		return SelectorPresent(d, selector)
	}
}

// TextPresent is satisfied once the text of the body contains text.
func TextPresent(d driver.Querier, text string) poll.Predicate {
	return func(ctx context.Context) bool {
		body, err := d.Query(ctx, "body")
		if err != nil || body == nil {
			return false
		}
		s, err := body.Text(ctx)
		return err == nil && strings.Contains(s, text)
	}
}

// URLMatches is satisfied once the page location matches pattern. The
// location is read through script evaluation, or through a URL() method
// when the driver has one.
func URLMatches(d driver.PageDriver, pattern *regexp.Regexp) poll.Predicate {
	return func(ctx context.Context) bool {
		u, err := CurrentURL(ctx, d)
		return err == nil && pattern.MatchString(u)
	}
}

// ScriptTruthy is satisfied once script evaluates to a truthy value.
func ScriptTruthy(d driver.PageDriver, script string) poll.Predicate {
	return func(ctx context.Context) bool {
		v, err := d.Evaluate(ctx, script)
		return err == nil && truthy(v)
	}
}

// All is satisfied when every predicate is, evaluated in order.
func All(preds ...poll.Predicate) poll.Predicate {
	return func(ctx context.Context) bool {
		for _, p := range preds {
			if !p(ctx) {
				return false
			}
		}
		return true
	}
}

type urlReporter interface {
	URL() string
}

// CurrentURL returns the page location.
func CurrentURL(ctx context.Context, d driver.PageDriver) (string, error) {
	if r, ok := d.(urlReporter); ok {
		return r.URL(), nil
	}
	v, err := d.Evaluate(ctx, "window.location.href")
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("location is %T, not a string", v)
	}
	return s, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// For waits for pred and returns a *poll.TimeoutError naming what when it
// does not hold within timeout.
func For(ctx context.Context, what string, pred poll.Predicate, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	_, err := poll.Require(ctx, what, pred, timeout, poll.DefaultInterval)
	return err
}

// ForVisible waits until selector is visible.
func ForVisible(ctx context.Context, d driver.PageDriver, selector string, timeout time.Duration) error {
	return For(ctx, fmt.Sprintf("%q visible", selector), SelectorVisible(d, selector), timeout)
}

// ForHidden waits until selector is hidden or gone.
func ForHidden(ctx context.Context, d driver.PageDriver, selector string, timeout time.Duration) error {
	return For(ctx, fmt.Sprintf("%q hidden", selector), SelectorHidden(d, selector), timeout)
}

// ForText waits until the page body contains text.
func ForText(ctx context.Context, d driver.PageDriver, text string, timeout time.Duration) error {
	return For(ctx, fmt.Sprintf("text %q", text), TextPresent(d, text), timeout)
}

// ForURL waits until the page location matches pattern.
func ForURL(ctx context.Context, d driver.PageDriver, pattern string, timeout time.Duration) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid url pattern: %w", err)
	}
	return For(ctx, fmt.Sprintf("url ~ %q", pattern), URLMatches(d, re), timeout)
}

// ForScript waits until script evaluates truthy.
func ForScript(ctx context.Context, d driver.PageDriver, script string, timeout time.Duration) error {
	return For(ctx, "script condition", ScriptTruthy(d, script), timeout)
}
