// Package driver defines the browser page capability consumed by pagewalk.
//
// A PageDriver is a handle on one controllable page (a tab, a CDP target
// or an in-memory document). Implementations live in the sub-packages
// chromedriver (chromedp), roddriver (go-rod) and htmldoc (goquery). Every
// core operation receives its PageDriver explicitly; nothing in pagewalk
// keeps a process-wide "current page".
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WaitState is the element state WaitForSelector waits for.
type WaitState string

const (
	// StateAttached waits until the selector matches at least one node.
	StateAttached WaitState = "attached"
	// StateDetached waits until the selector matches nothing.
	StateDetached WaitState = "detached"
	// StateVisible waits until the first match is rendered and visible.
	StateVisible WaitState = "visible"
	// StateHidden waits until no match is visible (or none exists).
	StateHidden WaitState = "hidden"
)

// ParseWaitState converts a config string into a WaitState.
func ParseWaitState(s string) (WaitState, error) {
	switch WaitState(s) {
	case StateAttached, StateDetached, StateVisible, StateHidden:
		return WaitState(s), nil
	case "":
		return StateAttached, nil
	default:
		return "", fmt.Errorf("unknown wait state: %q", s)
	}
}

// Element is an opaque reference to a node on the page. It supports the
// scoped reads the extractors need: text, attributes and nested queries.
//
// Text is the rendered text of the node, leaving out hidden descendants.
// Raw-text elements (script, style, noscript, template) return their
// source verbatim, which is what the JSON-LD reader needs.
//
// Query returns (nil, nil) when nothing matches; absence is not an error.
type Element interface {
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (value string, ok bool, err error)
	Query(ctx context.Context, selector string) (Element, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// Querier is the read-only part of a page. Extractors only need this.
type Querier interface {
	// Query returns the first element matching selector, or (nil, nil).
	Query(ctx context.Context, selector string) (Element, error)
	// QueryAll returns every element matching selector in document order.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// PageDriver is a controllable browser page. All methods may fail with
// transient network-style errors; callers wrap them with retry.Policy.
type PageDriver interface {
	Querier

	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, el Element) error
	Fill(ctx context.Context, el Element, value string) error
	IsVisible(ctx context.Context, el Element) (bool, error)
	IsEnabled(ctx context.Context, el Element) (bool, error)
	IsChecked(ctx context.Context, el Element) (bool, error)
	WaitForSelector(ctx context.Context, selector string, state WaitState, timeout time.Duration) error
	WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error
	Evaluate(ctx context.Context, script string) (any, error)
}

// Error types for distinguishing driver failures.
// Check with errors.Is(err, driver.ErrUnsupported).
var (
	// ErrUnsupported indicates the backend cannot perform the operation
	// (for example script evaluation on a static document).
	ErrUnsupported = errors.New("operation unsupported by driver")
	// ErrNotNavigable indicates a click target has no navigation effect
	// the backend can follow.
	ErrNotNavigable = errors.New("element is not navigable")
	// ErrForeignElement indicates an Element created by a different backend.
	ErrForeignElement = errors.New("element belongs to another driver")
	// ErrDetached indicates the element was removed from the page, usually
	// by a navigation or re-render. Query it again.
	ErrDetached = errors.New("element is detached from the page")
)

// TrimmedText returns the element text with surrounding whitespace removed.
func TrimmedText(ctx context.Context, el Element) (string, error) {
	s, err := el.Text(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}
