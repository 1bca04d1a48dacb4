package wait

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jmylchreest/pagewalk/pkg/driver"
	"github.com/jmylchreest/pagewalk/pkg/driver/htmldoc"
	"github.com/jmylchreest/pagewalk/pkg/poll"
)

const page = `<html><body>
	<div id="spinner" style="display:none">Loading</div>
	<ul id="results"><li>one</li><li>two</li></ul>
	<p hidden class="note">n</p>
	<p>All results loaded</p>
</body></html>`

func newPage(t *testing.T) *htmldoc.Driver {
	t.Helper()
	d, err := htmldoc.FromHTML("https://example.com/search?q=x", page)
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}
	return d
}

func TestPredicates(t *testing.T) {
	ctx := context.Background()
	d := newPage(t)

	tests := []struct {
		name string
		pred poll.Predicate
		want bool
	}{
		{"present", SelectorPresent(d, "#results li"), true},
		{"present missing", SelectorPresent(d, "#nope"), false},
		{"absent", SelectorAbsent(d, "#nope"), true},
		{"visible", SelectorVisible(d, "#results"), true},
		{"visible hidden", SelectorVisible(d, "#spinner"), false},
		{"hidden", SelectorHidden(d, "#spinner"), true},
		{"hidden missing", SelectorHidden(d, "#nope"), true},
		{"hidden class", SelectorHidden(d, ".note"), true},
		{"hidden visible", SelectorHidden(d, "#results"), false},
		{"text", TextPresent(d, "results loaded"), true},
		{"text missing", TextPresent(d, "no results"), false},
		{"text hidden", TextPresent(d, "Loading"), false},
		{"url", URLMatches(d, regexp.MustCompile(`/search\?q=`)), true},
		{"url mismatch", URLMatches(d, regexp.MustCompile(`/cart`)), false},
		{"script unsupported", ScriptTruthy(d, "true"), false},
		{"all", All(SelectorPresent(d, "ul"), TextPresent(d, "two")), true},
		{"all one false", All(SelectorPresent(d, "ul"), SelectorPresent(d, "table")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(ctx); got != tt.want {
				t.Errorf("predicate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{float64(0), false},
		{float64(2), true},
		{"", false},
		{"x", true},
		{map[string]any{}, true},
	}
	for _, tt := range tests {
		if got := truthy(tt.v); got != tt.want {
			t.Errorf("truthy(%#v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestForVisible_TimesOut(t *testing.T) {
	d := newPage(t)
	start := time.Now()
	err := ForVisible(context.Background(), d, "#spinner", 150*time.Millisecond)
	if !errors.Is(err, poll.ErrTimedOut) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("wait ran far past its timeout: %v", elapsed)
	}
}

func TestForHelpers_Succeed(t *testing.T) {
	ctx := context.Background()
	d := newPage(t)
	if err := ForHidden(ctx, d, "#spinner", time.Second); err != nil {
		t.Errorf("ForHidden() error = %v", err)
	}
	if err := ForText(ctx, d, "one", time.Second); err != nil {
		t.Errorf("ForText() error = %v", err)
	}
	if err := ForURL(ctx, d, `example\.com`, time.Second); err != nil {
		t.Errorf("ForURL() error = %v", err)
	}
}

func TestForURL_InvalidPattern(t *testing.T) {
	if err := ForURL(context.Background(), newPage(t), "[", time.Second); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

// scriptDriver evaluates scripts from a fixed table.
type scriptDriver struct {
	driver.PageDriver
	results map[string]any
}

func (s scriptDriver) Evaluate(_ context.Context, script string) (any, error) {
	v, ok := s.results[script]
	if !ok {
		return nil, driver.ErrUnsupported
	}
	return v, nil
}

func TestCurrentURL_FromScript(t *testing.T) {
	d := scriptDriver{results: map[string]any{"window.location.href": "https://example.com/a"}}
	got, err := CurrentURL(context.Background(), d)
	if err != nil {
		t.Fatalf("CurrentURL() error = %v", err)
	}
	if got != "https://example.com/a" {
		t.Errorf("CurrentURL() = %q", got)
	}
	if err := ForScript(context.Background(), scriptDriver{results: map[string]any{"ready": true}}, "ready", time.Second); err != nil {
		t.Errorf("ForScript() error = %v", err)
	}
}
