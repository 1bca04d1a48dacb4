package htmldoc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmylchreest/pagewalk/pkg/driver"
	"github.com/jmylchreest/pagewalk/pkg/poll"
)

// readTestdata reads a file from the testdata directory
func readTestdata(t *testing.T, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", filename))
	if err != nil {
		t.Fatalf("failed to read testdata %s: %v", filename, err)
	}
	return string(data)
}

func newFormDriver(t *testing.T) *Driver {
	t.Helper()
	d := New(MapLoader{
		"https://example.com/page/1": readTestdata(t, "form.html"),
		"https://example.com/page/2": `<html><body><h1>Two</h1></body></html>`,
	})
	if err := d.Navigate(context.Background(), "https://example.com/page/1"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	return d
}

func mustQuery(t *testing.T, d *Driver, selector string) driver.Element {
	t.Helper()
	el, err := d.Query(context.Background(), selector)
	if err != nil {
		t.Fatalf("Query(%q) error = %v", selector, err)
	}
	if el == nil {
		t.Fatalf("Query(%q) found nothing", selector)
	}
	return el
}

func TestQuery_AbsentIsNil(t *testing.T) {
	d := newFormDriver(t)
	el, err := d.Query(context.Background(), "#missing")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if el != nil {
		t.Error("expected nil element for no match")
	}
}

func TestQuery_InvalidSelector(t *testing.T) {
	d := newFormDriver(t)
	if _, err := d.QueryAll(context.Background(), "div["); err == nil {
		t.Error("expected error for malformed selector")
	}
}

func TestElement_ScopedQuery(t *testing.T) {
	d := newFormDriver(t)
	form := mustQuery(t, d, "#login")
	inputs, err := form.QueryAll(context.Background(), "input")
	if err != nil {
		t.Fatalf("QueryAll() error = %v", err)
	}
	if len(inputs) != 6 {
		t.Errorf("expected 6 inputs inside form, got %d", len(inputs))
	}
}

func TestElement_TextSkipsHiddenContent(t *testing.T) {
	d, err := FromHTML("https://example.com/", `<html><body>
		<div class="item"><h2>Widget<noscript>Enable JS</noscript></h2>
			<span hidden>internal sku</span><span style="display: none">old price</span>
			<script>var tracking = 1;</script><p>$10</p></div>
		<script type="application/ld+json">{"@type": "Product"}</script>
	</body></html>`)
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}
	ctx := context.Background()

	got, err := driver.TrimmedText(ctx, mustQuery(t, d, ".item"))
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	for _, hidden := range []string{"Enable JS", "internal sku", "old price", "tracking"} {
		if strings.Contains(got, hidden) {
			t.Errorf("Text() = %q, want %q left out", got, hidden)
		}
	}
	if !strings.Contains(got, "Widget") || !strings.Contains(got, "$10") {
		t.Errorf("Text() = %q, want visible text kept", got)
	}

	raw, err := mustQuery(t, d, "script[type='application/ld+json']").Text(ctx)
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if raw != `{"@type": "Product"}` {
		t.Errorf("script Text() = %q, want payload verbatim", raw)
	}

	// the live document is untouched
	if n, _ := d.QueryAll(ctx, ".item noscript, .item [hidden]"); len(n) != 2 {
		t.Errorf("document lost hidden nodes: %d left, want 2", len(n))
	}
}

func TestClick_FollowsResolvedHref(t *testing.T) {
	ctx := context.Background()
	d := newFormDriver(t)

	if err := d.Click(ctx, mustQuery(t, d, "#next")); err != nil {
		t.Fatalf("Click() error = %v", err)
	}
	if d.URL() != "https://example.com/page/2" {
		t.Errorf("expected fragment-free resolved URL, got %q", d.URL())
	}
	h1 := mustQuery(t, d, "h1")
	if text, _ := h1.Text(ctx); text != "Two" {
		t.Errorf("expected second page content, got %q", text)
	}
	if len(d.History()) != 2 {
		t.Errorf("expected 2 history entries, got %v", d.History())
	}
}

func TestClick_NotNavigable(t *testing.T) {
	d := newFormDriver(t)
	for _, sel := range []string{"#prev", "#js", "#noop"} {
		err := d.Click(context.Background(), mustQuery(t, d, sel))
		if !errors.Is(err, driver.ErrNotNavigable) {
			t.Errorf("Click(%s) error = %v, want ErrNotNavigable", sel, err)
		}
	}
	if d.URL() != "https://example.com/page/1" {
		t.Errorf("failed clicks must not navigate, now at %q", d.URL())
	}
}

func TestClick_TogglesInputs(t *testing.T) {
	ctx := context.Background()
	d := newFormDriver(t)

	agree := mustQuery(t, d, "#agree")
	_ = d.Click(ctx, agree)
	if checked, _ := d.IsChecked(ctx, agree); !checked {
		t.Error("expected checkbox checked after click")
	}
	_ = d.Click(ctx, agree)
	if checked, _ := d.IsChecked(ctx, agree); checked {
		t.Error("expected checkbox unchecked after second click")
	}

	r1, r2 := mustQuery(t, d, "#r1"), mustQuery(t, d, "#r2")
	if err := d.Click(ctx, r2); err != nil {
		t.Fatalf("Click() error = %v", err)
	}
	if checked, _ := d.IsChecked(ctx, r1); checked {
		t.Error("selecting r2 should clear r1")
	}
	if checked, _ := d.IsChecked(ctx, r2); !checked {
		t.Error("expected r2 checked")
	}
}

func TestFill(t *testing.T) {
	ctx := context.Background()
	d := newFormDriver(t)

	user := mustQuery(t, d, "#user")
	if err := d.Fill(ctx, user, "alice"); err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	if v, _, _ := user.Attribute(ctx, "value"); v != "alice" {
		t.Errorf("expected value alice, got %q", v)
	}

	bio := mustQuery(t, d, "#bio")
	_ = d.Fill(ctx, bio, "hello")
	if text, _ := bio.Text(ctx); text != "hello" {
		t.Errorf("expected textarea text, got %q", text)
	}

	plan := mustQuery(t, d, "#plan")
	if err := d.Fill(ctx, plan, "Professional"); err != nil {
		t.Fatalf("Fill(select) error = %v", err)
	}
	selected := mustQuery(t, d, "#plan option[selected]")
	if v, _, _ := selected.Attribute(ctx, "value"); v != "pro" {
		t.Errorf("expected pro selected, got %q", v)
	}
	if err := d.Fill(ctx, plan, "enterprise"); err == nil {
		t.Error("expected error for unknown option")
	}

	if err := d.Fill(ctx, mustQuery(t, d, "#shown"), "x"); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("Fill(p) error = %v, want ErrUnsupported", err)
	}
}

func TestIsVisible(t *testing.T) {
	d := newFormDriver(t)
	tests := []struct {
		selector string
		want     bool
	}{
		{"#shown", true},
		{"#user", true},
		{"#banner", false},
		{"#inner", false},
		{"#aria", false},
		{"#token", false},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			got, err := d.IsVisible(context.Background(), mustQuery(t, d, tt.selector))
			if err != nil {
				t.Fatalf("IsVisible() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsVisible(%s) = %v, want %v", tt.selector, got, tt.want)
			}
		})
	}
}

func TestIsEnabled(t *testing.T) {
	d := newFormDriver(t)
	tests := []struct {
		selector string
		want     bool
	}{
		{"#next", true},
		{"#user", true},
		{"#prev", false},
		{"#submit", false},
		{"#locked", false},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			got, err := d.IsEnabled(context.Background(), mustQuery(t, d, tt.selector))
			if err != nil {
				t.Fatalf("IsEnabled() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsEnabled(%s) = %v, want %v", tt.selector, got, tt.want)
			}
		})
	}
}

func TestWaitForSelector(t *testing.T) {
	ctx := context.Background()
	d := newFormDriver(t)

	tests := []struct {
		selector string
		state    driver.WaitState
		ok       bool
	}{
		{"#shown", driver.StateAttached, true},
		{"#shown", driver.StateVisible, true},
		{"#banner", driver.StateVisible, false},
		{"#banner", driver.StateHidden, true},
		{"#missing", driver.StateDetached, true},
		{"#missing", driver.StateAttached, false},
	}
	for _, tt := range tests {
		err := d.WaitForSelector(ctx, tt.selector, tt.state, 0)
		if tt.ok && err != nil {
			t.Errorf("WaitForSelector(%s, %s) error = %v", tt.selector, tt.state, err)
		}
		if !tt.ok && !errors.Is(err, poll.ErrTimedOut) {
			t.Errorf("WaitForSelector(%s, %s) error = %v, want timeout", tt.selector, tt.state, err)
		}
	}
}

func TestNavigate_Errors(t *testing.T) {
	ctx := context.Background()
	d := newFormDriver(t)
	if err := d.Navigate(ctx, "/nowhere"); !errors.Is(err, ErrPageNotFound) {
		t.Errorf("expected ErrPageNotFound, got %v", err)
	}

	static, err := FromHTML("https://example.com/", "<p>x</p>")
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}
	if err := static.Navigate(ctx, "/other"); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported without loader, got %v", err)
	}
}

func TestForeignElement(t *testing.T) {
	a := newFormDriver(t)
	b := newFormDriver(t)
	el := mustQuery(t, a, "#next")
	if err := b.Click(context.Background(), el); !errors.Is(err, driver.ErrForeignElement) {
		t.Errorf("expected ErrForeignElement, got %v", err)
	}
}

func TestPointerUnsupported(t *testing.T) {
	ctx := context.Background()
	d := newFormDriver(t)
	el := mustQuery(t, d, "#user")

	if err := d.ScrollIntoView(ctx, el); err != nil {
		t.Errorf("ScrollIntoView() error = %v, want no-op", err)
	}
	tests := []struct {
		name string
		call func() error
	}{
		{"hover", func() error { return d.Hover(ctx, el) }},
		{"double click", func() error { return d.DoubleClick(ctx, el) }},
		{"right click", func() error { return d.RightClick(ctx, el) }},
		{"drag and drop", func() error { return d.DragAndDrop(ctx, el, el) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, driver.ErrUnsupported) {
				t.Errorf("expected ErrUnsupported, got %v", err)
			}
		})
	}
}

func TestEvaluateUnsupported(t *testing.T) {
	d := newFormDriver(t)
	if _, err := d.Evaluate(context.Background(), "1+1"); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestMapLoader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (MapLoader{"u": "x"}).Load(ctx, "u"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
