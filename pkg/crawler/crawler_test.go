package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmylchreest/pagewalk/pkg/driver"
	"github.com/jmylchreest/pagewalk/pkg/driver/htmldoc"
	"github.com/jmylchreest/pagewalk/pkg/extract"
	"github.com/jmylchreest/pagewalk/pkg/retry"
)

const base = "https://shop.example.com/list"

// pageURL returns the address of page n (1-based).
func pageURL(n int) string {
	return fmt.Sprintf("%s?page=%d", base, n)
}

// listingPage renders page n with two items and, when next is non-empty,
// a next control with that markup ("enabled", "disabled" or "hidden").
func listingPage(n int, next string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><ul id="items">`)
	fmt.Fprintf(&b, `<li class="item">p%d-a</li><li class="item">p%d-b</li>`, n, n)
	b.WriteString(`</ul>`)
	switch next {
	case "enabled":
		fmt.Fprintf(&b, `<a class="next" href="?page=%d">Next</a>`, n+1)
	case "disabled":
		fmt.Fprintf(&b, `<a class="next" aria-disabled="true" href="?page=%d">Next</a>`, n+1)
	case "hidden":
		fmt.Fprintf(&b, `<a class="next" style="display:none" href="?page=%d">Next</a>`, n+1)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

// site builds n pages, each with an enabled next control.
func site(n int) htmldoc.MapLoader {
	pages := htmldoc.MapLoader{}
	for i := 1; i <= n; i++ {
		pages[pageURL(i)] = listingPage(i, "enabled")
	}
	return pages
}

func fastPolicy() *retry.Policy {
	return &retry.Policy{
		MaxAttempts:     3,
		UnknownAttempts: 2,
		BaseDelay:       time.Millisecond,
		MaxDelay:        2 * time.Millisecond,
		Sleep:           func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

func testConfig(maxPages int) Config {
	return Config{
		StartURL:          pageURL(1),
		ContainerSelector: "#items",
		NextSelector:      "a.next",
		MaxPages:          maxPages,
		Timeout:           20 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
		SettleTimeout:     time.Second,
		Retry:             fastPolicy(),
	}
}

func itemTexts(res Result) []string {
	out := make([]string, 0, len(res.Items))
	for _, r := range res.Items {
		v, _ := r.Get("text")
		out = append(out, v)
	}
	return out
}

func runCrawl(t *testing.T, page driver.PageDriver, ext Extractor, cfg Config) Result {
	t.Helper()
	c, err := New(page, ext, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c.Run(context.Background())
}

func TestRun_MaxPagesReached(t *testing.T) {
	page := htmldoc.New(site(5))
	res := runCrawl(t, page, ItemTextExtractor(".item", ""), testConfig(3))

	if res.Reason != MaxPagesReached {
		t.Errorf("Reason = %v, want %v", res.Reason, MaxPagesReached)
	}
	if res.Transitions != 2 {
		t.Errorf("expected exactly 2 transitions, got %d", res.Transitions)
	}
	if res.Pages != 3 {
		t.Errorf("expected 3 pages scraped, got %d", res.Pages)
	}
	want := "p1-a,p1-b,p2-a,p2-b,p3-a,p3-b"
	if got := strings.Join(itemTexts(res), ","); got != want {
		t.Errorf("items = %s, want %s", got, want)
	}
	// The next control on the last allowed page is never clicked.
	if h := page.History(); len(h) != 3 || h[2] != pageURL(3) {
		t.Errorf("unexpected navigation history %v", h)
	}
	if res.Err != nil {
		t.Errorf("normal termination must not set Err, got %v", res.Err)
	}
	if res.CrawlID == "" {
		t.Error("expected a crawl id")
	}
}

func TestRun_NoNextControl(t *testing.T) {
	page := htmldoc.New(htmldoc.MapLoader{pageURL(1): listingPage(1, "")})
	res := runCrawl(t, page, ItemTextExtractor(".item", ""), testConfig(10))

	if res.Reason != NoNextControl {
		t.Errorf("Reason = %v, want %v", res.Reason, NoNextControl)
	}
	if res.Pages != 1 || res.Transitions != 0 {
		t.Errorf("expected 1 page and no transitions, got %d/%d", res.Pages, res.Transitions)
	}
	if len(res.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(res.Items))
	}
}

func TestRun_NextControlDisabled(t *testing.T) {
	for _, markup := range []string{"disabled", "hidden"} {
		t.Run(markup, func(t *testing.T) {
			pages := htmldoc.MapLoader{
				pageURL(1): listingPage(1, "enabled"),
				pageURL(2): listingPage(2, markup),
			}
			res := runCrawl(t, htmldoc.New(pages), ItemTextExtractor(".item", ""), testConfig(10))

			if res.Reason != NextControlDisabled {
				t.Errorf("Reason = %v, want %v", res.Reason, NextControlDisabled)
			}
			if res.Pages != 2 || len(res.Items) != 4 {
				t.Errorf("expected 2 pages and 4 items, got %d and %d", res.Pages, len(res.Items))
			}
		})
	}
}

func TestRun_DisabledWinsOverBudget(t *testing.T) {
	pages := htmldoc.MapLoader{pageURL(1): listingPage(1, "disabled")}
	res := runCrawl(t, htmldoc.New(pages), ItemTextExtractor(".item", ""), testConfig(1))
	if res.Reason != NextControlDisabled {
		t.Errorf("Reason = %v, want %v", res.Reason, NextControlDisabled)
	}
}

func TestRun_MaxPagesOne(t *testing.T) {
	page := htmldoc.New(site(3))
	res := runCrawl(t, page, ItemTextExtractor(".item", ""), testConfig(1))
	if res.Reason != MaxPagesReached || res.Transitions != 0 || res.Pages != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRun_ExtractionFailureKeepsPriorPages(t *testing.T) {
	page := htmldoc.New(site(3))
	calls := 0
	ext := ExtractorFunc(func(ctx context.Context, q driver.Querier) (extract.Result, error) {
		calls++
		if calls == 2 {
			return extract.Result{}, errors.New("extractor blew up")
		}
		return extract.ItemTexts(ctx, q, ".item", "")
	})

	res := runCrawl(t, page, ext, testConfig(3))

	if res.Reason != MaxPagesReached {
		t.Errorf("Reason = %v, want %v", res.Reason, MaxPagesReached)
	}
	want := "p1-a,p1-b,p3-a,p3-b"
	if got := strings.Join(itemTexts(res), ","); got != want {
		t.Errorf("items = %s, want %s", got, want)
	}
	if len(res.PageErrors) != 1 || res.PageErrors[0].Page != 1 || res.PageErrors[0].Stage != "extract" {
		t.Errorf("unexpected page errors %v", res.PageErrors)
	}
}

func TestRun_MissingContainerCountsAsEmptyPage(t *testing.T) {
	pages := htmldoc.MapLoader{
		pageURL(1): listingPage(1, "enabled"),
		pageURL(2): `<html><body><p>maintenance</p><a class="next" href="?page=3">Next</a></body></html>`,
		pageURL(3): listingPage(3, ""),
	}
	res := runCrawl(t, htmldoc.New(pages), ItemTextExtractor(".item", ""), testConfig(10))

	if res.Reason != NoNextControl {
		t.Errorf("Reason = %v, want %v", res.Reason, NoNextControl)
	}
	if res.Pages != 3 || len(res.Items) != 4 {
		t.Errorf("expected 3 pages and 4 items, got %d and %d", res.Pages, len(res.Items))
	}
	if len(res.PageErrors) != 1 || res.PageErrors[0].Stage != "wait" {
		t.Errorf("expected one wait error, got %v", res.PageErrors)
	}
}

func TestRun_NavigationExhaustionEndsManual(t *testing.T) {
	pages := site(3)
	var attempts atomic.Int32
	loader := htmldoc.LoaderFunc(func(ctx context.Context, rawURL string) (htmldoc.Page, error) {
		if rawURL == pageURL(2) {
			attempts.Add(1)
			return htmldoc.Page{}, errors.New("net::ERR_CONNECTION_RESET")
		}
		return pages.Load(ctx, rawURL)
	})

	res := runCrawl(t, htmldoc.New(loader), ItemTextExtractor(".item", ""), testConfig(3))

	if res.Reason != Manual {
		t.Errorf("Reason = %v, want %v", res.Reason, Manual)
	}
	if !errors.Is(res.Err, retry.ErrExhausted) {
		t.Errorf("expected exhausted retries in Err, got %v", res.Err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 navigation attempts, got %d", got)
	}
	if len(res.Items) != 2 {
		t.Errorf("page 1 items must survive, got %d", len(res.Items))
	}
	if res.Reason.Normal() {
		t.Error("Manual is not a normal termination")
	}
}

func TestRun_StartNavigationFails(t *testing.T) {
	page := htmldoc.New(htmldoc.MapLoader{})
	res := runCrawl(t, page, ItemTextExtractor(".item", ""), testConfig(3))
	if res.Reason != Manual || res.Err == nil || res.Pages != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	c, err := New(htmldoc.New(site(3)), ItemTextExtractor(".item", ""), testConfig(3))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := c.Run(ctx)
	if res.Reason != Manual || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected Manual with context.Canceled, got %v / %v", res.Reason, res.Err)
	}
}

func TestRun_CurrentPageWithoutStartURL(t *testing.T) {
	page := htmldoc.New(site(2))
	if err := page.Navigate(context.Background(), pageURL(1)); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	cfg := testConfig(5)
	cfg.StartURL = ""

	res := runCrawl(t, page, ItemTextExtractor(".item", ""), cfg)
	// Page 2 links to a page 3 that does not exist: 404 is permanent.
	if res.Reason != Manual || res.Pages != 2 {
		t.Errorf("unexpected result reason=%v pages=%d err=%v", res.Reason, res.Pages, res.Err)
	}
	if !errors.Is(res.Err, htmldoc.ErrPageNotFound) {
		t.Errorf("expected page not found, got %v", res.Err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	page := htmldoc.New(site(1))
	ext := ItemTextExtractor(".item", "")

	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"zero max pages", func(c *Config) { c.MaxPages = 0 }},
		{"no container", func(c *Config) { c.ContainerSelector = "" }},
		{"no next", func(c *Config) { c.NextSelector = "" }},
		{"bad url", func(c *Config) { c.StartURL = "not a url" }},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(3)
			tt.mod(&cfg)
			if _, err := New(page, ext, cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, err := New(nil, ext, testConfig(3)); err == nil {
		t.Error("expected error for nil page")
	}
	if _, err := New(page, nil, testConfig(3)); err == nil {
		t.Error("expected error for nil extractor")
	}
}

func TestRunAll_IndependentCrawls(t *testing.T) {
	jobs := make([]Job, 4)
	for i := range jobs {
		jobs[i] = Job{
			Page:      htmldoc.New(site(i + 1)),
			Extractor: ItemTextExtractor(".item", ""),
			Config:    testConfig(i + 1),
		}
	}

	results, err := RunAll(context.Background(), jobs, 2)
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	for i, res := range results {
		if res.Reason != MaxPagesReached {
			t.Errorf("job %d: Reason = %v", i, res.Reason)
		}
		if res.Pages != i+1 || len(res.Items) != 2*(i+1) {
			t.Errorf("job %d: pages=%d items=%d", i, res.Pages, len(res.Items))
		}
	}
}

func TestRunAll_InvalidJob(t *testing.T) {
	jobs := []Job{{Page: htmldoc.New(site(1)), Extractor: ItemTextExtractor(".item", ""), Config: Config{}}}
	if _, err := RunAll(context.Background(), jobs, 1); err == nil {
		t.Error("expected error for invalid job")
	}
}

func TestRun_PageDelaySpacesTransitions(t *testing.T) {
	cfg := testConfig(3)
	cfg.PageDelay = 30 * time.Millisecond

	start := time.Now()
	res := runCrawl(t, htmldoc.New(site(3)), ItemTextExtractor(".item", ""), cfg)
	if res.Transitions != 2 {
		t.Fatalf("expected 2 transitions, got %d", res.Transitions)
	}
	// The first transition uses the initial token; the second waits.
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("expected transitions to be spaced, crawl took %v", elapsed)
	}
}

func TestReason_Text(t *testing.T) {
	for _, r := range []Reason{MaxPagesReached, NoNextControl, NextControlDisabled, Manual} {
		text, err := r.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText() error = %v", err)
		}
		var back Reason
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s) error = %v", text, err)
		}
		if back != r {
			t.Errorf("round trip %v -> %s -> %v", r, text, back)
		}
	}
	var r Reason
	if err := r.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown reason")
	}
}
