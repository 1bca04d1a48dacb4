// Package crawler walks a paginated listing: it scrapes the current page,
// clicks the next control and repeats until the pages run out.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/driver"
	"github.com/jmylchreest/pagewalk/pkg/extract"
	"github.com/jmylchreest/pagewalk/pkg/poll"
	"github.com/jmylchreest/pagewalk/pkg/retry"
	"github.com/jmylchreest/pagewalk/pkg/wait"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config holds crawler configuration.
type Config struct {
	// Navigation
	StartURL          string `validate:"omitempty,url"` // empty crawls from the driver's current page
	ContainerSelector string `validate:"required"`      // waited for before each page is scraped
	NextSelector      string `validate:"required"`      // the "next page" control

	// Limits
	MaxPages int `validate:"gte=1"`

	// Waits
	Timeout       time.Duration `validate:"gte=0"` // container wait per attempt
	PollInterval  time.Duration `validate:"gte=0"`
	SettleTimeout time.Duration `validate:"gte=0"` // network idle after each click

	// Rate limiting
	PageDelay time.Duration `validate:"gte=0"` // minimum spacing between page transitions

	Retry *retry.Policy
}

// DefaultConfig returns sensible crawler defaults.
func DefaultConfig() Config {
	return Config{
		MaxPages:      5,
		Timeout:       30 * time.Second,
		PollInterval:  poll.DefaultInterval,
		SettleTimeout: 10 * time.Second,
		Retry:         retry.DefaultPolicy(),
	}
}

var validate = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid crawler config: %w", err)
	}
	return nil
}

// PageError records a failure absorbed while scraping one page.
type PageError struct {
	Page  int    // zero-based page index
	Stage string // "wait" or "extract"
	Err   error
}

func (e PageError) Error() string {
	return fmt.Sprintf("page %d %s: %v", e.Page+1, e.Stage, e.Err)
}

func (e PageError) Unwrap() error { return e.Err }

// Result is the outcome of a crawl. Items holds every record collected,
// in page order, whatever the Reason.
type Result struct {
	CrawlID     string
	Items       []extract.Record
	Skipped     []extract.Skip
	Pages       int // pages scraped
	Transitions int // next-control clicks that succeeded
	Reason      Reason
	PageErrors  []PageError
	Err         error // why a Manual crawl stopped
	Duration    time.Duration
}

// Crawler orchestrates a single pagination walk over one page.
type Crawler struct {
	page      driver.PageDriver
	extractor Extractor
	config    Config
	policy    *retry.Policy
	limiter   *rate.Limiter
}

// New creates a Crawler. The page and its crawl state belong to the
// returned Crawler until Run returns.
func New(page driver.PageDriver, ext Extractor, cfg Config) (*Crawler, error) {
	if page == nil {
		return nil, errors.New("crawler: page driver is required")
	}
	if ext == nil {
		return nil, errors.New("crawler: extractor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = poll.DefaultInterval
	}
	policy := cfg.Retry
	if policy == nil {
		policy = retry.DefaultPolicy()
	}

	c := &Crawler{page: page, extractor: ext, config: cfg, policy: policy}
	if cfg.PageDelay > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.PageDelay), 1)
	}
	return c, nil
}

// Run walks the pages. Running out of pages is a normal result, not an
// error; a crawl cut short ends with Reason Manual and Result.Err set,
// still carrying every item scraped before it stopped.
func (c *Crawler) Run(ctx context.Context) Result {
	start := time.Now()
	res := Result{CrawlID: uuid.NewString()}
	log := logger.FromContext(ctx).With("crawl_id", res.CrawlID)
	ctx = logger.WithContext(ctx, log)

	log.Debug("crawler starting",
		"start_url", c.config.StartURL,
		"container", c.config.ContainerSelector,
		"next", c.config.NextSelector,
		"max_pages", c.config.MaxPages)

	stop := func(reason Reason, err error) Result {
		res.Reason = reason
		res.Err = err
		res.Duration = time.Since(start)
		log.Info("crawl finished",
			"reason", reason,
			"pages", res.Pages,
			"items", len(res.Items),
			"page_errors", len(res.PageErrors),
			"duration", res.Duration.Round(time.Millisecond))
		if err != nil {
			log.Warn("crawl stopped early", "error", err)
		}
		return res
	}

	// Init
	if c.config.StartURL != "" {
		err := c.policy.Do(ctx, func(ctx context.Context) error {
			return c.page.Navigate(ctx, c.config.StartURL)
		})
		if err != nil {
			return stop(Manual, fmt.Errorf("open %s: %w", c.config.StartURL, err))
		}
	}

	for pageIndex := 0; ; pageIndex++ {
		if err := ctx.Err(); err != nil {
			return stop(Manual, err)
		}

		c.scrapePage(ctx, pageIndex, &res)

		reason, err := c.checkNext(ctx, pageIndex)
		if err != nil {
			return stop(Manual, err)
		}
		if reason != 0 {
			return stop(reason, nil)
		}

		if err := c.advance(ctx, pageIndex); err != nil {
			return stop(Manual, err)
		}
		res.Transitions++
	}
}

// scrapePage waits for the container and extracts the page. Both failures
// are recorded and the page counts as empty.
func (c *Crawler) scrapePage(ctx context.Context, pageIndex int, res *Result) {
	log := logger.FromContext(ctx).With("page", pageIndex+1)
	log.Debug("crawler state", "state", StateScrapingPage)
	res.Pages++

	err := c.policy.Do(ctx, func(ctx context.Context) error {
		_, err := poll.Require(ctx, fmt.Sprintf("container %q", c.config.ContainerSelector),
			wait.SelectorPresent(c.page, c.config.ContainerSelector),
			c.config.Timeout, c.config.PollInterval)
		if err != nil && ctx.Err() == nil {
			// The page may still be loading.
			return retry.MarkTransient(err)
		}
		return err
	})
	if err != nil {
		log.Info("container never appeared", "error", err)
		res.PageErrors = append(res.PageErrors, PageError{Page: pageIndex, Stage: "wait", Err: err})
		return
	}

	extractStart := time.Now()
	out, err := c.extractor.Extract(ctx, c.page)
	if err != nil {
		log.Info("extraction failed", "error", err)
		res.PageErrors = append(res.PageErrors, PageError{Page: pageIndex, Stage: "extract", Err: err})
		return
	}
	res.Items = append(res.Items, out.Records...)
	res.Skipped = append(res.Skipped, out.Skipped...)
	log.Info("page scraped",
		"items", len(out.Records),
		"skipped", len(out.Skipped),
		"extract", time.Since(extractStart).Round(time.Millisecond))
}

type nextControl struct {
	present bool
	visible bool
	enabled bool
}

// checkNext applies the transition rules in order and returns a non-zero
// Reason when the crawl should stop. The page budget is checked after the
// control so the reported reason reflects the page, but always before any
// click.
func (c *Crawler) checkNext(ctx context.Context, pageIndex int) (Reason, error) {
	log := logger.FromContext(ctx).With("page", pageIndex+1)
	log.Debug("crawler state", "state", StateCheckingNext)

	next, err := retry.Execute(ctx, c.policy, func(ctx context.Context, _ int) (nextControl, error) {
		el, err := c.page.Query(ctx, c.config.NextSelector)
		if err != nil || el == nil {
			return nextControl{}, err
		}
		visible, err := c.page.IsVisible(ctx, el)
		if err != nil {
			return nextControl{}, err
		}
		enabled, err := c.page.IsEnabled(ctx, el)
		if err != nil {
			return nextControl{}, err
		}
		return nextControl{present: true, visible: visible, enabled: enabled}, nil
	})
	if err != nil {
		return 0, fmt.Errorf("check next control on page %d: %w", pageIndex+1, err)
	}

	switch {
	case !next.present:
		log.Debug("no next control")
		return NoNextControl, nil
	case !next.visible || !next.enabled:
		log.Debug("next control disabled", "visible", next.visible, "enabled", next.enabled)
		return NextControlDisabled, nil
	case pageIndex+1 >= c.config.MaxPages:
		log.Debug("page budget spent", "max_pages", c.config.MaxPages)
		return MaxPagesReached, nil
	}
	return 0, nil
}

// ErrNextControlGone is returned when the next control disappears between
// the check and the click.
var ErrNextControlGone = errors.New("next control disappeared")

// advance clicks the next control and waits for the page to settle. The
// control is re-located on every attempt since a failed click may have
// replaced it.
func (c *Crawler) advance(ctx context.Context, pageIndex int) error {
	log := logger.FromContext(ctx).With("page", pageIndex+1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("page delay: %w", err)
		}
	}

	err := c.policy.Do(ctx, func(ctx context.Context) error {
		el, err := c.page.Query(ctx, c.config.NextSelector)
		if err != nil {
			return err
		}
		if el == nil {
			return retry.MarkTransient(ErrNextControlGone)
		}
		return c.page.Click(ctx, el)
	})
	if err != nil {
		return fmt.Errorf("advance from page %d: %w", pageIndex+1, err)
	}

	if err := c.page.WaitForNetworkIdle(ctx, c.config.SettleTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("page did not settle", "timeout", c.config.SettleTimeout, "error", err)
	}
	log.Info("pagination", "to_page", pageIndex+2)
	return nil
}

// Job is one independent crawl for RunAll.
type Job struct {
	Page      driver.PageDriver
	Extractor Extractor
	Config    Config
}

// RunAll runs independent crawls with at most concurrency in flight
// (unbounded when concurrency < 1). Each job must own its page. Results
// are returned in job order; an error is returned only when a job is
// invalid, before any crawl starts.
func RunAll(ctx context.Context, jobs []Job, concurrency int) ([]Result, error) {
	crawlers := make([]*Crawler, len(jobs))
	for i, j := range jobs {
		c, err := New(j.Page, j.Extractor, j.Config)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		crawlers[i] = c
	}

	results := make([]Result, len(jobs))
	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, c := range crawlers {
		g.Go(func() error {
			results[i] = c.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}
