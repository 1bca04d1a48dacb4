package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pagewalk/internal/config"
	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/crawler"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl URL...",
	Short: "Walk paginated results and extract records from every page",
	Long: `Crawl opens each URL, extracts records from the page, clicks the
"next" control, and repeats until the page budget is spent or the control
is missing, hidden or disabled.

Extraction modes:
  listing  one record per --item block, fields located by fallback selectors
  table    one record per table row, keyed by the header cells
  items    one record per --item block holding its text

Several URLs are crawled independently, each on its own page.

Examples:
  pagewalk crawl https://shop.example.com/search?q=kettle \
      --container "#results" --item ".product" --next "a[rel=next]"

  pagewalk crawl https://example.com/report --mode table \
      --container "table" --next ".pager .next" --max-pages 3 --format csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCrawl,
}

var crawlBindings = map[string]string{
	"crawl.container_selector": "container",
	"crawl.next_selector":      "next",
	"crawl.max_pages":          "max-pages",
	"crawl.timeout":            "timeout",
	"crawl.settle_timeout":     "settle-timeout",
	"crawl.page_delay":         "page-delay",
	"crawl.concurrency":        "concurrency",
	"retry.max_attempts":       "max-attempts",
	"extract.mode":             "mode",
	"extract.item_selector":    "item",
	"extract.item_field":       "item-field",
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	flags := crawlCmd.Flags()

	// Page structure
	flags.String("container", "", "selector waited for before each page is scraped")
	flags.String("next", "", "selector of the next-page control")
	flags.String("mode", config.ModeListing, "extraction mode: listing, table, items")
	flags.String("item", "", "selector of one item block (listing and items modes)")
	flags.String("item-field", "text", "field name for item text (items mode)")

	// Limits and pacing
	flags.Int("max-pages", 5, "maximum number of pages to scrape")
	flags.Duration("timeout", 30*time.Second, "container wait per attempt")
	flags.Duration("settle-timeout", 10*time.Second, "network idle wait after each click")
	flags.Duration("page-delay", 0, "minimum delay between page transitions")
	flags.IntP("concurrency", "c", 1, "URLs crawled at once")
	flags.Int("max-attempts", 3, "attempts per browser interaction")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, crawlBindings)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	seeds := crawler.DedupeSeeds(args)
	if len(seeds) == 0 {
		return fmt.Errorf("no valid URLs in %v", args)
	}
	logger.Debug("seeds", "count", len(seeds), "urls", seeds)

	ext, err := cfg.Extractor()
	if err != nil {
		return err
	}

	p, err := newPages(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	jobs := make([]crawler.Job, 0, len(seeds))
	for _, seed := range seeds {
		page, err := p.open(ctx)
		if err != nil {
			return fmt.Errorf("open page for %s: %w", seed, err)
		}
		jobs = append(jobs, crawler.Job{
			Page:      page,
			Extractor: ext,
			Config:    cfg.CrawlerConfig(seed),
		})
	}

	results, err := crawler.RunAll(ctx, jobs, cfg.Crawl.Concurrency)
	if err != nil {
		return err
	}

	w, closeOut, err := openWriter(cfg)
	if err != nil {
		return err
	}

	var items, failed int
	for i, res := range results {
		if err := w.WriteAll(res.Items); err != nil {
			_ = closeOut()
			return fmt.Errorf("write output: %w", err)
		}
		items += len(res.Items)
		report(seeds[i], res)
		if res.Err != nil {
			failed++
		}
	}
	if err := closeOut(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	logInfo("Extracted %d records from %d URL(s)", items, len(seeds))
	if failed == len(results) && items == 0 {
		return fmt.Errorf("all %d crawls failed", failed)
	}
	return nil
}

func report(seed string, res crawler.Result) {
	log := logger.With("crawl_id", res.CrawlID, "url", seed)
	log.Info("crawl finished",
		"reason", res.Reason,
		"pages", res.Pages,
		"items", len(res.Items),
		"skipped", len(res.Skipped),
		"duration", res.Duration.Round(time.Millisecond))

	for _, pe := range res.PageErrors {
		log.Warn("page failed", "page", pe.Page, "stage", pe.Stage, "error", pe.Err)
	}
	for _, s := range res.Skipped {
		log.Debug("item skipped", "skip", s.String())
	}
	if res.Err != nil {
		log.Warn("crawl stopped early", "error", res.Err)
	}
	logInfo("%s: %d pages, %d records (%s)", seed, res.Pages, len(res.Items), res.Reason)
}
