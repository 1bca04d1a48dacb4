// Package chromedriver implements driver.PageDriver on headless Chrome
// through chromedp.
//
// Elements are held in a per-document registry inside the page, so an
// Element stays valid until its node is removed or the page navigates;
// after that every operation on it fails with driver.ErrDetached.
package chromedriver

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/jmylchreest/pagewalk/internal/logger"
)

// Chrome user agent for better compatibility
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Options configures the browser.
type Options struct {
	ExecPath      string        // Chrome binary; FindChromePath when empty
	Headful       bool          // show the browser window
	Stealth       bool          // anti-detection flags and script
	UserAgent     string
	WindowWidth   int
	WindowHeight  int
	ActionTimeout time.Duration // applies to calls whose context has no deadline
	QuietPeriod   time.Duration // network silence that counts as idle
	LogRequests   bool          // log every request and response
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		UserAgent:     defaultUserAgent,
		WindowWidth:   1920,
		WindowHeight:  1080,
		ActionTimeout: 30 * time.Second,
		QuietPeriod:   500 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.UserAgent == "" {
		o.UserAgent = def.UserAgent
	}
	if o.WindowWidth == 0 || o.WindowHeight == 0 {
		o.WindowWidth, o.WindowHeight = def.WindowWidth, def.WindowHeight
	}
	if o.ActionTimeout == 0 {
		o.ActionTimeout = def.ActionTimeout
	}
	if o.QuietPeriod == 0 {
		o.QuietPeriod = def.QuietPeriod
	}
	return o
}

func allocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", !o.Headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(o.WindowWidth, o.WindowHeight),
		chromedp.UserAgent(o.UserAgent),
	)
	if o.Stealth {
		opts = append(opts, stealthFlags()...)
	}

	execPath := o.ExecPath
	if execPath == "" {
		execPath = FindChromePath()
	}
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	return opts
}

// Browser owns one Chrome process. Each page it opens is an independent
// tab.
type Browser struct {
	opts     Options
	allocCtx context.Context
	cancel   context.CancelFunc
}

// NewBrowser prepares a Chrome allocator. Chrome starts with the first
// page.
func NewBrowser(opts Options) *Browser {
	opts = opts.withDefaults()
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)

	logger.Debug("chrome browser created",
		"headful", opts.Headful,
		"stealth", opts.Stealth,
		"exec_path", opts.ExecPath)

	return &Browser{opts: opts, allocCtx: allocCtx, cancel: cancel}
}

// NewPage opens a tab. ctx bounds the tab start only; the tab lives until
// Driver.Close or Browser.Close.
func (b *Browser) NewPage(ctx context.Context) (*Driver, error) {
	tab, cancel := chromedp.NewContext(b.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)

	d := &Driver{
		tab:     tab,
		cancel:  cancel,
		opts:    b.opts,
		tracker: newNetTracker(),
	}
	d.tracker.logRequests = b.opts.LogRequests

	// The first Run on a tab context starts the browser and must not carry
	// a deadline, or the tab would close when it expires.
	start := []chromedp.Action{network.Enable()}
	if b.opts.Stealth {
		start = append(start, injectStealth())
	}
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(tab, start...) }()

	select {
	case err := <-errc:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("start chrome tab: %w", err)
		}
	case <-ctx.Done():
		cancel()
		return nil, fmt.Errorf("start chrome tab: %w", ctx.Err())
	}

	chromedp.ListenTarget(tab, d.tracker.observe)
	return d, nil
}

// Close stops Chrome and every tab.
func (b *Browser) Close() {
	b.cancel()
}
