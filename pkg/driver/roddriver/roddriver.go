// Package roddriver implements driver.PageDriver on go-rod.
package roddriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/driver"
	"github.com/jmylchreest/pagewalk/pkg/poll"
	"github.com/jmylchreest/pagewalk/pkg/wait"
)

// Options configures the launched browser.
type Options struct {
	Bin         string // browser binary; rod downloads one when empty
	ControlURL  string // attach to a running browser instead of launching
	Headful     bool
	Stealth     bool
	QuietPeriod time.Duration // network silence that counts as idle

	// WatchNetwork records responses for driver.NetworkLog, and
	// LogRequests also logs every request and response. Both subscribe to
	// CDP network events, which recent Chromium builds reject alongside
	// the Fetch domain that WaitForNetworkIdle uses, so they are opt-in.
	WatchNetwork bool
	LogRequests  bool
}

// Browser is a rod browser with the launcher that started it.
type Browser struct {
	opts     Options
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// Launch starts (or attaches to) a browser.
func Launch(opts Options) (*Browser, error) {
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = 500 * time.Millisecond
	}

	controlURL := opts.ControlURL
	var l *launcher.Launcher
	if controlURL == "" {
		l = launcher.New().
			Headless(!opts.Headful).
			NoSandbox(true)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		if opts.Stealth {
			l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
			l.Delete(flags.Flag("enable-automation"))
			l.Set(flags.Flag("disable-renderer-backgrounding"))
			l.Set(flags.Flag("disable-background-timer-throttling"))
			l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
		}
		l.Set(flags.Flag("disable-dev-shm-usage"))
		l.Set(flags.Flag("no-first-run"))

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}
	logger.Debug("rod browser launched", "control_url", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &Browser{opts: opts, browser: browser, launcher: l}, nil
}

// NewPage opens a tab. With Stealth the go-rod/stealth evasions are
// installed before any navigation.
func (b *Browser) NewPage(ctx context.Context) (*Driver, error) {
	var (
		page *rod.Page
		err  error
	)
	if b.opts.Stealth {
		page, err = stealth.Page(b.browser.Context(ctx))
	} else {
		page, err = b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	// Detach the page from ctx so later calls are bound per operation.
	d := &Driver{
		page:      page.Context(context.Background()),
		quiet:     b.opts.QuietPeriod,
		responses: driver.NewResponseLog(driver.DefaultResponseLogSize),
		stopWatch: func() {},
	}
	if b.opts.WatchNetwork || b.opts.LogRequests {
		if err := d.watchNetwork(b.opts.LogRequests); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("watch network: %w", err)
		}
	}
	return d, nil
}

// Close closes the browser, and kills it when this package launched it.
func (b *Browser) Close() error {
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Kill()
	}
	return err
}

// Driver is one rod page.
type Driver struct {
	page      *rod.Page
	quiet     time.Duration
	responses *driver.ResponseLog
	stopWatch context.CancelFunc
}

var (
	_ driver.PageDriver = (*Driver)(nil)
	_ driver.Pointer    = (*Driver)(nil)
	_ driver.NetworkLog = (*Driver)(nil)
)

// Close closes the page.
func (d *Driver) Close() error {
	d.stopWatch()
	return d.page.Close()
}

// detachedMarkers are CDP messages for a remote object whose node or
// execution context no longer exists.
var detachedMarkers = []string{
	"no node with given id",
	"cannot find context with specified id",
	"could not find node with given id",
	"node is detached",
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	for _, m := range detachedMarkers {
		if strings.Contains(lower, m) {
			return fmt.Errorf("%w: %v", driver.ErrDetached, err)
		}
	}
	return err
}

func wrap(els rod.Elements, d *Driver) []driver.Element {
	out := make([]driver.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{d: d, el: el})
	}
	return out
}

// Query returns the first match without waiting for one to appear.
func (d *Driver) Query(ctx context.Context, selector string) (driver.Element, error) {
	found, el, err := d.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, mapErr(err))
	}
	if !found {
		return nil, nil
	}
	return &element{d: d, el: el}, nil
}

// QueryAll returns every match in document order.
func (d *Driver) QueryAll(ctx context.Context, selector string) ([]driver.Element, error) {
	els, err := d.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, mapErr(err))
	}
	return wrap(els, d), nil
}

// Navigate loads url and waits for the load event. The status of the
// navigation entry is checked afterwards; 4xx and 5xx become errors.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	logger.FromContext(ctx).Debug("rod navigate", "url", url)

	p := d.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}

	res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`)
	if err == nil {
		if status := res.Value.Int(); status >= 400 {
			return fmt.Errorf("navigate %s: status %d", url, status)
		}
	}
	return nil
}

func (d *Driver) own(ctx context.Context, el driver.Element) (*rod.Element, error) {
	e, ok := el.(*element)
	if !ok || e.d != d {
		return nil, driver.ErrForeignElement
	}
	return e.el.Context(ctx), nil
}

// Click scrolls el into view and clicks it with the left button.
func (d *Driver) Click(ctx context.Context, el driver.Element) error {
	e, err := d.own(ctx, el)
	if err != nil {
		return err
	}
	if err := e.Click(proto.InputMouseButtonLeft, 1); err != nil {
		// rod refuses to click nodes without a box; the DOM click still
		// fires handlers and follows links.
		var noPointer *rod.NoPointerEventsError
		var noShape *rod.InvisibleShapeError
		if errors.As(err, &noPointer) || errors.As(err, &noShape) {
			_, err = e.Eval(`() => this.click()`)
		}
		if err != nil {
			return fmt.Errorf("click: %w", mapErr(err))
		}
	}
	return nil
}

func (d *Driver) evalBody(ctx context.Context, el driver.Element, body string, args ...any) (*proto.RuntimeRemoteObject, error) {
	e, err := d.own(ctx, el)
	if err != nil {
		return nil, err
	}
	res, err := e.Eval(`function (v) { const el = this; `+body+` }`, args...)
	return res, mapErr(err)
}

// Fill chooses an option on a select (by value, then label) or types into
// a text control after clearing it.
func (d *Driver) Fill(ctx context.Context, el driver.Element, value string) error {
	res, err := d.evalBody(ctx, el, driver.FillScript, value)
	if err != nil {
		return fmt.Errorf("fill: %w", err)
	}
	switch res.Value.Str() {
	case "select":
		return nil
	case "text":
		e, _ := d.own(ctx, el)
		if value != "" {
			if err := e.Input(value); err != nil {
				return fmt.Errorf("fill: %w", mapErr(err))
			}
		}
		_, err := d.evalBody(ctx, el, driver.ChangeScript)
		return err
	default:
		return fmt.Errorf("fill: %w", driver.ErrUnsupported)
	}
}

func (d *Driver) boolOf(ctx context.Context, el driver.Element, body string) (bool, error) {
	res, err := d.evalBody(ctx, el, body)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// IsVisible reports whether el has a box and is not hidden by style.
func (d *Driver) IsVisible(ctx context.Context, el driver.Element) (bool, error) {
	return d.boolOf(ctx, el, driver.VisibleScript)
}

// IsEnabled reports whether el accepts interaction.
func (d *Driver) IsEnabled(ctx context.Context, el driver.Element) (bool, error) {
	return d.boolOf(ctx, el, driver.EnabledScript)
}

// IsChecked reports the checked state of a checkbox, radio or ARIA
// control.
func (d *Driver) IsChecked(ctx context.Context, el driver.Element) (bool, error) {
	return d.boolOf(ctx, el, driver.CheckedScript)
}

// WaitForSelector polls until selector reaches state.
func (d *Driver) WaitForSelector(ctx context.Context, selector string, state driver.WaitState, timeout time.Duration) error {
	_, err := poll.Require(ctx, fmt.Sprintf("%q %s", selector, state), wait.State(d, selector, state), timeout, poll.DefaultInterval)
	return err
}

// WaitForNetworkIdle blocks until no request has been pending for the
// quiet period, or until timeout.
func (d *Driver) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = wait.DefaultTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	idle := d.page.Context(waitCtx).WaitRequestIdle(d.quiet, nil, nil, nil)
	idle()

	if err := ctx.Err(); err != nil {
		return err
	}
	if waitCtx.Err() != nil {
		return &poll.TimeoutError{What: "network idle", Timeout: timeout}
	}
	return nil
}

// Evaluate runs a script expression and returns its JSON value.
func (d *Driver) Evaluate(ctx context.Context, script string) (any, error) {
	res, err := d.page.Context(ctx).Evaluate(rod.Eval(script).ByPromise())
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if res.Type == proto.RuntimeRemoteObjectTypeUndefined {
		return nil, nil
	}
	return res.Value.Val(), nil
}

// URL returns the current location, or "" when it cannot be read.
func (d *Driver) URL() string {
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// HTML returns the serialized document.
func (d *Driver) HTML(ctx context.Context) (string, error) {
	return d.page.Context(ctx).HTML()
}

type element struct {
	d  *Driver
	el *rod.Element
}

func (e *element) Text(ctx context.Context) (string, error) {
	res, err := e.d.evalBody(ctx, e, driver.TextScript)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, mapErr(err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *element) Query(ctx context.Context, selector string) (driver.Element, error) {
	found, el, err := e.el.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, mapErr(err))
	}
	if !found {
		return nil, nil
	}
	return &element{d: e.d, el: el}, nil
}

func (e *element) QueryAll(ctx context.Context, selector string) ([]driver.Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, mapErr(err))
	}
	return wrap(els, e.d), nil
}
