package chromedriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/driver"
	"github.com/jmylchreest/pagewalk/pkg/poll"
	"github.com/jmylchreest/pagewalk/pkg/wait"
)

// registryJS sets up the element registry of the current document. gen
// changes with every document, so ids handed out before a navigation
// never resolve to nodes of the next page.
const registryJS = `
const R = window.__pwRefs || (window.__pwRefs = {
  gen: Math.random().toString(36).slice(2) + Date.now().toString(36),
  next: 1,
  refs: new Map(),
});
const put = (el) => { const id = R.next++; R.refs.set(id, el); return id; };
const get = (gen, id) => {
  if (gen !== R.gen) return null;
  const el = R.refs.get(id);
  if (!el || !el.isConnected) { R.refs.delete(id); return null; }
  return el;
};
`

// queryJS resolves the scope (id 0 is the document) and registers every
// match.
const queryJS = `(() => {
%s
const root = %d === 0 ? document : get(%s, %d);
if (!root) return {detached: true};
try {
  const els = Array.from(root.querySelectorAll(%s));
  return {value: {gen: R.gen, ids: (%t ? els.slice(0, 1) : els).map(put)}};
} catch (e) {
  return {error: String((e && e.message) || e)};
}
})()`

// elementJS runs body with el bound to the referenced node.
const elementJS = `(() => {
%s
const el = get(%s, %d);
if (!el) return {detached: true};
try {
  return {value: (() => { %s })()};
} catch (e) {
  return {error: String((e && e.message) || e)};
}
})()`

type scriptResult struct {
	Detached bool            `json:"detached"`
	Error    string          `json:"error"`
	Value    json.RawMessage `json:"value"`
}

type refList struct {
	Gen string  `json:"gen"`
	IDs []int64 `json:"ids"`
}

// Driver is one Chrome tab.
type Driver struct {
	tab     context.Context
	cancel  context.CancelFunc
	opts    Options
	tracker *netTracker
}

var _ driver.PageDriver = (*Driver)(nil)

// Close closes the tab.
func (d *Driver) Close() {
	d.cancel()
}

// callCtx derives a chromedp context from the tab that honours the
// caller's cancellation and deadline, or ActionTimeout when ctx has none.
func (d *Driver) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	base, cancel := context.WithCancel(d.tab)
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(d.opts.ActionTimeout)
	}
	c, cancelDeadline := context.WithDeadline(base, deadline)
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancelDeadline()
		cancel()
	}
}

func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, cancel := d.callCtx(ctx)
	defer cancel()
	err := chromedp.Run(c, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// script evaluates expr, which must produce a scriptResult, and decodes
// its value into out.
func (d *Driver) script(ctx context.Context, expr string, out any) error {
	var res scriptResult
	if err := d.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return err
	}
	if res.Detached {
		return driver.ErrDetached
	}
	if res.Error != "" {
		return errors.New(res.Error)
	}
	if out == nil || len(res.Value) == 0 {
		return nil
	}
	return json.Unmarshal(res.Value, out)
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (d *Driver) query(ctx context.Context, gen string, scope int64, selector string, first bool) ([]driver.Element, error) {
	var refs refList
	expr := fmt.Sprintf(queryJS, registryJS, scope, jsString(gen), scope, jsString(selector), first)
	if err := d.script(ctx, expr, &refs); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	els := make([]driver.Element, 0, len(refs.IDs))
	for _, id := range refs.IDs {
		els = append(els, &element{d: d, gen: refs.Gen, id: id})
	}
	return els, nil
}

// Query returns the first match of selector in the document.
func (d *Driver) Query(ctx context.Context, selector string) (driver.Element, error) {
	els, err := d.query(ctx, "", 0, selector, true)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

// QueryAll returns every match of selector in document order.
func (d *Driver) QueryAll(ctx context.Context, selector string) ([]driver.Element, error) {
	return d.query(ctx, "", 0, selector, false)
}

// Navigate loads url and waits for the load event. HTTP error statuses
// become errors carrying the code.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	logger.FromContext(ctx).Debug("chrome navigate", "url", url)

	if err := ctx.Err(); err != nil {
		return err
	}
	c, cancel := d.callCtx(ctx)
	defer cancel()

	d.tracker.reset()
	resp, err := chromedp.RunResponse(c, chromedp.Navigate(url))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if resp != nil && resp.Status >= 400 {
		return fmt.Errorf("navigate %s: status %d %s", url, resp.Status, resp.StatusText)
	}
	return nil
}

func (d *Driver) own(el driver.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok || e.d != d {
		return nil, driver.ErrForeignElement
	}
	return e, nil
}

type clickTarget struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (t clickTarget) empty() bool { return t.W == 0 || t.H == 0 }

// center scrolls the element into view and returns the centre of its box
// in viewport coordinates.
func (e *element) center(ctx context.Context) (clickTarget, error) {
	var target clickTarget
	err := e.eval(ctx, `
el.scrollIntoView({block: 'center', inline: 'center'});
const r = el.getBoundingClientRect();
return {x: r.left + r.width / 2, y: r.top + r.height / 2, w: r.width, h: r.height};`, &target)
	return target, err
}

// Click scrolls el into view and clicks its centre with a real mouse
// event. Zero-size elements are clicked through the DOM instead.
func (d *Driver) Click(ctx context.Context, el driver.Element) error {
	e, err := d.own(el)
	if err != nil {
		return err
	}

	target, err := e.center(ctx)
	if err != nil {
		return fmt.Errorf("click: %w", err)
	}
	if target.empty() {
		if err := e.eval(ctx, `el.click(); return true;`, nil); err != nil {
			return fmt.Errorf("click: %w", err)
		}
		return nil
	}
	if err := d.run(ctx, chromedp.MouseClickXY(target.X, target.Y)); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// Fill chooses an option on a select (by value, then label) or replaces
// the value of a text control by typing.
func (d *Driver) Fill(ctx context.Context, el driver.Element, value string) error {
	e, err := d.own(el)
	if err != nil {
		return err
	}

	var mode string
	err = e.eval(ctx, "const v = "+jsString(value)+";\n"+driver.FillScript, &mode)
	if err != nil {
		return fmt.Errorf("fill: %w", err)
	}

	switch mode {
	case "select":
		return nil
	case "text":
		if value != "" {
			if err := d.run(ctx, chromedp.KeyEvent(value)); err != nil {
				return fmt.Errorf("fill: %w", err)
			}
		}
		return e.eval(ctx, driver.ChangeScript, nil)
	default:
		return fmt.Errorf("fill: %w", driver.ErrUnsupported)
	}
}

func (d *Driver) boolOf(ctx context.Context, el driver.Element, body string) (bool, error) {
	e, err := d.own(el)
	if err != nil {
		return false, err
	}
	var v bool
	err = e.eval(ctx, body, &v)
	return v, err
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

// WaitForNetworkIdle waits until no request has been in flight for the
// configured quiet period.
func (d *Driver) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = d.opts.ActionTimeout
	}
	quiet := d.opts.QuietPeriod
	_, err := poll.Require(ctx, "network idle", func(context.Context) bool {
		return d.tracker.idle(time.Now(), quiet)
	}, timeout, quiet/5)
	return err
}

// Evaluate runs a script expression and returns its JSON value. Promises
// are awaited; undefined becomes nil.
func (d *Driver) Evaluate(ctx context.Context, script string) (any, error) {
	expr := fmt.Sprintf(`Promise.resolve(%s).then(v => ({value: v === undefined ? null : v}))`, strings.TrimSpace(script))
	var res struct {
		Value any `json:"value"`
	}
	err := d.run(ctx, chromedp.Evaluate(expr, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return res.Value, nil
}

// URL returns the current location of the tab, or "" when it cannot be
// read.
func (d *Driver) URL() string {
	var loc string
	if err := d.run(context.Background(), chromedp.Location(&loc)); err != nil {
		return ""
	}
	return loc
}

// HTML returns the serialized document.
func (d *Driver) HTML(ctx context.Context) (string, error) {
	var html string
	if err := d.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

type element struct {
	d   *Driver
	gen string
	id  int64
}

func (e *element) eval(ctx context.Context, body string, out any) error {
	return e.d.script(ctx, fmt.Sprintf(elementJS, registryJS, jsString(e.gen), e.id, body), out)
}

func (e *element) Text(ctx context.Context) (string, error) {
	var s string
	err := e.eval(ctx, driver.TextScript, &s)
	return s, err
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var a struct {
		OK    bool   `json:"ok"`
		Value string `json:"v"`
	}
	err := e.eval(ctx, fmt.Sprintf(`const n = %s; return el.hasAttribute(n) ? {ok: true, v: el.getAttribute(n)} : {ok: false};`, jsString(name)), &a)
	return a.Value, a.OK, err
}

func (e *element) Query(ctx context.Context, selector string) (driver.Element, error) {
	els, err := e.d.query(ctx, e.gen, e.id, selector, true)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

func (e *element) QueryAll(ctx context.Context, selector string) ([]driver.Element, error) {
	return e.d.query(ctx, e.gen, e.id, selector, false)
}
