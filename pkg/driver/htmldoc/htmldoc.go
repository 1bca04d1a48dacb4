// Package htmldoc implements driver.PageDriver over static HTML with
// goquery. It has no script engine: clicks follow resolved hrefs, fills
// mutate the in-memory document and Evaluate reports ErrUnsupported.
//
// It backs the static crawl mode and the package tests of everything built
// on driver.PageDriver.
package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/driver"
	"github.com/jmylchreest/pagewalk/pkg/poll"
)

// Driver is a PageDriver over a goquery document.
type Driver struct {
	loader Loader

	mu      sync.RWMutex
	doc     *goquery.Document
	base    *url.URL
	history []string
}

var (
	_ driver.PageDriver = (*Driver)(nil)
	_ driver.Pointer    = (*Driver)(nil)
)

// New creates a driver that loads documents through loader.
func New(loader Loader) *Driver {
	return &Driver{loader: loader}
}

// FromHTML creates a driver with html already loaded at rawURL. Navigation
// is unavailable unless a loader is attached with SetLoader.
func FromHTML(rawURL, html string) (*Driver, error) {
	d := &Driver{}
	if err := d.SetContent(rawURL, html); err != nil {
		return nil, err
	}
	return d, nil
}

// SetLoader replaces the document loader.
func (d *Driver) SetLoader(l Loader) {
	d.mu.Lock()
	d.loader = l
	d.mu.Unlock()
}

// SetContent replaces the current document.
func (d *Driver) SetContent(rawURL, html string) error {
	return d.setContent(rawURL, []byte(html))
}

func (d *Driver) setContent(rawURL string, body []byte) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	d.mu.Lock()
	d.doc = doc
	d.base = base
	d.history = append(d.history, base.String())
	d.mu.Unlock()
	return nil
}

// URL returns the address of the current document.
func (d *Driver) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.base == nil {
		return ""
	}
	return d.base.String()
}

// History returns every URL loaded, oldest first.
func (d *Driver) History() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.history))
	copy(out, d.history)
	return out
}

// HTML returns the current document as markup.
func (d *Driver) HTML() (string, error) {
	doc, err := d.document()
	if err != nil {
		return "", err
	}
	return goquery.OuterHtml(doc.Selection)
}

func (d *Driver) document() (*goquery.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.doc == nil {
		return nil, fmt.Errorf("no document loaded")
	}
	return d.doc, nil
}

// Navigate loads rawURL, resolved against the current document.
func (d *Driver) Navigate(ctx context.Context, rawURL string) error {
	d.mu.RLock()
	loader := d.loader
	base := d.base
	d.mu.RUnlock()

	if loader == nil {
		return fmt.Errorf("navigate %s: %w", rawURL, driver.ErrUnsupported)
	}
	target, err := resolve(base, rawURL)
	if err != nil {
		return err
	}

	logger.FromContext(ctx).Debug("htmldoc navigate", "url", target)
	page, err := loader.Load(ctx, target)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	final := page.URL
	if final == "" {
		final = target
	}
	return d.setContent(final, page.Body)
}

// Query returns the first match or nil.
func (d *Driver) Query(ctx context.Context, selector string) (driver.Element, error) {
	doc, err := d.document()
	if err != nil {
		return nil, err
	}
	return d.first(doc.Selection, selector)
}

// QueryAll returns every match in document order.
func (d *Driver) QueryAll(ctx context.Context, selector string) ([]driver.Element, error) {
	doc, err := d.document()
	if err != nil {
		return nil, err
	}
	return d.all(doc.Selection, selector)
}

func (d *Driver) first(scope *goquery.Selection, selector string) (driver.Element, error) {
	sel, err := find(scope, selector)
	if err != nil {
		return nil, err
	}
	if sel.Length() == 0 {
		return nil, nil
	}
	return &element{d: d, sel: sel.First()}, nil
}

func (d *Driver) all(scope *goquery.Selection, selector string) ([]driver.Element, error) {
	sel, err := find(scope, selector)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &element{d: d, sel: s})
	})
	return out, nil
}

// find matches selector under scope. goquery treats a malformed selector
// as matching nothing, which would read as absence, so it is parsed first.
func find(scope *goquery.Selection, selector string) (*goquery.Selection, error) {
	if _, err := cascadia.ParseGroup(selector); err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return scope.Find(selector), nil
}

// Click follows the element's href. Checkbox and radio inputs toggle their
// checked state instead. Anything else is not navigable.
func (d *Driver) Click(ctx context.Context, el driver.Element) error {
	e, err := d.own(el)
	if err != nil {
		return err
	}
	if !isEnabled(e.sel) {
		return fmt.Errorf("click: element is disabled: %w", driver.ErrNotNavigable)
	}

	if goquery.NodeName(e.sel) == "input" {
		switch strings.ToLower(e.sel.AttrOr("type", "")) {
		case "checkbox":
			if _, checked := e.sel.Attr("checked"); checked {
				e.sel.RemoveAttr("checked")
			} else {
				e.sel.SetAttr("checked", "checked")
			}
			return nil
		case "radio":
			d.checkRadio(e.sel)
			return nil
		}
	}

	href, ok := e.sel.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return fmt.Errorf("click <%s>: %w", goquery.NodeName(e.sel), driver.ErrNotNavigable)
	}
	return d.Navigate(ctx, href)
}

func (d *Driver) checkRadio(sel *goquery.Selection) {
	if name := sel.AttrOr("name", ""); name != "" {
		root := sel.Closest("form")
		if root.Length() == 0 {
			root = sel.Parents().Last()
		}
		root.Find(fmt.Sprintf("input[type=radio][name=%q]", name)).RemoveAttr("checked")
	}
	sel.SetAttr("checked", "checked")
}

// Fill sets the value of an input or textarea, or selects the matching
// option of a select element by value or label.
func (d *Driver) Fill(ctx context.Context, el driver.Element, value string) error {
	e, err := d.own(el)
	if err != nil {
		return err
	}

	switch goquery.NodeName(e.sel) {
	case "select":
		options := e.sel.Find("option")
		var match *goquery.Selection
		options.EachWithBreak(func(_ int, o *goquery.Selection) bool {
			if o.AttrOr("value", strings.TrimSpace(o.Text())) == value || strings.TrimSpace(o.Text()) == value {
				match = o
				return false
			}
			return true
		})
		if match == nil {
			return fmt.Errorf("select has no option %q", value)
		}
		options.RemoveAttr("selected")
		match.SetAttr("selected", "selected")
	case "textarea":
		e.sel.SetText(value)
	case "input":
		e.sel.SetAttr("value", value)
	default:
		return fmt.Errorf("fill <%s>: %w", goquery.NodeName(e.sel), driver.ErrUnsupported)
	}
	return nil
}

// IsVisible reports whether neither the element nor an ancestor is hidden
// by attribute or inline style.
func (d *Driver) IsVisible(ctx context.Context, el driver.Element) (bool, error) {
	e, err := d.own(el)
	if err != nil {
		return false, err
	}
	return isVisible(e.sel), nil
}

// IsEnabled reports whether the element is not disabled by attribute,
// aria-disabled or a "disabled" class.
func (d *Driver) IsEnabled(ctx context.Context, el driver.Element) (bool, error) {
	e, err := d.own(el)
	if err != nil {
		return false, err
	}
	return isEnabled(e.sel), nil
}

// IsChecked reports the checked state of a checkbox or radio input.
func (d *Driver) IsChecked(ctx context.Context, el driver.Element) (bool, error) {
	e, err := d.own(el)
	if err != nil {
		return false, err
	}
	_, checked := e.sel.Attr("checked")
	return checked, nil
}

// WaitForSelector checks state once: a static document never changes on
// its own, so waiting longer cannot help.
func (d *Driver) WaitForSelector(ctx context.Context, selector string, state driver.WaitState, timeout time.Duration) error {
	pred := func(ctx context.Context) bool {
		matches, err := d.QueryAll(ctx, selector)
		if err != nil {
			return false
		}
		switch state {
		case driver.StateDetached:
			return len(matches) == 0
		case driver.StateVisible:
			return len(matches) > 0 && isVisible(matches[0].(*element).sel)
		case driver.StateHidden:
			for _, m := range matches {
				if isVisible(m.(*element).sel) {
					return false
				}
			}
			return true
		default:
			return len(matches) > 0
		}
	}
	_, err := poll.Require(ctx, fmt.Sprintf("selector %q %s", selector, state), pred, 0, 0)
	return err
}

// WaitForNetworkIdle returns immediately; there is no network activity
// after a load.
func (d *Driver) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return ctx.Err()
}

// Evaluate is unsupported on static documents.
func (d *Driver) Evaluate(ctx context.Context, script string) (any, error) {
	return nil, driver.ErrUnsupported
}

// ScrollIntoView is a no-op; a static document has no viewport.
func (d *Driver) ScrollIntoView(ctx context.Context, el driver.Element) error {
	_, err := d.own(el)
	return err
}

// Hover is not supported on a static document.
func (d *Driver) Hover(ctx context.Context, el driver.Element) error {
	return fmt.Errorf("hover: %w", driver.ErrUnsupported)
}

// DoubleClick is not supported on a static document.
func (d *Driver) DoubleClick(ctx context.Context, el driver.Element) error {
	return fmt.Errorf("double click: %w", driver.ErrUnsupported)
}

// RightClick is not supported on a static document.
func (d *Driver) RightClick(ctx context.Context, el driver.Element) error {
	return fmt.Errorf("right click: %w", driver.ErrUnsupported)
}

// DragAndDrop is not supported on a static document.
func (d *Driver) DragAndDrop(ctx context.Context, src, dst driver.Element) error {
	return fmt.Errorf("drag and drop: %w", driver.ErrUnsupported)
}

func (d *Driver) own(el driver.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok || e.d != d {
		return nil, driver.ErrForeignElement
	}
	return e, nil
}

type element struct {
	d   *Driver
	sel *goquery.Selection
}

func (e *element) Text(ctx context.Context) (string, error) {
	if rawText[goquery.NodeName(e.sel)] {
		return e.sel.Text(), nil
	}
	rendered := e.sel.Clone()
	rendered.Find("script, style, noscript, template, [hidden]").Remove()
	rendered.Find("[style]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return hiddenByStyle(s)
	}).Remove()
	return rendered.Text(), nil
}

var rawText = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

func (e *element) Query(ctx context.Context, selector string) (driver.Element, error) {
	return e.d.first(e.sel, selector)
}

func (e *element) QueryAll(ctx context.Context, selector string) ([]driver.Element, error) {
	return e.d.all(e.sel, selector)
}

func isVisible(sel *goquery.Selection) bool {
	if goquery.NodeName(sel) == "input" && strings.EqualFold(sel.AttrOr("type", ""), "hidden") {
		return false
	}
	for s := sel; s.Length() > 0; s = s.Parent() {
		if _, hidden := s.Attr("hidden"); hidden {
			return false
		}
		if strings.EqualFold(s.AttrOr("aria-hidden", ""), "true") {
			return false
		}
		if hiddenByStyle(s) {
			return false
		}
	}
	return true
}

func hiddenByStyle(sel *goquery.Selection) bool {
	style := strings.ToLower(strings.ReplaceAll(sel.AttrOr("style", ""), " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func isEnabled(sel *goquery.Selection) bool {
	if _, disabled := sel.Attr("disabled"); disabled {
		return false
	}
	if strings.EqualFold(sel.AttrOr("aria-disabled", ""), "true") {
		return false
	}
	if sel.HasClass("disabled") {
		return false
	}
	if sel.ParentsFiltered("fieldset[disabled]").Length() > 0 {
		return false
	}
	return true
}

// resolve makes href absolute against base and strips the fragment.
func resolve(base *url.URL, href string) (string, error) {
	link, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", href, err)
	}
	if !link.IsAbs() && base != nil {
		link = base.ResolveReference(link)
	}
	link.Fragment = ""
	return link.String(), nil
}
