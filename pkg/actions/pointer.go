package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/driver"
	"github.com/jmylchreest/pagewalk/pkg/poll"
)

func pointer(d driver.PageDriver) (driver.Pointer, error) {
	p, ok := d.(driver.Pointer)
	if !ok {
		return nil, fmt.Errorf("pointer actions: %w", driver.ErrUnsupported)
	}
	return p, nil
}

// HoverAndClick hovers over the element matching hoverSelector to reveal
// clickSelector, waits for it to become visible and clicks it. This is how
// dropdown menus open.
func HoverAndClick(ctx context.Context, d driver.PageDriver, hoverSelector, clickSelector string, timeout time.Duration) error {
	p, err := pointer(d)
	if err != nil {
		return err
	}
	trigger, err := Find(ctx, d, hoverSelector)
	if err != nil {
		return err
	}
	if err := p.Hover(ctx, trigger); err != nil {
		return err
	}
	if err := d.WaitForSelector(ctx, clickSelector, driver.StateVisible, timeout); err != nil {
		return fmt.Errorf("hover %q: %w", hoverSelector, err)
	}
	target, err := Find(ctx, d, clickSelector)
	if err != nil {
		return err
	}
	return d.Click(ctx, target)
}

// ScrollAndClick scrolls the element into view before clicking it.
func ScrollAndClick(ctx context.Context, d driver.PageDriver, selector string) error {
	p, err := pointer(d)
	if err != nil {
		return err
	}
	el, err := Find(ctx, d, selector)
	if err != nil {
		return err
	}
	if err := p.ScrollIntoView(ctx, el); err != nil {
		return err
	}
	return d.Click(ctx, el)
}

// DoubleClick double-clicks the element matching selector.
func DoubleClick(ctx context.Context, d driver.PageDriver, selector string) error {
	p, err := pointer(d)
	if err != nil {
		return err
	}
	el, err := Find(ctx, d, selector)
	if err != nil {
		return err
	}
	return p.DoubleClick(ctx, el)
}

// RightClickMenu right-clicks the element matching selector, then clicks
// the first visible itemSelector match whose text is itemText once the
// menu shows it.
func RightClickMenu(ctx context.Context, d driver.PageDriver, selector, itemSelector, itemText string, timeout time.Duration) error {
	p, err := pointer(d)
	if err != nil {
		return err
	}
	el, err := Find(ctx, d, selector)
	if err != nil {
		return err
	}
	if err := p.RightClick(ctx, el); err != nil {
		return err
	}

	var item driver.Element
	_, err = poll.Require(ctx, fmt.Sprintf("menu item %q", itemText), func(ctx context.Context) bool {
		item = findByText(ctx, d, itemSelector, itemText)
		return item != nil
	}, timeout, poll.DefaultInterval)
	if err != nil {
		return err
	}
	return d.Click(ctx, item)
}

func findByText(ctx context.Context, d driver.PageDriver, selector, text string) driver.Element {
	els, err := d.QueryAll(ctx, selector)
	if err != nil {
		return nil
	}
	for _, el := range els {
		if visible, err := d.IsVisible(ctx, el); err != nil || !visible {
			continue
		}
		if s, err := driver.TrimmedText(ctx, el); err == nil && s == text {
			return el
		}
	}
	return nil
}

// DragAndDrop drags the element matching srcSelector onto the one
// matching dstSelector.
func DragAndDrop(ctx context.Context, d driver.PageDriver, srcSelector, dstSelector string) error {
	p, err := pointer(d)
	if err != nil {
		return err
	}
	src, err := Find(ctx, d, srcSelector)
	if err != nil {
		return err
	}
	dst, err := Find(ctx, d, dstSelector)
	if err != nil {
		return err
	}
	return p.DragAndDrop(ctx, src, dst)
}

// WaitForResponse runs trigger (which may be nil) and waits for a
// response whose URL contains urlPart. Only responses received after the
// call starts count.
func WaitForResponse(ctx context.Context, d driver.PageDriver, urlPart string, trigger func(context.Context) error, timeout time.Duration) (driver.Response, error) {
	netlog, ok := d.(driver.NetworkLog)
	if !ok {
		return driver.Response{}, fmt.Errorf("wait for response: %w", driver.ErrUnsupported)
	}
	mark := netlog.Mark()

	if trigger != nil {
		if err := trigger(ctx); err != nil {
			return driver.Response{}, err
		}
	}

	var got driver.Response
	_, err := poll.Require(ctx, fmt.Sprintf("response matching %q", urlPart), func(context.Context) bool {
		for _, r := range netlog.ResponsesSince(mark) {
			if strings.Contains(r.URL, urlPart) {
				got = r
				return true
			}
		}
		return false
	}, timeout, poll.DefaultInterval)
	if err != nil {
		return driver.Response{}, err
	}
	logger.FromContext(ctx).Debug("response received", "url", got.URL, "status", got.Status)
	return got, nil
}

// PageText returns the visible text of the page body.
func PageText(ctx context.Context, d driver.Querier) (string, error) {
	body, err := Find(ctx, d, "body")
	if err != nil {
		return "", err
	}
	return driver.TrimmedText(ctx, body)
}
