package chromedriver

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/jmylchreest/pagewalk/pkg/driver"
)

var (
	_ driver.Pointer    = (*Driver)(nil)
	_ driver.NetworkLog = (*Driver)(nil)
)

// errNoBox is returned for pointer actions on an element without a box.
var errNoBox = errors.New("element has no box to point at")

// target resolves el to the centre of its box, scrolling it into view.
func (d *Driver) target(ctx context.Context, el driver.Element) (clickTarget, error) {
	e, err := d.own(el)
	if err != nil {
		return clickTarget{}, err
	}
	t, err := e.center(ctx)
	if err != nil {
		return clickTarget{}, err
	}
	if t.empty() {
		return clickTarget{}, errNoBox
	}
	return t, nil
}

// ScrollIntoView centres el in the viewport.
func (d *Driver) ScrollIntoView(ctx context.Context, el driver.Element) error {
	e, err := d.own(el)
	if err != nil {
		return err
	}
	if _, err := e.center(ctx); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// mouse dispatches one mouse event at (x, y).
func mouse(typ input.MouseType, x, y float64, button input.MouseButton, clicks int64) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ev := input.DispatchMouseEvent(typ, x, y)
		if button != input.None {
			ev = ev.WithButton(button).WithClickCount(clicks)
		}
		return ev.Do(ctx)
	})
}

func click(x, y float64, button input.MouseButton, clicks int64) []chromedp.Action {
	return []chromedp.Action{
		mouse(input.MousePressed, x, y, button, clicks),
		mouse(input.MouseReleased, x, y, button, clicks),
	}
}

// Hover moves the mouse over the centre of el.
func (d *Driver) Hover(ctx context.Context, el driver.Element) error {
	t, err := d.target(ctx, el)
	if err != nil {
		return fmt.Errorf("hover: %w", err)
	}
	if err := d.run(ctx, mouse(input.MouseMoved, t.X, t.Y, input.None, 0)); err != nil {
		return fmt.Errorf("hover: %w", err)
	}
	return nil
}

// DoubleClick sends two clicks, the second with click count 2, which is
// what raises dblclick.
func (d *Driver) DoubleClick(ctx context.Context, el driver.Element) error {
	t, err := d.target(ctx, el)
	if err != nil {
		return fmt.Errorf("double click: %w", err)
	}
	actions := append(click(t.X, t.Y, input.Left, 1), click(t.X, t.Y, input.Left, 2)...)
	if err := d.run(ctx, actions...); err != nil {
		return fmt.Errorf("double click: %w", err)
	}
	return nil
}

// RightClick clicks el with the right button.
func (d *Driver) RightClick(ctx context.Context, el driver.Element) error {
	t, err := d.target(ctx, el)
	if err != nil {
		return fmt.Errorf("right click: %w", err)
	}
	if err := d.run(ctx, click(t.X, t.Y, input.Right, 1)...); err != nil {
		return fmt.Errorf("right click: %w", err)
	}
	return nil
}

// dragSteps is the number of intermediate moves between source and
// target; drag libraries ignore a single jump.
const dragSteps = 8

// DragAndDrop presses the left button on src, moves to dst in steps and
// releases. This drives script-based drag handlers; native HTML5 drag
// events are not synthesised.
func (d *Driver) DragAndDrop(ctx context.Context, src, dst driver.Element) error {
	from, err := d.target(ctx, src)
	if err != nil {
		return fmt.Errorf("drag source: %w", err)
	}
	err = d.run(ctx,
		mouse(input.MouseMoved, from.X, from.Y, input.None, 0),
		mouse(input.MousePressed, from.X, from.Y, input.Left, 1),
	)
	if err != nil {
		return fmt.Errorf("drag: %w", err)
	}

	// The target is measured after the press, since scrolling it into
	// view may move the source.
	to, err := d.target(ctx, dst)
	if err != nil {
		_ = d.run(ctx, mouse(input.MouseReleased, from.X, from.Y, input.Left, 1))
		return fmt.Errorf("drop target: %w", err)
	}
	var actions []chromedp.Action
	for i := 1; i <= dragSteps; i++ {
		f := float64(i) / dragSteps
		actions = append(actions, mouse(input.MouseMoved,
			from.X+(to.X-from.X)*f, from.Y+(to.Y-from.Y)*f, input.Left, 0))
	}
	actions = append(actions, mouse(input.MouseReleased, to.X, to.Y, input.Left, 1))
	if err := d.run(ctx, actions...); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	return nil
}

// Mark returns the position of the newest response seen by the tab.
func (d *Driver) Mark() uint64 { return d.tracker.responses.Mark() }

// ResponsesSince returns the responses received after mark.
func (d *Driver) ResponsesSince(mark uint64) []driver.Response {
	return d.tracker.responses.ResponsesSince(mark)
}
