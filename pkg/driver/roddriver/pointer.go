package roddriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod/lib/proto"
	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/driver"
)

// ScrollIntoView scrolls el into the viewport.
func (d *Driver) ScrollIntoView(ctx context.Context, el driver.Element) error {
	e, err := d.own(ctx, el)
	if err != nil {
		return err
	}
	if err := e.ScrollIntoView(); err != nil {
		return fmt.Errorf("scroll: %w", mapErr(err))
	}
	return nil
}

// Hover moves the mouse over el.
func (d *Driver) Hover(ctx context.Context, el driver.Element) error {
	e, err := d.own(ctx, el)
	if err != nil {
		return err
	}
	if err := e.Hover(); err != nil {
		return fmt.Errorf("hover: %w", mapErr(err))
	}
	return nil
}

// DoubleClick clicks el twice with the left button.
func (d *Driver) DoubleClick(ctx context.Context, el driver.Element) error {
	e, err := d.own(ctx, el)
	if err != nil {
		return err
	}
	if err := e.Click(proto.InputMouseButtonLeft, 2); err != nil {
		return fmt.Errorf("double click: %w", mapErr(err))
	}
	return nil
}

// RightClick clicks el with the right button.
func (d *Driver) RightClick(ctx context.Context, el driver.Element) error {
	e, err := d.own(ctx, el)
	if err != nil {
		return err
	}
	if err := e.Click(proto.InputMouseButtonRight, 1); err != nil {
		return fmt.Errorf("right click: %w", mapErr(err))
	}
	return nil
}

// dragSteps is the number of intermediate moves between source and target.
const dragSteps = 8

// DragAndDrop presses the left button on src, moves to dst and releases.
// Script-based drag handlers see the events; native HTML5 drag events are
// not synthesised.
func (d *Driver) DragAndDrop(ctx context.Context, src, dst driver.Element) error {
	from, err := d.own(ctx, src)
	if err != nil {
		return err
	}
	to, err := d.own(ctx, dst)
	if err != nil {
		return err
	}

	if err := from.Hover(); err != nil {
		return fmt.Errorf("drag source: %w", mapErr(err))
	}
	m := d.page.Mouse
	if err := m.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("drag: %w", err)
	}
	if err := to.ScrollIntoView(); err != nil {
		_ = m.Up(proto.InputMouseButtonLeft, 1)
		return fmt.Errorf("drop target: %w", mapErr(err))
	}
	pt, err := to.Interactable()
	if err != nil {
		_ = m.Up(proto.InputMouseButtonLeft, 1)
		return fmt.Errorf("drop target: %w", mapErr(err))
	}
	if err := m.MoveLinear(*pt, dragSteps); err != nil {
		_ = m.Up(proto.InputMouseButtonLeft, 1)
		return fmt.Errorf("drag: %w", err)
	}
	if err := m.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	return nil
}

// Mark returns the position of the newest recorded response.
func (d *Driver) Mark() uint64 { return d.responses.Mark() }

// ResponsesSince returns the responses recorded after mark. Nothing is
// recorded unless Options.WatchNetwork or Options.LogRequests is set.
func (d *Driver) ResponsesSince(mark uint64) []driver.Response {
	return d.responses.ResponsesSince(mark)
}

// watchNetwork subscribes to request and response events until Close.
func (d *Driver) watchNetwork(logRequests bool) error {
	if err := (proto.NetworkEnable{}).Call(d.page); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.stopWatch = cancel

	var (
		mu      sync.Mutex
		methods = make(map[proto.NetworkRequestID]string)
	)
	wait := d.page.Context(ctx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if e.Request == nil {
				return
			}
			mu.Lock()
			methods[e.RequestID] = e.Request.Method
			mu.Unlock()
			if logRequests {
				logger.Info(">> request", "method", e.Request.Method, "url", e.Request.URL)
			}
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Response == nil {
				return
			}
			mu.Lock()
			method := methods[e.RequestID]
			delete(methods, e.RequestID)
			mu.Unlock()
			d.responses.Add(driver.Response{Method: method, URL: e.Response.URL, Status: e.Response.Status})
			if logRequests {
				logger.Info("<< response", "status", e.Response.Status, "url", e.Response.URL)
			}
		},
	)
	go wait()
	return nil
}
