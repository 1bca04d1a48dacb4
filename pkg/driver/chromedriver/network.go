package chromedriver

import (
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/driver"
)

// netTracker follows CDP network events: it counts requests in flight for
// network idle and records responses.
type netTracker struct {
	mu          sync.Mutex
	inflight    map[network.RequestID]string // request method
	last        time.Time
	now         func() time.Time
	responses   *driver.ResponseLog
	logRequests bool
}

func newNetTracker() *netTracker {
	return &netTracker{
		inflight:  make(map[network.RequestID]string),
		last:      time.Now(),
		now:       time.Now,
		responses: driver.NewResponseLog(driver.DefaultResponseLogSize),
	}
}

// observe is registered with chromedp.ListenTarget.
func (t *netTracker) observe(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		var method, url string
		if e.Request != nil {
			method, url = e.Request.Method, e.Request.URL
		}
		t.start(e.RequestID, method)
		if t.logRequests {
			logger.Info(">> request", "method", method, "url", url)
		}
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		t.mu.Lock()
		method := t.inflight[e.RequestID]
		t.mu.Unlock()
		t.responses.Add(driver.Response{Method: method, URL: e.Response.URL, Status: int(e.Response.Status)})
		if t.logRequests {
			logger.Info("<< response", "status", e.Response.Status, "url", e.Response.URL)
		}
	case *network.EventLoadingFinished:
		t.done(e.RequestID)
	case *network.EventLoadingFailed:
		t.done(e.RequestID)
		if t.logRequests {
			logger.Info("<< failed", "request_id", e.RequestID, "error", e.ErrorText)
		}
	}
}

func (t *netTracker) start(id network.RequestID, method string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = method
	t.last = t.now()
}

func (t *netTracker) done(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	t.last = t.now()
}

// reset forgets requests of the previous document. Long-polls left open
// by it would otherwise never let the tab go idle.
func (t *netTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.inflight)
	t.last = t.now()
}

func (t *netTracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// idle reports whether nothing is in flight and nothing has started or
// finished for quiet.
func (t *netTracker) idle(now time.Time, quiet time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0 && now.Sub(t.last) >= quiet
}
