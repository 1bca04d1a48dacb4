package driver

import "sync"

// Response is one network response received by a page.
type Response struct {
	Seq    uint64 `json:"seq"`
	Method string `json:"method"`
	URL    string `json:"url"`
	Status int    `json:"status"`
}

// NetworkLog is implemented by backends that observe page traffic.
type NetworkLog interface {
	// Mark returns a position in the log; ResponsesSince(Mark()) only
	// reports later responses.
	Mark() uint64
	ResponsesSince(mark uint64) []Response
}

// DefaultResponseLogSize bounds a ResponseLog created with size 0.
const DefaultResponseLogSize = 256

// ResponseLog keeps the most recent responses in arrival order. It is
// safe for concurrent use; the zero value holds DefaultResponseLogSize.
type ResponseLog struct {
	mu   sync.Mutex
	size int
	seq  uint64
	buf  []Response
}

// NewResponseLog returns a log holding at most size responses.
func NewResponseLog(size int) *ResponseLog {
	return &ResponseLog{size: size}
}

// Add appends r, assigning its sequence number, and evicts the oldest
// entry when full.
func (l *ResponseLog) Add(r Response) Response {
	l.mu.Lock()
	defer l.mu.Unlock()
	size := l.size
	if size <= 0 {
		size = DefaultResponseLogSize
	}
	l.seq++
	r.Seq = l.seq
	if len(l.buf) >= size {
		l.buf = append(l.buf[:0], l.buf[len(l.buf)-size+1:]...)
	}
	l.buf = append(l.buf, r)
	return r
}

// Mark returns the sequence number of the newest response.
func (l *ResponseLog) Mark() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// ResponsesSince returns the retained responses newer than mark.
func (l *ResponseLog) ResponsesSince(mark uint64) []Response {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Response
	for _, r := range l.buf {
		if r.Seq > mark {
			out = append(out, r)
		}
	}
	return out
}
