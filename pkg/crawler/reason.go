package crawler

import "fmt"

// Reason records why a crawl stopped.
type Reason int

const (
	// MaxPagesReached: the page budget was spent. The next control is
	// never clicked on the last allowed page.
	MaxPagesReached Reason = iota + 1
	// NoNextControl: the page had no next control.
	NoNextControl
	// NextControlDisabled: the next control was hidden or disabled.
	NextControlDisabled
	// Manual: the crawl was cut short by a navigation failure that
	// exhausted its retries, or by cancellation. Result.Err says which.
	Manual
)

var reasonNames = map[Reason]string{
	MaxPagesReached:     "max_pages_reached",
	NoNextControl:       "no_next_control",
	NextControlDisabled: "next_control_disabled",
	Manual:              "manual",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Normal reports whether the crawl ran out of pages the expected way.
func (r Reason) Normal() bool {
	return r == MaxPagesReached || r == NoNextControl || r == NextControlDisabled
}

// MarshalText encodes the reason by name.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a reason name.
func (r *Reason) UnmarshalText(text []byte) error {
	for k, v := range reasonNames {
		if v == string(text) {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("unknown termination reason: %q", text)
}

// State is a step of the crawl state machine.
type State int

const (
	StateInit State = iota
	StateScrapingPage
	StateCheckingNext
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateScrapingPage:
		return "scraping_page"
	case StateCheckingNext:
		return "checking_next"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
