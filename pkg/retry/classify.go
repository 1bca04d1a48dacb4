package retry

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
)

// Classification is the retry class of a failure.
type Classification int

const (
	// Unknown failures match no marker. They are retried, but only up to
	// Policy.UnknownAttempts.
	Unknown Classification = iota
	// Transient failures (network blips, timeouts) are retried up to
	// Policy.MaxAttempts.
	Transient
	// Permanent failures (missing resource, access denied, invalid input)
	// are never retried.
	Permanent
)

func (c Classification) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Marker lists are matched case-insensitively as substrings of the error
// message. Permanent markers are checked first, so a message carrying both
// ("navigation timeout: 404 not found") is Permanent.
var (
	PermanentMarkers = []string{
		"not found",
		"forbidden",
		"unauthorized",
		"unauthorised",
		"access denied",
		"permission denied",
		"validation",
		"invalid",
		"bad request",
		"unsupported",
		"not navigable",
		"no such host",
		"err_name_not_resolved",
		"err_name_resolution_failed",
		"err_invalid_url",
		"err_blocked_by_client",
		"err_cert_",
	}

	TransientMarkers = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"network",
		"connection reset",
		"connection refused",
		"connection closed",
		"connection aborted",
		"broken pipe",
		"unexpected eof",
		"eof",
		"temporarily unavailable",
		"temporary failure",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
		"rate limit",
		"try again",
		"net::err_",
		"socket hang up",
		"econnreset",
		"econnrefused",
		"etimedout",
		"websocket",
		"target closed",
		"navigation interrupted",
		"execution context was destroyed",
		"detached from the page",
	}
)

// HTTP status codes are matched as whole numbers only, so "4000ms" does not
// read as a 400.
var (
	permanentStatus = regexp.MustCompile(`\b(400|401|403|404|405|410|422|451)\b`)
	transientStatus = regexp.MustCompile(`\b(408|425|429|500|502|503|504)\b`)
)

// operands matches the caller-supplied parts of a message: URLs and quoted
// strings such as selectors. A path like /p/404 or a selector like
// "a.invalid" says nothing about the failure.
var operands = regexp.MustCompile(`[a-z][a-z0-9+.-]*://[^\s"']+|"(?:[^"\\]|\\.)*"`)

// ClassifyMessage maps an error message onto a Classification using the
// marker lists above. URLs and quoted operands are ignored. The result
// depends on the message only.
func ClassifyMessage(msg string) Classification {
	lower := operands.ReplaceAllString(strings.ToLower(msg), " ")
	if strings.TrimSpace(lower) == "" {
		return Unknown
	}

	for _, m := range PermanentMarkers {
		if strings.Contains(lower, m) {
			return Permanent
		}
	}
	if permanentStatus.MatchString(lower) {
		return Permanent
	}

	for _, m := range TransientMarkers {
		if strings.Contains(lower, m) {
			return Transient
		}
	}
	if transientStatus.MatchString(lower) {
		return Transient
	}

	return Unknown
}

// Classify derives the Classification of err. Typed signals win over the
// message: context.DeadlineExceeded and net.Error timeouts are Transient,
// context.Canceled is Permanent (the caller asked to stop). Everything else
// falls through to ClassifyMessage.
func Classify(err error) Classification {
	if err == nil {
		return Unknown
	}

	var c interface{ RetryClass() Classification }
	if errors.As(err, &c) {
		return c.RetryClass()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Permanent
	case errors.Is(err, context.DeadlineExceeded):
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	return ClassifyMessage(err.Error())
}

// classified pins a Classification onto an error.
type classified struct {
	err   error
	class Classification
}

func (e *classified) Error() string { return e.err.Error() }
func (e *classified) Unwrap() error { return e.err }
func (e *classified) RetryClass() Classification { return e.class }

// MarkTransient wraps err so Classify reports Transient regardless of its
// message.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, class: Transient}
}

// MarkPermanent wraps err so Classify reports Permanent regardless of its
// message.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, class: Permanent}
}
