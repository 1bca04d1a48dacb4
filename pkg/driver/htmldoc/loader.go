package htmldoc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/jmylchreest/pagewalk/internal/logger"
)

// Page is a fetched document.
type Page struct {
	URL  string // final URL after redirects
	Body []byte
}

// Loader fetches the document behind a URL.
type Loader interface {
	Load(ctx context.Context, rawURL string) (Page, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, rawURL string) (Page, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, rawURL string) (Page, error) { return f(ctx, rawURL) }

// ErrPageNotFound is returned by MapLoader for unknown URLs.
var ErrPageNotFound = errors.New("page not found")

// MapLoader serves documents from memory, keyed by absolute URL.
type MapLoader map[string]string

// Load returns the document registered for rawURL.
func (m MapLoader) Load(ctx context.Context, rawURL string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	html, ok := m[rawURL]
	if !ok {
		return Page{}, fmt.Errorf("%s: 404 %w", rawURL, ErrPageNotFound)
	}
	return Page{URL: rawURL, Body: []byte(html)}, nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// CollyLoader fetches documents over HTTP with Colly.
type CollyLoader struct {
	UserAgent string
	Timeout   time.Duration
	Headers   map[string]string
}

// Load performs a GET request for rawURL. HTTP error statuses are reported
// with their code so the retry classifier can tell 404 from 503.
func (l *CollyLoader) Load(ctx context.Context, rawURL string) (Page, error) {
	log := logger.FromContext(ctx)

	userAgent := l.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	// A new collector per load keeps visits independent.
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	timeout := l.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)

	if len(l.Headers) > 0 {
		c.OnRequest(func(r *colly.Request) {
			for k, v := range l.Headers {
				r.Headers.Set(k, v)
			}
		})
	}

	var page Page
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		page = Page{URL: r.Request.URL.String(), Body: r.Body}
		log.Debug("colly response received", "url", page.URL, "status", r.StatusCode, "body_size", len(r.Body))
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = fmt.Errorf("fetch %s: status %d: %w", rawURL, r.StatusCode, err)
			return
		}
		fetchErr = fmt.Errorf("fetch %s: %w", rawURL, err)
	})

	if err := c.Visit(rawURL); err != nil {
		if fetchErr != nil {
			return Page{}, fetchErr
		}
		return Page{}, fmt.Errorf("visit %s: %w", rawURL, err)
	}
	if fetchErr != nil {
		return Page{}, fetchErr
	}
	if page.URL == "" {
		page.URL = rawURL
	}
	return page, nil
}
