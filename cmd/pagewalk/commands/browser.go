package commands

import (
	"context"
	"fmt"

	"github.com/jmylchreest/pagewalk/internal/config"
	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/internal/version"
	"github.com/jmylchreest/pagewalk/pkg/driver"
	"github.com/jmylchreest/pagewalk/pkg/driver/chromedriver"
	"github.com/jmylchreest/pagewalk/pkg/driver/htmldoc"
	"github.com/jmylchreest/pagewalk/pkg/driver/roddriver"
	"github.com/jmylchreest/pagewalk/pkg/retry"
)

// pages opens driver pages on the configured backend. Each crawl gets its
// own page.
type pages struct {
	open  func(ctx context.Context) (driver.PageDriver, error)
	close func()
}

func newPages(cfg config.Config) (*pages, error) {
	b := cfg.Browser
	logger.Debug("opening backend", "backend", b.Backend, "stealth", b.Stealth)

	switch b.Backend {
	case config.BackendChromedp:
		browser := chromedriver.NewBrowser(chromedriver.Options{
			ExecPath:    b.ExecPath,
			Headful:     b.Headful,
			Stealth:     b.Stealth,
			UserAgent:   b.UserAgent,
			LogRequests: b.LogRequests,
		})
		return &pages{
			open: func(ctx context.Context) (driver.PageDriver, error) {
				p, err := browser.NewPage(ctx)
				if err != nil {
					return nil, err
				}
				return p, nil
			},
			close: browser.Close,
		}, nil

	case config.BackendRod:
		browser, err := roddriver.Launch(roddriver.Options{
			Bin:          b.ExecPath,
			ControlURL:   b.ControlURL,
			Headful:      b.Headful,
			Stealth:      b.Stealth,
			WatchNetwork: b.WatchNetwork,
			LogRequests:  b.LogRequests,
		})
		if err != nil {
			return nil, err
		}
		return &pages{
			open: func(ctx context.Context) (driver.PageDriver, error) {
				p, err := browser.NewPage(ctx)
				if err != nil {
					return nil, err
				}
				return p, nil
			},
			close: func() {
				if err := browser.Close(); err != nil {
					logger.Debug("closing browser", "error", err)
				}
			},
		}, nil

	case config.BackendStatic:
		ua := b.UserAgent
		if ua == "" {
			ua = version.UserAgent()
		}
		loader := &htmldoc.CollyLoader{UserAgent: ua, Timeout: cfg.Crawl.Timeout}
		return &pages{
			open: func(context.Context) (driver.PageDriver, error) {
				return htmldoc.New(loader), nil
			},
			close: func() {},
		}, nil

	default:
		return nil, fmt.Errorf("unknown browser backend: %q", b.Backend)
	}
}

// openAt opens a page and navigates it to url under the retry policy.
func (p *pages) openAt(ctx context.Context, policy *retry.Policy, url string) (driver.PageDriver, error) {
	page, err := p.open(ctx)
	if err != nil {
		return nil, err
	}
	err = policy.Do(ctx, func(ctx context.Context) error {
		return page.Navigate(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}
