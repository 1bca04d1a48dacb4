// Package config loads the pagewalk configuration from file, environment
// and flags, and converts it into the core package types.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jmylchreest/pagewalk/pkg/crawler"
	"github.com/jmylchreest/pagewalk/pkg/extract"
	"github.com/jmylchreest/pagewalk/pkg/retry"
)

// EnvPrefix prefixes every environment override, e.g.
// PAGEWALK_CRAWL_MAX_PAGES.
const EnvPrefix = "PAGEWALK"

// Extraction modes.
const (
	ModeListing = "listing"
	ModeTable   = "table"
	ModeItems   = "items"
)

// Browser backends.
const (
	BackendChromedp = "chromedp"
	BackendRod      = "rod"
	BackendStatic   = "static"
)

// Config is the full configuration surface.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Extract ExtractConfig `mapstructure:"extract"`
	Browser BrowserConfig `mapstructure:"browser"`
	Output  OutputConfig  `mapstructure:"output"`
	Log     LogConfig     `mapstructure:"log"`
}

// CrawlConfig bounds a pagination crawl. The selectors are checked by
// crawler.Config.Validate, since only the crawl command needs them.
type CrawlConfig struct {
	MaxPages          int           `mapstructure:"max_pages" validate:"gte=1"`
	ContainerSelector string        `mapstructure:"container_selector"`
	NextSelector      string        `mapstructure:"next_selector"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gte=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	SettleTimeout     time.Duration `mapstructure:"settle_timeout" validate:"gte=0"`
	PageDelay         time.Duration `mapstructure:"page_delay" validate:"gte=0"`
	Concurrency       int           `mapstructure:"concurrency" validate:"gte=1,lte=32"`
}

// RetryConfig configures retry.Policy.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1"`
	UnknownAttempts int           `mapstructure:"unknown_attempts" validate:"gte=1"`
	BaseDelay       time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay        time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	Jitter          bool          `mapstructure:"jitter"`
}

// ExtractConfig selects what each page yields.
type ExtractConfig struct {
	Mode         string                 `mapstructure:"mode" validate:"oneof=listing table items"`
	ItemSelector string                 `mapstructure:"item_selector"`
	ItemField    string                 `mapstructure:"item_field"`
	Fields       []extract.FieldLocator `mapstructure:"fields" validate:"dive"`
	Table        TableConfig            `mapstructure:"table"`
}

// TableConfig mirrors extract.TableSpec.
type TableConfig struct {
	Selector       string `mapstructure:"selector"`
	HeaderSelector string `mapstructure:"header_selector"`
	RowSelector    string `mapstructure:"row_selector"`
	CellSelector   string `mapstructure:"cell_selector"`
}

// BrowserConfig picks and tunes the page driver.
type BrowserConfig struct {
	Backend    string `mapstructure:"backend" validate:"oneof=chromedp rod static"`
	Stealth    bool   `mapstructure:"stealth"`
	Headful    bool   `mapstructure:"headful"`
	ExecPath   string `mapstructure:"exec_path"`
	ControlURL string `mapstructure:"control_url" validate:"omitempty,url"`
	UserAgent  string `mapstructure:"user_agent"`
	// WatchNetwork records responses on the rod backend; chromedp always
	// does. LogRequests logs every request and response.
	WatchNetwork bool `mapstructure:"watch_network"`
	LogRequests  bool `mapstructure:"log_requests"`
}

// OutputConfig controls record serialization.
type OutputConfig struct {
	Format string `mapstructure:"format" validate:"oneof=json jsonl yaml csv"`
	Path   string `mapstructure:"path"` // stdout when empty
	Pretty bool   `mapstructure:"pretty"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for environment overrides to apply during Unmarshal.
func SetDefaults(v *viper.Viper) {
	def := crawler.DefaultConfig()
	pol := retry.DefaultPolicy()

	v.SetDefault("crawl.max_pages", def.MaxPages)
	v.SetDefault("crawl.container_selector", "")
	v.SetDefault("crawl.next_selector", "")
	v.SetDefault("crawl.timeout", def.Timeout)
	v.SetDefault("crawl.poll_interval", def.PollInterval)
	v.SetDefault("crawl.settle_timeout", def.SettleTimeout)
	v.SetDefault("crawl.page_delay", time.Duration(0))
	v.SetDefault("crawl.concurrency", 1)

	v.SetDefault("retry.max_attempts", pol.MaxAttempts)
	v.SetDefault("retry.unknown_attempts", pol.UnknownAttempts)
	v.SetDefault("retry.base_delay", pol.BaseDelay)
	v.SetDefault("retry.max_delay", pol.MaxDelay)
	v.SetDefault("retry.jitter", false)

	v.SetDefault("extract.mode", ModeListing)
	v.SetDefault("extract.item_selector", "")
	v.SetDefault("extract.item_field", "text")
	v.SetDefault("extract.table.selector", "")
	v.SetDefault("extract.table.header_selector", "")
	v.SetDefault("extract.table.row_selector", "")
	v.SetDefault("extract.table.cell_selector", "")

	v.SetDefault("browser.backend", BackendChromedp)
	v.SetDefault("browser.stealth", false)
	v.SetDefault("browser.headful", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.control_url", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.watch_network", false)
	v.SetDefault("browser.log_requests", false)

	v.SetDefault("output.format", "json")
	v.SetDefault("output.path", "")
	v.SetDefault("output.pretty", true)

	v.SetDefault("log.level", "")
	v.SetDefault("log.json", false)
}

// NewViper returns a viper instance reading cfgFile, or .pagewalk.yaml
// from the home directory or cwd when cfgFile is empty, with PAGEWALK_
// environment overrides. A missing default config file is not an error.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".pagewalk")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

var validate = validator.New()

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RetryPolicy converts the retry section. The unknown budget is capped at
// max_attempts, so max_attempts 1 disables retries whatever it is set to.
func (c Config) RetryPolicy() *retry.Policy {
	unknown := min(c.Retry.UnknownAttempts, c.Retry.MaxAttempts)
	return &retry.Policy{
		MaxAttempts:     c.Retry.MaxAttempts,
		UnknownAttempts: unknown,
		BaseDelay:       c.Retry.BaseDelay,
		MaxDelay:        c.Retry.MaxDelay,
		Jitter:          c.Retry.Jitter,
	}
}

// CrawlerConfig converts the crawl section for a crawl starting at
// startURL.
func (c Config) CrawlerConfig(startURL string) crawler.Config {
	return crawler.Config{
		StartURL:          startURL,
		ContainerSelector: c.Crawl.ContainerSelector,
		NextSelector:      c.Crawl.NextSelector,
		MaxPages:          c.Crawl.MaxPages,
		Timeout:           c.Crawl.Timeout,
		PollInterval:      c.Crawl.PollInterval,
		SettleTimeout:     c.Crawl.SettleTimeout,
		PageDelay:         c.Crawl.PageDelay,
		Retry:             c.RetryPolicy(),
	}
}

// ListingSpec converts the listing fields; DefaultFields apply when none
// are configured.
func (c Config) ListingSpec() extract.ListingSpec {
	return extract.ListingSpec{
		ItemSelector: c.Extract.ItemSelector,
		Fields:       c.Extract.Fields,
	}
}

// TableSpec converts the table section.
func (c Config) TableSpec() extract.TableSpec {
	t := c.Extract.Table
	return extract.TableSpec{
		Selector:       t.Selector,
		HeaderSelector: t.HeaderSelector,
		RowSelector:    t.RowSelector,
		CellSelector:   t.CellSelector,
	}
}

// Extractor returns the per-page extractor for the configured mode.
func (c Config) Extractor() (crawler.Extractor, error) {
	switch c.Extract.Mode {
	case ModeListing:
		return crawler.ListingExtractor(c.ListingSpec()), nil
	case ModeTable:
		return crawler.TableExtractor(c.TableSpec()), nil
	case ModeItems:
		return crawler.ItemTextExtractor(c.Extract.ItemSelector, c.Extract.ItemField), nil
	default:
		return nil, fmt.Errorf("unknown extract mode: %q", c.Extract.Mode)
	}
}
