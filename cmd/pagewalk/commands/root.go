// Package commands implements the CLI commands for pagewalk.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/pagewalk/internal/config"
	"github.com/jmylchreest/pagewalk/internal/logger"
)

var (
	cfgFile string
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "pagewalk",
	Short: "Paginated browser crawler with structured extraction",
	Long: `Pagewalk drives a browser page through "next" controls and extracts
records from every page: table rows, listing items with fallback field
selectors, item text, or JSON-LD blocks.

Every browser interaction is retried with capped exponential backoff, and
a crawl always returns what it collected before it stopped.

Examples:
  # Walk a product listing for up to 10 pages
  pagewalk crawl https://shop.example.com/kettles \
      --container ".results" --item ".product" --next "a.next" --max-pages 10

  # Extract a table from a static page as CSV
  pagewalk table https://example.com/prices --browser static --format csv

  # Dump the JSON-LD block of a product page
  pagewalk ldjson https://shop.example.com/p/kettle`,
	SilenceUsage: true,
}

// globalBindings maps viper keys onto the persistent flags.
var globalBindings = map[string]string{
	"browser.backend":      "browser",
	"browser.stealth":      "stealth",
	"browser.headful":      "headful",
	"browser.exec_path":    "exec-path",
	"browser.log_requests": "log-requests",
	"output.format":        "format",
	"output.path":          "output",
	"log.json":             "log-json",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.pagewalk.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	flags.Bool("log-json", false, "log as JSON")

	flags.String("browser", config.BackendChromedp, "page backend: chromedp, rod, static")
	flags.Bool("stealth", false, "enable anti-bot detection evasion")
	flags.Bool("headful", false, "show the browser window")
	flags.String("exec-path", "", "browser binary (auto-detected when empty)")
	flags.Bool("log-requests", false, "log every network request and response")

	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.String("format", "json", "output format: json, jsonl, yaml, csv")
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logError("%v", err)
	}
	return err
}

// loadConfig reads the config file and environment, applies the flags the
// user set on cmd, and validates the result.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (config.Config, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	bind(v, cmd.Flags(), globalBindings)
	bind(v, cmd.Flags(), bindings)

	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, err
	}

	debug, _ := cmd.Flags().GetBool("debug")
	opts := logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON}
	switch {
	case debug:
		opts.Level = "debug"
	case quiet:
		opts.Level = "error"
	}
	logger.Init(opts)
	return cfg, nil
}

// bind only binds flags the user changed, so config file values are not
// overridden by flag defaults.
func bind(v *viper.Viper, fs *pflag.FlagSet, bindings map[string]string) {
	for key, name := range bindings {
		if f := fs.Lookup(name); f != nil && f.Changed {
			_ = v.BindPFlag(key, f)
		}
	}
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
