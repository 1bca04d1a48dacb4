package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/extract"
	"github.com/jmylchreest/pagewalk/pkg/wait"
)

var tableCmd = &cobra.Command{
	Use:   "table URL",
	Short: "Extract the rows of a table as records",
	Long: `Table opens URL, waits for the table, and writes one record per body row
keyed by the header cells. Short rows keep only the cells present; empty
headers become column_N.

Examples:
  pagewalk table https://example.com/prices
  pagewalk table https://example.com/stats --table "#league" --format csv`,
	Args: cobra.ExactArgs(1),
	RunE: runTable,
}

var tableBindings = map[string]string{
	"extract.table.selector":        "table",
	"extract.table.header_selector": "header",
	"extract.table.row_selector":    "row",
	"extract.table.cell_selector":   "cell",
	"crawl.timeout":                 "timeout",
	"retry.max_attempts":            "max-attempts",
}

func init() {
	rootCmd.AddCommand(tableCmd)

	flags := tableCmd.Flags()
	flags.String("table", "table", "selector of the table region")
	flags.String("header", "thead th", "selector of header cells within the table")
	flags.String("row", "tbody tr", "selector of data rows within the table")
	flags.String("cell", "td", "selector of cells within a row")
	flags.Duration("timeout", 30*time.Second, "wait for the table to appear")
	flags.Int("max-attempts", 3, "navigation attempts")
}

func runTable(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, tableBindings)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := newPages(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	page, err := p.openAt(ctx, cfg.RetryPolicy(), args[0])
	if err != nil {
		return err
	}

	spec := cfg.TableSpec()
	region := spec.Selector
	if region == "" {
		region = "table"
	}
	if err := wait.For(ctx, fmt.Sprintf("%q present", region), wait.SelectorPresent(page, region), cfg.Crawl.Timeout); err != nil {
		return err
	}

	res, err := extract.Table(ctx, page, spec)
	if err != nil {
		return err
	}
	for _, s := range res.Skipped {
		logger.Debug("row skipped", "skip", s.String())
	}

	w, closeOut, err := openWriter(cfg)
	if err != nil {
		return err
	}
	if err := w.WriteAll(res.Records); err != nil {
		_ = closeOut()
		return fmt.Errorf("write output: %w", err)
	}
	if err := closeOut(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	logInfo("Extracted %d rows (%d skipped)", len(res.Records), len(res.Skipped))
	return nil
}
