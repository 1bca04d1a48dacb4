package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/pagewalk/internal/config"
	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/internal/output"
	"github.com/jmylchreest/pagewalk/pkg/extract"
)

var ldjsonCmd = &cobra.Command{
	Use:   "ldjson URL",
	Short: "Extract JSON-LD structured data",
	Long: `Ldjson opens URL and prints the first JSON-LD block that parses. Blocks
that fail to parse are skipped. With --all every parseable block is
printed as an array.

Output is JSON unless --format yaml is given.

Examples:
  pagewalk ldjson https://shop.example.com/p/kettle
  pagewalk ldjson https://news.example.com/article --all --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runLDJSON,
}

func init() {
	rootCmd.AddCommand(ldjsonCmd)
	ldjsonCmd.Flags().Bool("all", false, "print every block, not just the first")
	ldjsonCmd.Flags().Int("max-attempts", 3, "navigation attempts")
}

func runLDJSON(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{"retry.max_attempts": "max-attempts"})
	if err != nil {
		return err
	}
	all, _ := cmd.Flags().GetBool("all")

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

	var (
		data  any
		skips []extract.Skip
	)
	if all {
		var blocks []extract.Block
		blocks, skips, err = extract.AllStructuredData(ctx, page)
		data = blocks
	} else {
		var block extract.Block
		block, skips, err = extract.StructuredData(ctx, page)
		data = block
	}
	if err != nil {
		return err
	}
	for _, s := range skips {
		logger.Debug("structured data skipped", "skip", s.String())
	}

	sink, err := openSink(cfg)
	if err != nil {
		return err
	}
	if err := writeBlocks(sink, cfg, data); err != nil {
		_ = sink.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return sink.Close()
}

func writeBlocks(w io.Writer, cfg config.Config, data any) error {
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	switch format {
	case output.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case output.FormatJSON, output.FormatJSONL:
		enc := json.NewEncoder(w)
		if format == output.FormatJSON && cfg.Output.Pretty {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(data)
	default:
		return fmt.Errorf("format %s cannot hold nested structured data", format)
	}
}
