package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/jmylchreest/pagewalk/internal/config"
	"github.com/jmylchreest/pagewalk/internal/output"
)

// openSink returns the configured destination; stdout when no path is set.
func openSink(cfg config.Config) (io.WriteCloser, error) {
	if cfg.Output.Path == "" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(cfg.Output.Path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// openWriter returns a record writer over the configured sink. Closing the
// returned closer flushes the writer and closes the sink.
func openWriter(cfg config.Config) (output.Writer, func() error, error) {
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, nil, err
	}
	sink, err := openSink(cfg)
	if err != nil {
		return nil, nil, err
	}
	w, err := output.NewWriter(sink, format, output.WithPretty(cfg.Output.Pretty))
	if err != nil {
		_ = sink.Close()
		return nil, nil, err
	}
	return w, func() error {
		werr := w.Close()
		if err := sink.Close(); err != nil && werr == nil {
			werr = err
		}
		return werr
	}, nil
}
