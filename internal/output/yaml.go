package output

import (
	"bufio"
	"io"

	"github.com/jmylchreest/pagewalk/pkg/extract"
	"gopkg.in/yaml.v3"
)

// YAMLWriter writes records as a YAML sequence.
type YAMLWriter struct {
	w     *bufio.Writer
	items []extract.Record
}

// NewYAMLWriter creates a YAML writer.
func NewYAMLWriter(w io.Writer) *YAMLWriter {
	return &YAMLWriter{
		w:     bufio.NewWriter(w),
		items: make([]extract.Record, 0),
	}
}

// Write buffers a single record.
func (w *YAMLWriter) Write(rec extract.Record) error {
	w.items = append(w.items, rec)
	return nil
}

// WriteAll buffers multiple records.
func (w *YAMLWriter) WriteAll(recs []extract.Record) error {
	w.items = append(w.items, recs...)
	return nil
}

// Flush writes the buffered records.
func (w *YAMLWriter) Flush() error {
	encoder := yaml.NewEncoder(w.w)
	encoder.SetIndent(2)

	if err := encoder.Encode(w.items); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}
	w.items = w.items[:0]

	return w.w.Flush()
}

// Close flushes the writer.
func (w *YAMLWriter) Close() error {
	return w.Flush()
}
