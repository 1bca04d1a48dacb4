package output

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/jmylchreest/pagewalk/pkg/extract"
)

// CSVWriter writes records as CSV. The header is the union of every
// record's fields in first-seen order, so records are buffered until
// Flush; a missing field is an empty cell.
type CSVWriter struct {
	w     *csv.Writer
	items []extract.Record
}

// NewCSVWriter creates a CSV writer.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// Write buffers a single record.
func (w *CSVWriter) Write(rec extract.Record) error {
	w.items = append(w.items, rec)
	return nil
}

// WriteAll buffers multiple records.
func (w *CSVWriter) WriteAll(recs []extract.Record) error {
	w.items = append(w.items, recs...)
	return nil
}

// Flush writes the header and every buffered row. Nothing is written when
// no record was buffered.
func (w *CSVWriter) Flush() error {
	if len(w.items) == 0 {
		return nil
	}
	cols := extract.Columns(w.items)
	if err := w.w.Write(cols); err != nil {
		return err
	}

	row := make([]string, len(cols))
	for _, rec := range w.items {
		for i, c := range cols {
			row[i], _ = rec.Get(c)
		}
		if err := w.w.Write(row); err != nil {
			return err
		}
	}
	w.items = w.items[:0]

	w.w.Flush()
	return w.w.Error()
}

// Close flushes the writer.
func (w *CSVWriter) Close() error {
	return w.Flush()
}

// ReadCSV decodes a CSV with a header row into records. Empty cells are
// kept as empty values.
func ReadCSV(r io.Reader) ([]extract.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	recs := make([]extract.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		var rec extract.Record
		for i, h := range header {
			if i < len(row) {
				rec.Set(h, row[i])
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
