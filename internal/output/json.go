package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jmylchreest/pagewalk/pkg/extract"
)

// JSONWriter writes records as one JSON array, always an array even for
// zero or one record.
type JSONWriter struct {
	w      *bufio.Writer
	pretty bool
	indent string
	items  []extract.Record
}

// NewJSONWriter creates a JSON writer.
func NewJSONWriter(w io.Writer, pretty bool, indent string) *JSONWriter {
	return &JSONWriter{
		w:      bufio.NewWriter(w),
		pretty: pretty,
		indent: indent,
		items:  make([]extract.Record, 0),
	}
}

// Write buffers a single record.
func (w *JSONWriter) Write(rec extract.Record) error {
	w.items = append(w.items, rec)
	return nil
}

// WriteAll buffers multiple records.
func (w *JSONWriter) WriteAll(recs []extract.Record) error {
	w.items = append(w.items, recs...)
	return nil
}

// Flush writes the buffered records as a JSON array.
func (w *JSONWriter) Flush() error {
	var output []byte
	var err error
	if w.pretty {
		output, err = json.MarshalIndent(w.items, "", w.indent)
	} else {
		output, err = json.Marshal(w.items)
	}
	if err != nil {
		return err
	}
	w.items = w.items[:0]

	if _, err := w.w.Write(output); err != nil {
		return err
	}
	if _, err := w.w.WriteString("\n"); err != nil {
		return err
	}

	return w.w.Flush()
}

// Close flushes the writer.
func (w *JSONWriter) Close() error {
	return w.Flush()
}

// JSONLWriter writes newline-delimited JSON (JSONL), one record per line.
type JSONLWriter struct {
	w *bufio.Writer
}

// NewJSONLWriter creates a JSONL writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{
		w: bufio.NewWriter(w),
	}
}

// Write writes a single record as a JSON line.
func (w *JSONLWriter) Write(rec extract.Record) error {
	output, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if _, err := w.w.Write(output); err != nil {
		return err
	}
	if _, err := w.w.WriteString("\n"); err != nil {
		return err
	}

	return w.w.Flush()
}

// WriteAll writes multiple records as JSON lines.
func (w *JSONLWriter) WriteAll(recs []extract.Record) error {
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the buffer.
func (w *JSONLWriter) Flush() error {
	return w.w.Flush()
}

// Close flushes the writer.
func (w *JSONLWriter) Close() error {
	return w.Flush()
}

// ReadJSON decodes records written by JSONWriter or JSONLWriter. Both an
// array and a stream of objects are accepted.
func ReadJSON(r io.Reader) ([]extract.Record, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var recs []extract.Record
		if err := dec.Decode(&recs); err != nil {
			return nil, fmt.Errorf("decode json array: %w", err)
		}
		return recs, nil
	}

	var recs []extract.Record
	for {
		var rec extract.Record
		err := dec.Decode(&rec)
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return recs, fmt.Errorf("decode json record %d: %w", len(recs), err)
		}
		recs = append(recs, rec)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
