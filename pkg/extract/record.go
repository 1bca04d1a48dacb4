// Package extract reads typed records out of a settled page.
//
// Every extractor tolerates malformed input: a bad row, item or structured
// block is recorded as a Skip and the rest of the page is still returned.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Record maps field names to string values and remembers the order fields
// were first set, so tabular output keeps column order stable.
//
// The zero value is an empty record ready to use.
type Record struct {
	keys   []string
	values map[string]string
}

// NewRecord builds a record from alternating key, value pairs.
func NewRecord(kv ...string) Record {
	var r Record
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i], kv[i+1])
	}
	return r
}

// Set assigns value to key, appending key to the field order if new.
func (r *Record) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value for key and whether it is present.
func (r Record) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether key is present.
func (r Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Keys returns field names in insertion order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.keys) }

// Map returns a copy of the record as a plain map.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.keys))
	for _, k := range r.keys {
		m[k] = r.values[k]
	}
	return m
}

// Equal reports whether two records hold the same fields in the same order.
func (r Record) Equal(o Record) bool {
	if len(r.keys) != len(o.keys) {
		return false
	}
	for i, k := range r.keys {
		if o.keys[i] != k || o.values[k] != r.values[k] {
			return false
		}
	}
	return true
}

func (r Record) String() string {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: %q", k, r.values[k])
	}
	b.WriteByte('}')
	return b.String()
}

// MarshalJSON encodes the record as a JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object of strings, keeping key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record: expected JSON object, got %v", tok)
	}

	*r = Record{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: expected string key, got %v", tok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("record: field %q: %w", key, err)
		}
		r.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

// MarshalYAML encodes the record as a YAML mapping in field order.
func (r Record) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range r.keys {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: r.values[k]},
		)
	}
	return node, nil
}

// UnmarshalYAML decodes a flat YAML mapping, keeping key order.
func (r *Record) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("record: expected YAML mapping at line %d", node.Line)
	}
	*r = Record{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		r.Set(node.Content[i].Value, node.Content[i+1].Value)
	}
	return nil
}

// Columns returns the union of record keys in first-seen order.
func Columns(records []Record) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range records {
		for _, k := range r.keys {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

// Skip records one malformed row, item or block that was left out.
type Skip struct {
	Source string // "table", "listing", "items", "structured-data"
	Index  int    // position of the skipped element on the page
	Reason string
}

func (s Skip) String() string {
	return fmt.Sprintf("%s[%d]: %s", s.Source, s.Index, s.Reason)
}
