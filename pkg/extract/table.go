package extract

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/driver"
)

// TableSpec locates a table-like region and its header and data cells.
// Row, header and cell selectors are evaluated inside the region.
type TableSpec struct {
	Selector       string // region (default "table")
	HeaderSelector string // header cells (default "thead th")
	RowSelector    string // data rows (default "tbody tr")
	CellSelector   string // cells within a row (default "td")
}

func (s TableSpec) withDefaults() TableSpec {
	if s.Selector == "" {
		s.Selector = "table"
	}
	if s.HeaderSelector == "" {
		s.HeaderSelector = "thead th"
	}
	if s.RowSelector == "" {
		s.RowSelector = "tbody tr"
	}
	if s.CellSelector == "" {
		s.CellSelector = "td"
	}
	return s
}

// Result is the output of an extractor over one page.
type Result struct {
	Records []Record
	Skipped []Skip
}

// Table reads the header row and zips each data row's cells onto it by
// position. Short rows fill only the available prefix; cells beyond the
// header count are dropped. Empty header cells are named column_N and a
// repeated header gets a _2, _3 ... suffix.
//
// A missing region is an error (the page is not what the caller expected);
// a row whose cells cannot be read is skipped.
func Table(ctx context.Context, q driver.Querier, spec TableSpec) (Result, error) {
	spec = spec.withDefaults()
	log := logger.FromContext(ctx)

	region, err := q.Query(ctx, spec.Selector)
	if err != nil {
		return Result{}, fmt.Errorf("query table %q: %w", spec.Selector, err)
	}
	if region == nil {
		return Result{}, fmt.Errorf("table %q not found", spec.Selector)
	}

	headerCells, err := region.QueryAll(ctx, spec.HeaderSelector)
	if err != nil {
		return Result{}, fmt.Errorf("query table headers: %w", err)
	}
	headers := make([]string, len(headerCells))
	for i, cell := range headerCells {
		name, err := driver.TrimmedText(ctx, cell)
		if err != nil || name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		headers[i] = name
	}
	headers = uniqueHeaders(headers)

	rows, err := region.QueryAll(ctx, spec.RowSelector)
	if err != nil {
		return Result{}, fmt.Errorf("query table rows: %w", err)
	}

	var res Result
	for i, row := range rows {
		rec, err := zipRow(ctx, row, spec.CellSelector, headers)
		if err != nil {
			skip := Skip{Source: "table", Index: i, Reason: err.Error()}
			log.Debug("table row skipped", "row", i, "reason", skip.Reason)
			res.Skipped = append(res.Skipped, skip)
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func zipRow(ctx context.Context, row driver.Element, cellSelector string, headers []string) (Record, error) {
	cells, err := row.QueryAll(ctx, cellSelector)
	if err != nil {
		return Record{}, fmt.Errorf("query cells: %w", err)
	}

	var rec Record
	for i, cell := range cells {
		if i >= len(headers) {
			break
		}
		text, err := driver.TrimmedText(ctx, cell)
		if err != nil {
			return Record{}, fmt.Errorf("cell %d: %w", i, err)
		}
		rec.Set(headers[i], text)
	}
	return rec, nil
}

// uniqueHeaders suffixes repeated names so every column keeps its own key.
func uniqueHeaders(headers []string) []string {
	seen := make(map[string]int, len(headers))
	for _, h := range headers {
		seen[h] = 0
	}
	out := make([]string, len(headers))
	for i, h := range headers {
		n := seen[h] + 1
		seen[h] = n
		name := h
		for n > 1 {
			name = h + "_" + strconv.Itoa(n)
			if _, taken := seen[name]; !taken {
				break
			}
			n++
			seen[h] = n
		}
		if name != h {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}
