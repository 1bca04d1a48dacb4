package crawler

import (
	"context"

	"github.com/jmylchreest/pagewalk/pkg/driver"
	"github.com/jmylchreest/pagewalk/pkg/extract"
)

// Extractor reads the records of one settled page.
type Extractor interface {
	Extract(ctx context.Context, q driver.Querier) (extract.Result, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, q driver.Querier) (extract.Result, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, q driver.Querier) (extract.Result, error) {
	return f(ctx, q)
}

// TableExtractor extracts spec's table from every page.
func TableExtractor(spec extract.TableSpec) Extractor {
	return ExtractorFunc(func(ctx context.Context, q driver.Querier) (extract.Result, error) {
		return extract.Table(ctx, q, spec)
	})
}

// ListingExtractor extracts spec's item blocks from every page.
func ListingExtractor(spec extract.ListingSpec) Extractor {
	return ExtractorFunc(func(ctx context.Context, q driver.Querier) (extract.Result, error) {
		return extract.Listing(ctx, q, spec)
	})
}

// ItemTextExtractor collects the text of every element matching selector.
func ItemTextExtractor(selector, field string) Extractor {
	return ExtractorFunc(func(ctx context.Context, q driver.Querier) (extract.Result, error) {
		return extract.ItemTexts(ctx, q, selector, field)
	})
}
