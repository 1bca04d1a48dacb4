package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/driver"
)

// Field names produced by DefaultFields.
const (
	FieldName   = "name"
	FieldPrice  = "price"
	FieldRating = "rating"
	FieldURL    = "url"
)

// FieldLocator describes how to read one field from an item block.
// Selectors are tried in order; the first that yields a non-empty value
// wins. With Attr set the attribute value is read instead of the text.
type FieldLocator struct {
	Name      string   `mapstructure:"name" yaml:"name" validate:"required"`
	Selectors []string `mapstructure:"selectors" yaml:"selectors" validate:"required,min=1,dive,required"`
	Attr      string   `mapstructure:"attr" yaml:"attr,omitempty"`
	Required  bool     `mapstructure:"required" yaml:"required,omitempty"`
}

// DefaultFields is the product field set that works across common
// e-commerce markup: name and price are required, rating and url
// optional.
func DefaultFields() []FieldLocator {
	return []FieldLocator{
		{
			Name:      FieldName,
			Selectors: []string{"h2", "h3", ".product-title", ".item-title", "[data-testid='title']"},
			Required:  true,
		},
		{
			Name:      FieldPrice,
			Selectors: []string{".price", ".product-price", "[data-testid='price']", "[itemprop='price']"},
			Required:  true,
		},
		{
			Name:      FieldRating,
			Selectors: []string{".rating", ".stars", "[aria-label*='rating']"},
		},
		{
			Name:      FieldURL,
			Selectors: []string{"a[href]"},
			Attr:      "href",
		},
	}
}

// ListingSpec describes repeated item blocks.
type ListingSpec struct {
	ItemSelector string
	Fields       []FieldLocator // DefaultFields when empty
}

// Listing emits one record per item block whose required fields all
// resolve. Items missing a required field are skipped, which lets one spec
// run over heterogeneous markup.
func Listing(ctx context.Context, q driver.Querier, spec ListingSpec) (Result, error) {
	if spec.ItemSelector == "" {
		return Result{}, fmt.Errorf("listing: item selector is required")
	}
	fields := spec.Fields
	if len(fields) == 0 {
		fields = DefaultFields()
	}
	log := logger.FromContext(ctx)

	items, err := q.QueryAll(ctx, spec.ItemSelector)
	if err != nil {
		return Result{}, fmt.Errorf("query items %q: %w", spec.ItemSelector, err)
	}

	var res Result
	for i, item := range items {
		rec, missing := readItem(ctx, item, fields)
		if missing != "" {
			skip := Skip{Source: "listing", Index: i, Reason: "missing required field " + missing}
			log.Debug("listing item skipped", "item", i, "reason", skip.Reason)
			res.Skipped = append(res.Skipped, skip)
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

// readItem resolves each field; missing names the first unresolved
// required field.
func readItem(ctx context.Context, item driver.Element, fields []FieldLocator) (rec Record, missing string) {
	for _, f := range fields {
		value, ok := resolveField(ctx, item, f)
		if !ok {
			if f.Required {
				return Record{}, f.Name
			}
			continue
		}
		rec.Set(f.Name, value)
	}
	return rec, ""
}

func resolveField(ctx context.Context, item driver.Element, f FieldLocator) (string, bool) {
	for _, sel := range f.Selectors {
		el, err := item.Query(ctx, sel)
		if err != nil || el == nil {
			continue
		}

		var value string
		if f.Attr != "" {
			v, ok, err := el.Attribute(ctx, f.Attr)
			if err != nil || !ok {
				continue
			}
			value = strings.TrimSpace(v)
		} else {
			v, err := driver.TrimmedText(ctx, el)
			if err != nil {
				continue
			}
			value = v
		}

		if value != "" {
			return value, true
		}
	}
	return "", false
}

// ItemTexts emits {field: text} for every element matching selector, the
// simplest pagination payload. Empty items are skipped.
func ItemTexts(ctx context.Context, q driver.Querier, selector, field string) (Result, error) {
	if field == "" {
		field = "text"
	}
	items, err := q.QueryAll(ctx, selector)
	if err != nil {
		return Result{}, fmt.Errorf("query items %q: %w", selector, err)
	}

	var res Result
	for i, item := range items {
		text, err := driver.TrimmedText(ctx, item)
		switch {
		case err != nil:
			res.Skipped = append(res.Skipped, Skip{Source: "items", Index: i, Reason: err.Error()})
		case text == "":
			res.Skipped = append(res.Skipped, Skip{Source: "items", Index: i, Reason: "empty text"})
		default:
			res.Records = append(res.Records, NewRecord(field, text))
		}
	}
	return res, nil
}

// Links emits {text, href} for every anchor with a non-empty href.
func Links(ctx context.Context, q driver.Querier) (Result, error) {
	anchors, err := q.QueryAll(ctx, "a[href]")
	if err != nil {
		return Result{}, fmt.Errorf("query links: %w", err)
	}

	var res Result
	for i, a := range anchors {
		href, ok, err := a.Attribute(ctx, "href")
		if err != nil || !ok || strings.TrimSpace(href) == "" {
			res.Skipped = append(res.Skipped, Skip{Source: "links", Index: i, Reason: "empty href"})
			continue
		}
		text, _ := driver.TrimmedText(ctx, a)
		res.Records = append(res.Records, NewRecord("text", text, "href", href))
	}
	return res, nil
}
