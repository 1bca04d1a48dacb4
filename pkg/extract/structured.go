package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmylchreest/pagewalk/internal/logger"
	"github.com/jmylchreest/pagewalk/pkg/driver"
)

// StructuredDataSelector matches embedded JSON-LD payloads.
const StructuredDataSelector = `script[type="application/ld+json"]`

// Block is one parsed structured-data payload. A top-level JSON array is
// stored under "@graph", which is how JSON-LD defines it.
type Block map[string]any

// Type returns the block's "@type" (the first one when it is a list).
func (b Block) Type() string {
	switch t := b["@type"].(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// StructuredData returns the first embedded payload that parses. Payloads
// that fail to parse are skipped; an empty Block is returned when none
// parse. Only one block is returned, the rest are not merged.
func StructuredData(ctx context.Context, q driver.Querier) (Block, []Skip, error) {
	blocks, skipped, err := structuredData(ctx, q, true)
	if err != nil {
		return Block{}, skipped, err
	}
	if len(blocks) == 0 {
		return Block{}, skipped, nil
	}
	return blocks[0], skipped, nil
}

// AllStructuredData returns every payload that parses, in page order.
func AllStructuredData(ctx context.Context, q driver.Querier) ([]Block, []Skip, error) {
	return structuredData(ctx, q, false)
}

func structuredData(ctx context.Context, q driver.Querier, firstOnly bool) ([]Block, []Skip, error) {
	log := logger.FromContext(ctx)

	scripts, err := q.QueryAll(ctx, StructuredDataSelector)
	if err != nil {
		return nil, nil, fmt.Errorf("query structured data: %w", err)
	}

	var blocks []Block
	var skipped []Skip
	for i, s := range scripts {
		block, err := parseBlock(ctx, s)
		if err != nil {
			skip := Skip{Source: "structured-data", Index: i, Reason: err.Error()}
			log.Debug("structured data block skipped", "block", i, "reason", skip.Reason)
			skipped = append(skipped, skip)
			continue
		}
		blocks = append(blocks, block)
		if firstOnly {
			break
		}
	}
	return blocks, skipped, nil
}

func parseBlock(ctx context.Context, el driver.Element) (Block, error) {
	raw, err := el.Text(ctx)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty payload")
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}

	switch t := v.(type) {
	case map[string]any:
		return Block(t), nil
	case []any:
		return Block{"@graph": t}, nil
	default:
		return nil, fmt.Errorf("payload is %T, not an object", v)
	}
}
