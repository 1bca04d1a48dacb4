package extract

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmylchreest/pagewalk/pkg/driver/htmldoc"
	"gopkg.in/yaml.v3"
)

// loadPage reads a file from the testdata directory into a static driver.
func loadPage(t *testing.T, filename string) *htmldoc.Driver {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", filename))
	if err != nil {
		t.Fatalf("failed to read testdata %s: %v", filename, err)
	}
	d, err := htmldoc.FromHTML("https://shop.example.com/list", string(data))
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}
	return d
}

func TestTable_ZipsRowsOntoHeaders(t *testing.T) {
	page := loadPage(t, "table.html")

	res, err := Table(context.Background(), page, TableSpec{Selector: "#inventory"})
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}

	want := []Record{
		NewRecord("Name", "Widget"),
		NewRecord("Name", "Gadget", "Qty", "3", "column_3", "blue"),
		NewRecord("Name", "Doohickey", "Qty", "12", "column_3", "red"),
		{},
	}
	if len(res.Records) != len(want) {
		t.Fatalf("expected %d records, got %d: %v", len(want), len(res.Records), res.Records)
	}
	for i := range want {
		if !res.Records[i].Equal(want[i]) {
			t.Errorf("record[%d] = %v, want %v", i, res.Records[i], want[i])
		}
	}
	if len(res.Skipped) != 0 {
		t.Errorf("expected no skips, got %v", res.Skipped)
	}
}

func TestTable_ShortRowHasOnlyPrefix(t *testing.T) {
	page, err := htmldoc.FromHTML("https://example.com/", `<table>
		<thead><tr><th>Name</th><th>Price</th><th>Stock</th></tr></thead>
		<tbody><tr><td>Widget</td></tr></tbody></table>`)
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}

	res, err := Table(context.Background(), page, TableSpec{})
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Records))
	}
	got := res.Records[0]
	if got.Len() != 1 || !got.Has("Name") {
		t.Errorf("expected only Name, got %v", got)
	}
	if got.Has("Price") || got.Has("Stock") {
		t.Errorf("missing cells must not produce keys: %v", got)
	}
}

func TestTable_DuplicateHeaders(t *testing.T) {
	page, err := htmldoc.FromHTML("https://example.com/", `<table>
		<thead><tr><th>Name</th><th>Price</th><th>Price</th><th>Price_2</th><th></th><th>Price</th></tr></thead>
		<tbody><tr><td>Widget</td><td>10</td><td>12</td><td>x</td><td>y</td><td>15</td></tr></tbody></table>`)
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}

	res, err := Table(context.Background(), page, TableSpec{})
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Records))
	}
	want := NewRecord("Name", "Widget", "Price", "10", "Price_3", "12", "Price_2", "x", "column_5", "y", "Price_4", "15")
	if got := res.Records[0]; !got.Equal(want) {
		t.Errorf("record = %v, want %v", got, want)
	}
}

func TestTable_MissingRegion(t *testing.T) {
	page := loadPage(t, "listing.html")
	if _, err := Table(context.Background(), page, TableSpec{}); err == nil {
		t.Error("expected error when page has no table")
	}
}

func TestTable_Idempotent(t *testing.T) {
	page := loadPage(t, "table.html")
	first, err := Table(context.Background(), page, TableSpec{})
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	second, err := Table(context.Background(), page, TableSpec{})
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	if len(first.Records) != len(second.Records) {
		t.Fatalf("record counts differ: %d vs %d", len(first.Records), len(second.Records))
	}
	for i := range first.Records {
		if !first.Records[i].Equal(second.Records[i]) {
			t.Errorf("record[%d] differs between runs", i)
		}
	}
}

func TestListing_DefaultFields(t *testing.T) {
	page := loadPage(t, "listing.html")

	res, err := Listing(context.Background(), page, ListingSpec{ItemSelector: ".product"})
	if err != nil {
		t.Fatalf("Listing() error = %v", err)
	}

	want := []Record{
		NewRecord(FieldName, "Blue Kettle", FieldPrice, "$24.99", FieldRating, "4.5", FieldURL, "/p/kettle"),
		NewRecord(FieldName, "Toaster", FieldPrice, "$39.00"),
		NewRecord(FieldName, "Fallback Lamp", FieldPrice, "$12.50"),
	}
	if len(res.Records) != len(want) {
		t.Fatalf("expected %d records, got %d: %v", len(want), len(res.Records), res.Records)
	}
	for i := range want {
		if !res.Records[i].Equal(want[i]) {
			t.Errorf("record[%d] = %v, want %v", i, res.Records[i], want[i])
		}
	}

	if len(res.Skipped) != 2 {
		t.Fatalf("expected 2 skipped items, got %v", res.Skipped)
	}
	if res.Skipped[0].Index != 2 || !strings.Contains(res.Skipped[0].Reason, FieldName) {
		t.Errorf("unexpected first skip: %v", res.Skipped[0])
	}
	if res.Skipped[1].Index != 3 || !strings.Contains(res.Skipped[1].Reason, FieldPrice) {
		t.Errorf("unexpected second skip: %v", res.Skipped[1])
	}
}

func TestListing_PriceWithoutNameExcluded(t *testing.T) {
	page, err := htmldoc.FromHTML("https://example.com/", `<ul>
		<li class="item"><span class="price">$1</span></li>
	</ul>`)
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}

	res, err := Listing(context.Background(), page, ListingSpec{ItemSelector: ".item"})
	if err != nil {
		t.Fatalf("Listing() error = %v", err)
	}
	if len(res.Records) != 0 {
		t.Errorf("expected no records, got %v", res.Records)
	}
}

func TestListing_CustomFields(t *testing.T) {
	page := loadPage(t, "listing.html")
	spec := ListingSpec{
		ItemSelector: ".product",
		Fields: []FieldLocator{
			{Name: "title", Selectors: []string{"h2"}, Required: true},
			{Name: "link", Selectors: []string{"a"}, Attr: "href"},
		},
	}

	res, err := Listing(context.Background(), page, spec)
	if err != nil {
		t.Fatalf("Listing() error = %v", err)
	}
	// Only the first item has a non-empty h2.
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %v", res.Records)
	}
	if v, _ := res.Records[0].Get("link"); v != "/p/kettle" {
		t.Errorf("expected link /p/kettle, got %q", v)
	}
}

func TestListing_RequiresItemSelector(t *testing.T) {
	page := loadPage(t, "listing.html")
	if _, err := Listing(context.Background(), page, ListingSpec{}); err == nil {
		t.Error("expected error for empty item selector")
	}
}

func TestItemTexts(t *testing.T) {
	page, err := htmldoc.FromHTML("https://example.com/", `<ul>
		<li class="q"> first </li><li class="q"></li><li class="q">second</li>
	</ul>`)
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}

	res, err := ItemTexts(context.Background(), page, ".q", "")
	if err != nil {
		t.Fatalf("ItemTexts() error = %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records, got %v", res.Records)
	}
	if v, _ := res.Records[0].Get("text"); v != "first" {
		t.Errorf("expected trimmed text, got %q", v)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Index != 1 {
		t.Errorf("expected empty item skipped, got %v", res.Skipped)
	}
}

func TestLinks_DropsEmptyHref(t *testing.T) {
	page, err := htmldoc.FromHTML("https://example.com/", `<p>
		<a href="/a">A</a><a href="">empty</a><a href="  ">blank</a><a>none</a>
	</p>`)
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}

	res, err := Links(context.Background(), page)
	if err != nil {
		t.Fatalf("Links() error = %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 link, got %v", res.Records)
	}
	if href, _ := res.Records[0].Get("href"); href != "/a" {
		t.Errorf("unexpected href %q", href)
	}
}

func TestStructuredData_FirstParsedBlock(t *testing.T) {
	page := loadPage(t, "ldjson.html")

	block, skipped, err := StructuredData(context.Background(), page)
	if err != nil {
		t.Fatalf("StructuredData() error = %v", err)
	}
	if block.Type() != "Product" {
		t.Errorf("expected Product block, got %v", block)
	}
	if block["name"] != "Blue Kettle" {
		t.Errorf("unexpected name %v", block["name"])
	}
	if len(skipped) != 1 || skipped[0].Index != 0 {
		t.Errorf("expected malformed first block skipped, got %v", skipped)
	}
}

func TestStructuredData_NoneParse(t *testing.T) {
	page, err := htmldoc.FromHTML("https://example.com/",
		`<script type="application/ld+json">{broken</script><p>x</p>`)
	if err != nil {
		t.Fatalf("FromHTML() error = %v", err)
	}

	block, skipped, err := StructuredData(context.Background(), page)
	if err != nil {
		t.Fatalf("StructuredData() error = %v", err)
	}
	if block == nil || len(block) != 0 {
		t.Errorf("expected empty block, got %v", block)
	}
	if len(skipped) != 1 {
		t.Errorf("expected 1 skip, got %v", skipped)
	}
}

func TestAllStructuredData(t *testing.T) {
	page := loadPage(t, "ldjson.html")

	blocks, skipped, err := AllStructuredData(context.Background(), page)
	if err != nil {
		t.Fatalf("AllStructuredData() error = %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	graph, ok := blocks[1]["@graph"].([]any)
	if !ok || len(graph) != 2 {
		t.Errorf("expected array payload under @graph, got %v", blocks[1])
	}
	if len(skipped) != 2 {
		t.Errorf("expected 2 skips, got %v", skipped)
	}
}

func TestRecord_JSONKeepsOrder(t *testing.T) {
	r := NewRecord("zeta", "1", "alpha", "2", "mid", "3")
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"zeta":"1","alpha":"2","mid":"3"}` {
		t.Errorf("unexpected JSON %s", data)
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !back.Equal(r) {
		t.Errorf("decoded %v, want %v", back, r)
	}
}

func TestRecord_YAMLKeepsOrder(t *testing.T) {
	r := NewRecord("b", "yes", "a", "007")
	data, err := yaml.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	// Values stay strings even when YAML would read them as bool or int.
	var back Record
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !back.Equal(r) {
		t.Errorf("decoded %v from %s, want %v", back, data, r)
	}
	if strings.Index(string(data), "b:") > strings.Index(string(data), "a:") {
		t.Errorf("field order not kept: %s", data)
	}
}

func TestRecord_SetOverwriteKeepsPosition(t *testing.T) {
	var r Record
	r.Set("a", "1")
	r.Set("b", "2")
	r.Set("a", "3")

	keys := r.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("unexpected keys %v", keys)
	}
	if v, _ := r.Get("a"); v != "3" {
		t.Errorf("expected overwritten value, got %q", v)
	}
}

func TestColumns(t *testing.T) {
	cols := Columns([]Record{
		NewRecord("name", "x"),
		NewRecord("price", "1", "name", "y"),
		NewRecord("url", "/"),
	})
	want := []string{"name", "price", "url"}
	if strings.Join(cols, ",") != strings.Join(want, ",") {
		t.Errorf("Columns() = %v, want %v", cols, want)
	}
}
