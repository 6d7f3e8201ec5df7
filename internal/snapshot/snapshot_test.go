package snapshot

import (
	"errors"
	"testing"
	"time"

	"github.com/mkeller/catsync/internal/domain"
	"github.com/mkeller/catsync/internal/shop"
)

// fakeLister serves pages keyed by status and page URL, with optional
// injected failures.
type fakeLister struct {
	pages map[string][]page
	fails map[string]int // status -> remaining failures on first page
	calls int
}

type page struct {
	products []shop.Product
	next     string
}

func (f *fakeLister) ListProducts(status, pageURL string, limit int) ([]shop.Product, string, error) {
	f.calls++
	if n := f.fails[status]; n > 0 {
		f.fails[status] = n - 1
		return nil, "", errors.New("listing unavailable")
	}
	pages := f.pages[status]
	idx := 0
	if pageURL != "" {
		for i, p := range pages {
			if p.next == pageURL {
				idx = i + 1
				break
			}
		}
	}
	if idx >= len(pages) {
		return nil, "", nil
	}
	return pages[idx].products, pages[idx].next, nil
}

func product(id int64, sku, title, tags string) shop.Product {
	return shop.Product{
		ID:     id,
		Title:  title,
		Vendor: "Games Workshop",
		Tags:   tags,
		Variants: []shop.Variant{{
			ID:              id * 10,
			SKU:             sku,
			Price:           "24.99",
			CompareAtPrice:  "29.99",
			Grams:           450,
			InventoryItemID: id * 100,
		}},
	}
}

func newBuilder(l Lister) *Builder {
	return &Builder{Lister: l, PageSize: 2, Backoff: time.Millisecond, Sleep: func(time.Duration) {}}
}

func TestBuildScansAllStatuses(t *testing.T) {
	l := &fakeLister{pages: map[string][]page{
		"active":   {{products: []shop.Product{product(1, "GW-1", "One", "")}}},
		"draft":    {{products: []shop.Product{product(2, "GW-2", "Two", "")}}},
		"archived": {{products: []shop.Product{product(3, "GW-3", "Three", "")}}},
	}}

	idx, err := newBuilder(l).Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(idx.ByIdentity) != 3 {
		t.Fatalf("ByIdentity has %d records, want 3", len(idx.ByIdentity))
	}

	tests := []struct {
		identity string
		want     domain.LifecycleStatus
	}{
		{"GW-1", domain.StatusPublished},
		{"GW-2", domain.StatusDraft},
		{"GW-3", domain.StatusArchived},
	}
	for _, tt := range tests {
		if got := idx.ByIdentity[tt.identity].Status; got != tt.want {
			t.Errorf("%s Status = %s, want %s", tt.identity, got, tt.want)
		}
	}
}

func TestBuildFollowsContinuationLinks(t *testing.T) {
	l := &fakeLister{pages: map[string][]page{
		"active": {
			{products: []shop.Product{product(1, "GW-1", "One", "")}, next: "page2"},
			{products: []shop.Product{product(2, "GW-2", "Two", "")}},
		},
	}}

	idx, err := newBuilder(l).Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(idx.ByIdentity) != 2 {
		t.Fatalf("ByIdentity has %d records, want 2", len(idx.ByIdentity))
	}
	// Two active pages plus one empty page for each remaining status.
	if idx.Pages != 4 {
		t.Fatalf("Pages = %d, want 4", idx.Pages)
	}
}

func TestBuildRetriesThenAbandonsStatus(t *testing.T) {
	l := &fakeLister{
		pages: map[string][]page{
			"draft": {{products: []shop.Product{product(2, "GW-2", "Two", "")}}},
		},
		fails: map[string]int{"active": 10},
	}

	b := newBuilder(l)
	b.PageRetries = 2
	idx, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	// The active scan is abandoned, the other statuses still contribute.
	if idx.FailedPages != 1 {
		t.Fatalf("FailedPages = %d, want 1", idx.FailedPages)
	}
	if _, ok := idx.ByIdentity["GW-2"]; !ok {
		t.Fatal("draft scan lost alongside the failed active scan")
	}
	if got := l.fails["active"]; got != 10-3 {
		t.Fatalf("active attempts = %d, want 3 (initial plus two retries)", 10-got)
	}
}

func TestBuildTransientFailureRecovers(t *testing.T) {
	l := &fakeLister{
		pages: map[string][]page{
			"active": {{products: []shop.Product{product(1, "GW-1", "One", "")}}},
		},
		fails: map[string]int{"active": 1},
	}

	b := newBuilder(l)
	b.PageRetries = 2
	idx, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if idx.FailedPages != 0 {
		t.Fatalf("FailedPages = %d, want 0", idx.FailedPages)
	}
	if _, ok := idx.ByIdentity["GW-1"]; !ok {
		t.Fatal("record lost despite successful retry")
	}
}

func TestIndexProductFields(t *testing.T) {
	l := &fakeLister{pages: map[string][]page{
		"active": {{products: []shop.Product{
			func() shop.Product {
				p := product(1, "GW-1", "Intercessors", "Tabletop Gaming, Auto Import")
				p.Images = []shop.Image{{Src: "a.jpg"}, {Src: "b.jpg"}}
				return p
			}(),
		}}},
	}}

	idx, err := newBuilder(l).Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	rec := idx.ByIdentity["GW-1"]
	if rec.ItemID != 1 || rec.VariantID != 10 || rec.StockUnitID != 100 {
		t.Fatalf("ids = %d/%d/%d", rec.ItemID, rec.VariantID, rec.StockUnitID)
	}
	if rec.Price.StringFixed(2) != "24.99" || rec.CompareAt.StringFixed(2) != "29.99" {
		t.Fatalf("prices = %s/%s", rec.Price, rec.CompareAt)
	}
	if len(rec.Tags) != 2 || rec.Tags[0] != "Tabletop Gaming" {
		t.Fatalf("Tags = %v", rec.Tags)
	}
	if rec.ImageCount != 2 {
		t.Fatalf("ImageCount = %d, want 2", rec.ImageCount)
	}
}

func TestBuildGroupedTitleIndex(t *testing.T) {
	multi := shop.Product{
		ID:    1,
		Title: "Dice Set",
		Variants: []shop.Variant{
			{ID: 10, SKU: "DICE-RED", Price: "9.99"},
			{ID: 11, SKU: "DICE-BLUE", Price: "9.99"},
		},
	}
	l := &fakeLister{pages: map[string][]page{
		"active": {{products: []shop.Product{multi}}},
	}}

	b := newBuilder(l)
	b.Grouped = true
	idx, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if got := len(idx.ByTitle["dice set"]); got != 2 {
		t.Fatalf("ByTitle[dice set] has %d records, want 2", got)
	}
}

func TestBuildSkipsBlankSKUs(t *testing.T) {
	p := shop.Product{ID: 1, Title: "No SKU", Variants: []shop.Variant{{ID: 10, SKU: "  "}}}
	l := &fakeLister{pages: map[string][]page{"active": {{products: []shop.Product{p}}}}}

	idx, err := newBuilder(l).Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(idx.ByIdentity) != 0 {
		t.Fatalf("ByIdentity = %v, want empty", idx.ByIdentity)
	}
}
