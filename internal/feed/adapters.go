package feed

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mkeller/catsync/internal/domain"
	"github.com/mkeller/catsync/internal/money"
)

// exportProduct mirrors the vendor storefront export shape: one product
// with nested variants and images. Tags arrive either as a list or as a
// comma-joined string depending on the source.
type exportProduct struct {
	Title       string          `json:"title"`
	BodyHTML    string          `json:"body_html"`
	Vendor      string          `json:"vendor"`
	ProductType string          `json:"product_type"`
	Tags        json.RawMessage `json:"tags"`
	Images      []exportImage   `json:"images"`
	Variants    []exportVariant `json:"variants"`
}

type exportImage struct {
	Src string `json:"src"`
}

type exportVariant struct {
	SKU       string      `json:"sku"`
	Price     json.Number `json:"price"`
	CompareAt json.Number `json:"compare_at_price"`
	Grams     json.Number `json:"grams"`
	Barcode   string      `json:"barcode"`
	Option1   string      `json:"option1"`
	Option2   string      `json:"option2"`
	Option3   string      `json:"option3"`
	Available *bool       `json:"available"`
}

// ExportAdapter reads a vendor catalog export file (the JSON dump an
// upstream inspector produced) and emits one SourceRecord per variant.
type ExportAdapter struct {
	Path   string
	Origin string
	Game   string

	Vendors  VendorTable
	Factions FactionTable
	Cost     money.CostPolicy

	// RestrictTo propagates a vendor allow-list onto every record, for
	// feeds that must not overwrite listings from other vendors.
	RestrictTo []string

	RequireImages bool
}

// Name implements Adapter.
func (a *ExportAdapter) Name() string { return a.Origin }

// Records implements Adapter.
func (a *ExportAdapter) Records() ([]domain.SourceRecord, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("read export %s: %w", a.Path, err)
	}

	var products []exportProduct
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("parse export %s: %w", a.Path, err)
	}

	var out []domain.SourceRecord
	for _, p := range products {
		tags := decodeTags(p.Tags)
		vendor := a.Vendors.Canonical(a.Game, p.Vendor)
		faction := a.Factions.Match(a.Game, tags)
		images := make([]string, 0, len(p.Images))
		for _, img := range p.Images {
			if img.Src != "" {
				images = append(images, img.Src)
			}
		}

		for _, v := range p.Variants {
			rec := domain.SourceRecord{
				Identity:      strings.TrimSpace(v.SKU),
				Title:         p.Title,
				Vendor:        vendor,
				Game:          a.Game,
				Faction:       faction,
				Description:   p.BodyHTML,
				ImageURLs:     images,
				WeightGrams:   money.ParseGrams(v.Grams.String()),
				Barcode:       v.Barcode,
				Price:         money.Parse(v.Price.String()),
				CompareAt:     money.Parse(v.CompareAt.String()),
				Origin:        a.Origin,
				RestrictedTo:  a.RestrictTo,
				RequireImages: a.RequireImages,
				Unavailable:   v.Available != nil && !*v.Available,
			}
			rec.OptionValues = optionValues(v.Option1, v.Option2, v.Option3)

			msrp := rec.MSRP()
			rec.Price = msrp
			rec.CompareAt = msrp
			if a.Cost != nil {
				rec.Cost = a.Cost.Cost(msrp, vendor, a.Origin)
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// SheetAdapter consumes pre-fetched spreadsheet rows: a header row naming
// at least sku/title/price columns, then one item per row. It is the
// lower-trust backup feed, so callers typically merge it with
// DeferToEarlier set.
type SheetAdapter struct {
	Rows   [][]string
	Origin string
	Vendor string
	Cost   money.CostPolicy
}

// Name implements Adapter.
func (a *SheetAdapter) Name() string { return a.Origin }

// Records implements Adapter.
func (a *SheetAdapter) Records() ([]domain.SourceRecord, error) {
	if len(a.Rows) == 0 {
		return nil, nil
	}

	idx := columnIndex(a.Rows[0])
	if idx.sku < 0 {
		return nil, fmt.Errorf("sheet %s: no sku column in header", a.Origin)
	}

	var out []domain.SourceRecord
	for _, row := range a.Rows[1:] {
		rec := domain.SourceRecord{
			Identity: cell(row, idx.sku),
			Title:    cell(row, idx.title),
			Vendor:   a.Vendor,
			Origin:   a.Origin,
		}
		msrp := money.Parse(cell(row, idx.price))
		rec.Price = msrp
		rec.CompareAt = msrp
		rec.WeightGrams = money.ParseGrams(cell(row, idx.weight))
		if a.Cost != nil {
			rec.Cost = a.Cost.Cost(msrp, a.Vendor, a.Origin)
		}
		out = append(out, rec)
	}
	return out, nil
}

type sheetColumns struct {
	sku, title, price, weight int
}

func columnIndex(header []string) sheetColumns {
	idx := sheetColumns{sku: -1, title: -1, price: -1, weight: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "sku":
			idx.sku = i
		case "title":
			idx.title = i
		case "price", "msrp":
			idx.price = i
		case "weight":
			idx.weight = i
		}
	}
	return idx
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// optionValues collapses the three positional option slots into the list
// of axes actually in use. The destination's placeholder axis for
// single-variant items is not a real axis.
func optionValues(opts ...string) []string {
	var out []string
	for _, o := range opts {
		if o != "" && o != "Default Title" {
			out = append(out, o)
		}
	}
	return out
}

// decodeTags accepts tags as either a JSON array of strings or a single
// comma-joined string.
func decodeTags(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		parts := strings.Split(joined, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
		return out
	}
	return nil
}
