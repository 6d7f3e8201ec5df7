// Package testutil provides shared fakes and fixtures for package tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mkeller/catsync/internal/domain"
	"github.com/mkeller/catsync/internal/shop"
)

// WriteFile writes content to a file under dir and returns its path.
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// Record builds a minimal valid source record for tests.
func Record(identity, title, price string) domain.SourceRecord {
	p, _ := decimal.NewFromString(price)
	return domain.SourceRecord{
		Identity:  identity,
		Title:     title,
		Vendor:    "Games Workshop",
		Price:     p,
		CompareAt: p,
		Origin:    "export",
	}
}

// MemoryLedger is an in-memory ledger store that counts saves.
type MemoryLedger struct {
	Entries map[string]domain.LedgerEntry
	Saves   int
	FailOn  error
}

func (m *MemoryLedger) Load() (map[string]domain.LedgerEntry, error) {
	if m.FailOn != nil {
		return nil, m.FailOn
	}
	if m.Entries == nil {
		m.Entries = make(map[string]domain.LedgerEntry)
	}
	out := make(map[string]domain.LedgerEntry, len(m.Entries))
	for k, v := range m.Entries {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryLedger) Save(entries map[string]domain.LedgerEntry) error {
	if m.FailOn != nil {
		return m.FailOn
	}
	m.Saves++
	m.Entries = make(map[string]domain.LedgerEntry, len(entries))
	for k, v := range entries {
		m.Entries[k] = v
	}
	return nil
}

// FakeDestination records every write it receives. Calls holds the call
// names in order so tests can assert on sequencing.
type FakeDestination struct {
	Calls []string

	Products      map[int64]shop.Product
	VariantFields map[int64]map[string]interface{}
	ProductFields map[int64]map[string]interface{}
	Costs         map[int64]string
	Activated     map[int64]int64
	Metafields    map[int64][]shop.Metafield
	Images        map[int64][]string

	NextID   int64
	FailStep string
}

func NewFakeDestination() *FakeDestination {
	return &FakeDestination{
		Products:      make(map[int64]shop.Product),
		VariantFields: make(map[int64]map[string]interface{}),
		ProductFields: make(map[int64]map[string]interface{}),
		Costs:         make(map[int64]string),
		Activated:     make(map[int64]int64),
		Metafields:    make(map[int64][]shop.Metafield),
		Images:        make(map[int64][]string),
		NextID:        1000,
	}
}

func (f *FakeDestination) fail(step string) error {
	if f.FailStep == step {
		return fmt.Errorf("injected failure at %s", step)
	}
	return nil
}

func (f *FakeDestination) GetProduct(id int64) (shop.Product, error) {
	f.Calls = append(f.Calls, "GetProduct")
	p, ok := f.Products[id]
	if !ok {
		return shop.Product{}, fmt.Errorf("no product %d", id)
	}
	return p, nil
}

func (f *FakeDestination) CreateProduct(p shop.Product) (shop.Product, error) {
	f.Calls = append(f.Calls, "CreateProduct")
	if err := f.fail("CreateProduct"); err != nil {
		return shop.Product{}, err
	}
	f.NextID++
	p.ID = f.NextID
	p.Status = "draft"
	p.Variants = []shop.Variant{{ID: p.ID + 1, InventoryItemID: p.ID + 2}}
	f.Products[p.ID] = p
	return p, nil
}

func (f *FakeDestination) UpdateProduct(id int64, fields map[string]interface{}) error {
	f.Calls = append(f.Calls, "UpdateProduct")
	if err := f.fail("UpdateProduct"); err != nil {
		return err
	}
	merged := f.ProductFields[id]
	if merged == nil {
		merged = make(map[string]interface{})
	}
	for k, v := range fields {
		merged[k] = v
	}
	f.ProductFields[id] = merged
	return nil
}

func (f *FakeDestination) UpdateVariant(id int64, fields map[string]interface{}) error {
	f.Calls = append(f.Calls, "UpdateVariant")
	if err := f.fail("UpdateVariant"); err != nil {
		return err
	}
	merged := f.VariantFields[id]
	if merged == nil {
		merged = make(map[string]interface{})
	}
	for k, v := range fields {
		merged[k] = v
	}
	f.VariantFields[id] = merged
	return nil
}

func (f *FakeDestination) SetUnitCost(stockUnitID int64, cost string) error {
	f.Calls = append(f.Calls, "SetUnitCost")
	if err := f.fail("SetUnitCost"); err != nil {
		return err
	}
	f.Costs[stockUnitID] = cost
	return nil
}

func (f *FakeDestination) ActivateInventory(stockUnitID, locationID int64) error {
	f.Calls = append(f.Calls, "ActivateInventory")
	if err := f.fail("ActivateInventory"); err != nil {
		return err
	}
	f.Activated[stockUnitID] = locationID
	return nil
}

func (f *FakeDestination) UpsertMetafield(productID int64, m shop.Metafield) error {
	f.Calls = append(f.Calls, "UpsertMetafield")
	if err := f.fail("UpsertMetafield"); err != nil {
		return err
	}
	f.Metafields[productID] = append(f.Metafields[productID], m)
	return nil
}

func (f *FakeDestination) AttachImage(productID int64, src string) error {
	f.Calls = append(f.Calls, "AttachImage")
	if err := f.fail("AttachImage"); err != nil {
		return err
	}
	f.Images[productID] = append(f.Images[productID], src)
	return nil
}
