package apply

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mkeller/catsync/internal/domain"
	"github.com/mkeller/catsync/internal/testutil"
)

func newItemwise(dest *testutil.FakeDestination, led *testutil.MemoryLedger) *Itemwise {
	return &Itemwise{
		Dest:   dest,
		Ledger: led,
		Images: Passthrough{},
		Ctx:    &Context{LocationID: 77, MetafieldNamespace: "custom"},

		BaseTags:    []string{"Tabletop Gaming", "Auto Import"},
		ProductType: "Tabletop Game",
	}
}

func sourceRecord() domain.SourceRecord {
	src := testutil.Record("GW-1000", "Intercessors", "55.00")
	src.Game = "Warhammer 40k"
	src.Faction = "Space Marines"
	src.Cost = decimal.RequireFromString("33.00")
	src.WeightGrams = 450
	src.ImageURLs = []string{"https://source.example.com/a.jpg"}
	return src
}

func TestCreateSequence(t *testing.T) {
	dest := testutil.NewFakeDestination()
	led := &testutil.MemoryLedger{}
	a := newItemwise(dest, led)

	entries := map[string]domain.LedgerEntry{}
	if err := a.Create(sourceRecord(), entries); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	want := []string{
		"CreateProduct", "UpdateVariant", "SetUnitCost", "ActivateInventory",
		"UpsertMetafield", "UpsertMetafield", "AttachImage",
	}
	if len(dest.Calls) != len(want) {
		t.Fatalf("Calls = %v, want %v", dest.Calls, want)
	}
	if dest.Calls[0] != "CreateProduct" || dest.Calls[1] != "UpdateVariant" {
		t.Fatalf("Calls = %v, shell and variant must come first", dest.Calls)
	}

	entry := entries["GW-1000"]
	if entry.State != domain.LedgerDraftCreated {
		t.Fatalf("State = %s, want draft_created", entry.State)
	}
	if entry.DestinationItemID == 0 {
		t.Fatal("DestinationItemID not recorded")
	}
	// Saved once for the shell, once at the end.
	if led.Saves != 2 {
		t.Fatalf("Saves = %d, want 2", led.Saves)
	}

	prod := dest.Products[entry.DestinationItemID]
	if prod.Status != "draft" {
		t.Fatalf("Status = %q, want draft", prod.Status)
	}
	fields := dest.VariantFields[prod.Variants[0].ID]
	if fields["price"] != "55.00" || fields["compare_at_price"] != "55.00" {
		t.Fatalf("variant fields = %v, want price and compare_at at 55.00", fields)
	}
	if fields["sku"] != "GW-1000" {
		t.Fatalf("sku = %v, want GW-1000", fields["sku"])
	}
	if dest.Costs[prod.Variants[0].InventoryItemID] != "33.00" {
		t.Fatalf("cost = %v, want 33.00", dest.Costs)
	}
	if dest.Activated[prod.Variants[0].InventoryItemID] != 77 {
		t.Fatalf("Activated = %v, want location 77", dest.Activated)
	}
}

func TestCreateResumesAfterPartialRun(t *testing.T) {
	dest := testutil.NewFakeDestination()
	led := &testutil.MemoryLedger{}
	a := newItemwise(dest, led)

	// First run dies right after the shell exists.
	dest.FailStep = "UpdateVariant"
	entries := map[string]domain.LedgerEntry{}
	if err := a.Create(sourceRecord(), entries); err == nil {
		t.Fatal("Create() should fail on injected variant error")
	}
	shellID := entries["GW-1000"].DestinationItemID
	if shellID == 0 {
		t.Fatal("partial create must record the shell ID before failing")
	}

	// Second run resumes against the same shell instead of duplicating it.
	dest.FailStep = ""
	dest.Calls = nil
	if err := a.Create(sourceRecord(), entries); err != nil {
		t.Fatalf("resumed Create() error: %v", err)
	}
	if dest.Calls[0] != "GetProduct" {
		t.Fatalf("Calls = %v, resume must start with GetProduct", dest.Calls)
	}
	for _, c := range dest.Calls {
		if c == "CreateProduct" {
			t.Fatal("resumed create duplicated the shell")
		}
	}
	if got := entries["GW-1000"].DestinationItemID; got != shellID {
		t.Fatalf("DestinationItemID = %d, want %d", got, shellID)
	}
}

func TestUpdateAppliesOnlyChangeset(t *testing.T) {
	dest := testutil.NewFakeDestination()
	led := &testutil.MemoryLedger{}
	a := newItemwise(dest, led)

	src := sourceRecord()
	live := domain.LiveRecord{
		ItemID:      500,
		VariantID:   501,
		StockUnitID: 502,
		Tags:        []string{"Tabletop Gaming"},
		ImageCount:  3,
	}
	compare := decimal.RequireFromString("55.00")
	changes := &domain.Changeset{
		NewCompareAt: &compare,
		AddTags:      []string{"Auto Import"},
	}

	entries := map[string]domain.LedgerEntry{}
	if err := a.Update(src, live, changes, entries); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if dest.VariantFields[501]["compare_at_price"] != "55.00" {
		t.Fatalf("variant fields = %v", dest.VariantFields)
	}
	if _, ok := dest.VariantFields[501]["grams"]; ok {
		t.Fatal("weight written without a weight change")
	}
	if len(dest.Costs) != 0 {
		t.Fatal("cost written without a cost change")
	}
	if got := dest.ProductFields[500]["tags"]; got != "Tabletop Gaming, Auto Import" {
		t.Fatalf("tags = %v, want union preserving live order", got)
	}
	if len(dest.Images[500]) != 0 {
		t.Fatal("images attached to a populated gallery")
	}
	if entries["GW-1000"].State != domain.LedgerSynced {
		t.Fatalf("State = %s, want synced", entries["GW-1000"].State)
	}
	if led.Saves != 1 {
		t.Fatalf("Saves = %d, want 1", led.Saves)
	}
}

func TestUpdateAttachesToEmptyGallery(t *testing.T) {
	dest := testutil.NewFakeDestination()
	a := newItemwise(dest, &testutil.MemoryLedger{})

	live := domain.LiveRecord{ItemID: 500, VariantID: 501, ImageCount: 0}
	changes := &domain.Changeset{AttachImages: []string{"https://source.example.com/a.jpg"}}

	if err := a.Update(sourceRecord(), live, changes, map[string]domain.LedgerEntry{}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if len(dest.Images[500]) != 1 {
		t.Fatalf("Images = %v, want one attached", dest.Images)
	}
}

func TestDemote(t *testing.T) {
	dest := testutil.NewFakeDestination()
	a := newItemwise(dest, &testutil.MemoryLedger{})

	live := domain.LiveRecord{
		ItemID: 500,
		Status: domain.StatusPublished,
		Tags:   []string{"Warhammer 40k"},
	}
	changes := &domain.Changeset{FlipToDraft: true, DiagnosticTag: "Sync Conflict"}

	if err := a.Demote(live, changes); err != nil {
		t.Fatalf("Demote() error: %v", err)
	}

	fields := dest.ProductFields[500]
	if fields["status"] != "draft" {
		t.Fatalf("status = %v, want draft", fields["status"])
	}
	if fields["tags"] != "Warhammer 40k, Sync Conflict" {
		t.Fatalf("tags = %v", fields["tags"])
	}
	if _, ok := fields["price"]; ok {
		t.Fatal("demote touched pricing")
	}
}

func TestQuarantine(t *testing.T) {
	led := &testutil.MemoryLedger{}
	a := newItemwise(testutil.NewFakeDestination(), led)

	entries := map[string]domain.LedgerEntry{}
	if err := a.Quarantine(sourceRecord(), entries); err != nil {
		t.Fatalf("Quarantine() error: %v", err)
	}
	if entries["GW-1000"].State != domain.LedgerIgnored {
		t.Fatalf("State = %s, want permanently_ignored", entries["GW-1000"].State)
	}
	if led.Saves != 1 {
		t.Fatalf("Saves = %d, want 1", led.Saves)
	}
}

type rateLimitedHost struct{ calls int }

func (h *rateLimitedHost) Host(sourceURL string) (string, error) {
	h.calls++
	return "", ErrHostRateLimited
}

func TestHostRateLimitDegradesRun(t *testing.T) {
	dest := testutil.NewFakeDestination()
	a := newItemwise(dest, &testutil.MemoryLedger{})
	host := &rateLimitedHost{}
	a.Images = host

	src := sourceRecord()
	src.ImageURLs = []string{"https://source.example.com/a.jpg", "https://source.example.com/b.jpg"}

	if err := a.Create(src, map[string]domain.LedgerEntry{}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if host.calls != 1 {
		t.Fatalf("host calls = %d, want 1 before degrading", host.calls)
	}
	if !a.Ctx.ImagesDegraded() {
		t.Fatal("context not degraded after rate limit")
	}
	// Both images still attach, by source URL.
	var attached []string
	for _, urls := range dest.Images {
		attached = urls
	}
	if len(attached) != 2 || attached[0] != "https://source.example.com/a.jpg" {
		t.Fatalf("attached = %v, want both source urls", attached)
	}
}

func TestHostFailureFallsBackPerURL(t *testing.T) {
	a := newItemwise(testutil.NewFakeDestination(), &testutil.MemoryLedger{})
	a.Images = hostFunc(func(u string) (string, error) {
		if u == "https://source.example.com/a.jpg" {
			return "", errors.New("boom")
		}
		return "https://cdn.example.com/b.jpg", nil
	})

	got := a.hostURLs([]string{"https://source.example.com/a.jpg", "https://source.example.com/b.jpg"})
	if got[0] != "https://source.example.com/a.jpg" {
		t.Fatalf("got[0] = %q, want source url fallback", got[0])
	}
	if got[1] != "https://cdn.example.com/b.jpg" {
		t.Fatalf("got[1] = %q, want hosted url", got[1])
	}
	if a.Ctx.ImagesDegraded() {
		t.Fatal("ordinary failure must not degrade the run")
	}
}

type hostFunc func(string) (string, error)

func (f hostFunc) Host(u string) (string, error) { return f(u) }
