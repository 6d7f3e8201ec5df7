package engine

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mkeller/catsync/internal/apply"
	"github.com/mkeller/catsync/internal/domain"
	"github.com/mkeller/catsync/internal/feed"
	"github.com/mkeller/catsync/internal/notify"
	"github.com/mkeller/catsync/internal/shop"
	"github.com/mkeller/catsync/internal/snapshot"
	"github.com/mkeller/catsync/internal/testutil"
)

type runAdapter struct {
	records []domain.SourceRecord
}

func (a *runAdapter) Name() string { return "export" }

func (a *runAdapter) Records() ([]domain.SourceRecord, error) { return a.records, nil }

// runLister serves each fixture product under its own lifecycle status.
type runLister struct {
	products []shop.Product
}

func (l *runLister) ListProducts(status, pageURL string, limit int) ([]shop.Product, string, error) {
	var page []shop.Product
	for _, p := range l.products {
		if p.Status == status {
			page = append(page, p)
		}
	}
	return page, "", nil
}

type recordingNotifier struct {
	created   []notify.Item
	conflicts []notify.Item
}

func (n *recordingNotifier) NewItems(runID string, items []notify.Item) { n.created = items }

func (n *recordingNotifier) Conflicts(runID string, items []notify.Item) { n.conflicts = items }

type runHarness struct {
	runner *Runner
	dest   *testutil.FakeDestination
	ledger *testutil.MemoryLedger
	notes  *recordingNotifier
}

func newHarness(records []domain.SourceRecord, live []shop.Product) *runHarness {
	dest := testutil.NewFakeDestination()
	led := &testutil.MemoryLedger{}
	notes := &recordingNotifier{}
	ctx := &apply.Context{MetafieldNamespace: "custom"}

	return &runHarness{
		runner: &Runner{
			Rules:   testRules(),
			Sources: []feed.Source{{Adapter: &runAdapter{records: records}}},
			Snapshot: &snapshot.Builder{
				Lister: &runLister{products: live},
				Sleep:  func(time.Duration) {},
			},
			Ledger: led,
			Items: &apply.Itemwise{
				Dest:     dest,
				Ledger:   led,
				Images:   apply.Passthrough{},
				Ctx:      ctx,
				BaseTags: []string{"Tabletop Gaming", "Auto Import"},
			},
			Notifier: notes,
		},
		dest:   dest,
		ledger: led,
		notes:  notes,
	}
}

func TestRunCreatesMissingItem(t *testing.T) {
	h := newHarness([]domain.SourceRecord{record("GW-1000")}, nil)

	report, err := h.runner.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Created != 1 || report.Failed != 0 {
		t.Fatalf("Created = %d Failed = %d", report.Created, report.Failed)
	}
	if report.RunID == "" {
		t.Fatal("RunID missing")
	}

	entry := h.ledger.Entries["GW-1000"]
	if entry.State != domain.LedgerDraftCreated || entry.DestinationItemID == 0 {
		t.Fatalf("entry = %+v", entry)
	}
	if len(h.notes.created) != 1 || h.notes.created[0].Identity != "GW-1000" {
		t.Fatalf("notified created = %v", h.notes.created)
	}
}

func TestRunSecondPassIsNoOp(t *testing.T) {
	src := record("GW-1000")
	live := shop.Product{
		ID:     42,
		Title:  "Test Item",
		Vendor: "Games Workshop",
		Status: "draft",
		Tags:   "Tabletop Gaming, Auto Import",
		Variants: []shop.Variant{{
			ID: 420, SKU: "GW-1000", Price: "29.99", CompareAtPrice: "29.99", InventoryItemID: 4200,
		}},
	}
	h := newHarness([]domain.SourceRecord{src}, []shop.Product{live})

	report, err := h.runner.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.NoOps != 1 || report.Created != 0 || report.Updated != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(h.dest.Calls) != 0 {
		t.Fatalf("destination written on a no-op run: %v", h.dest.Calls)
	}
}

func TestRunLedgerUnavailableIsFatal(t *testing.T) {
	h := newHarness([]domain.SourceRecord{record("GW-1000")}, nil)
	h.ledger.FailOn = errors.New("disk gone")

	_, err := h.runner.Run()
	if err == nil || !strings.Contains(err.Error(), "ledger unavailable") {
		t.Fatalf("err = %v, want ledger unavailable", err)
	}
	if len(h.dest.Calls) != 0 {
		t.Fatalf("remote calls made without a ledger: %v", h.dest.Calls)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	h := newHarness([]domain.SourceRecord{record("GW-1000")}, nil)
	h.runner.DryRun = true

	report, err := h.runner.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Created != 1 {
		t.Fatalf("Created = %d, want decision still counted", report.Created)
	}
	if len(h.dest.Calls) != 0 {
		t.Fatalf("dry run wrote: %v", h.dest.Calls)
	}
	if h.ledger.Saves != 0 {
		t.Fatalf("dry run saved the ledger %d times", h.ledger.Saves)
	}
}

func TestRunLimit(t *testing.T) {
	records := []domain.SourceRecord{record("GW-1"), record("GW-2"), record("GW-3")}
	h := newHarness(records, nil)
	h.runner.DryRun = true
	h.runner.Limit = 2

	report, err := h.runner.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Processed != 2 {
		t.Fatalf("Processed = %d, want 2", report.Processed)
	}
}

func TestRunDemotesConflictingActiveListing(t *testing.T) {
	src := record("GW-1000")
	src.Price = dec("19.99")
	src.CompareAt = dec("19.99")
	live := shop.Product{
		ID:     42,
		Title:  "Test Item",
		Vendor: "Games Workshop",
		Status: "active",
		Tags:   "Warhammer 40k",
		Variants: []shop.Variant{{
			ID: 420, SKU: "GW-1000", Price: "24.99", CompareAtPrice: "29.99", InventoryItemID: 4200,
		}},
	}
	h := newHarness([]domain.SourceRecord{src}, []shop.Product{live})

	report, err := h.runner.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Skipped[domain.DecisionSkipActive] != 1 {
		t.Fatalf("Skipped = %v", report.Skipped)
	}

	fields := h.dest.ProductFields[42]
	if fields["status"] != "draft" {
		t.Fatalf("fields = %v, want status draft", fields)
	}
	if !strings.Contains(fields["tags"].(string), "Sync Conflict") {
		t.Fatalf("tags = %v, want diagnostic tag", fields["tags"])
	}
	if len(h.notes.conflicts) != 1 {
		t.Fatalf("conflicts = %v, want one", h.notes.conflicts)
	}
}

func TestRunIsolatesItemFailures(t *testing.T) {
	h := newHarness([]domain.SourceRecord{record("GW-1"), record("GW-2")}, nil)
	h.dest.FailStep = "CreateProduct"

	report, err := h.runner.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Failed != 2 {
		t.Fatalf("Failed = %d, want 2", report.Failed)
	}
	// Failed creates are excluded from notifications.
	if len(h.notes.created) != 0 {
		t.Fatalf("notified created = %v", h.notes.created)
	}
}

type runBulkAPI struct {
	staged string
	fail   bool
}

func (f *runBulkAPI) SubmitQueryJob(query string) (shop.BulkJob, error) {
	return shop.BulkJob{ID: "job-1", Status: shop.JobCreated}, nil
}

func (f *runBulkAPI) SubmitMutationJob(mutation, stagedPath string) (shop.BulkJob, error) {
	return shop.BulkJob{ID: "job-1", Status: shop.JobCreated}, nil
}

func (f *runBulkAPI) PollJob(id string) (shop.BulkJob, error) {
	if f.fail {
		return shop.BulkJob{ID: id, Status: shop.JobFailed, ErrorCode: "TIMEOUT"}, nil
	}
	return shop.BulkJob{ID: id, Status: shop.JobCompleted}, nil
}

func (f *runBulkAPI) DownloadResult(resultURL string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *runBulkAPI) CreateStagedUpload(filename string) (shop.StagedTarget, error) {
	return shop.StagedTarget{Path: "tmp/" + filename}, nil
}

func (f *runBulkAPI) UploadStaged(target shop.StagedTarget, filename string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.staged = string(data)
	return nil
}

func bulkUpdateScenario(t *testing.T) (*runHarness, *runBulkAPI) {
	t.Helper()
	src := record("GW-1000")
	src.Price = dec("34.99")
	src.CompareAt = dec("34.99")
	src.Faction = "Chaos"
	live := shop.Product{
		ID:     42,
		Title:  "Test Item",
		Vendor: "Games Workshop",
		Status: "draft",
		Tags:   "Tabletop Gaming, Auto Import",
		Variants: []shop.Variant{{
			ID: 420, SKU: "GW-1000", Price: "29.99", CompareAtPrice: "29.99", InventoryItemID: 4200,
		}},
	}
	h := newHarness([]domain.SourceRecord{src}, []shop.Product{live})
	api := &runBulkAPI{}
	h.runner.Bulk = &apply.Bulk{API: api, Sleep: func(time.Duration) {}, MaxPolls: 5}
	h.runner.ForceBulk = true
	return h, api
}

func TestRunBulkUpdates(t *testing.T) {
	h, api := bulkUpdateScenario(t)

	report, err := h.runner.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Updated != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if !strings.Contains(api.staged, `"compare_at_price":"34.99"`) {
		t.Fatalf("staged = %q", api.staged)
	}
	// Classification rides along in the payload rather than being dropped.
	if !strings.Contains(api.staged, `"metafields":{"faction":"Chaos"}`) {
		t.Fatalf("staged = %q, want metafields", api.staged)
	}
	// Itemwise update path must not have run.
	if len(h.dest.Calls) != 0 {
		t.Fatalf("itemwise calls on bulk path: %v", h.dest.Calls)
	}
	if h.ledger.Entries["GW-1000"].State != domain.LedgerSynced {
		t.Fatalf("entry = %+v", h.ledger.Entries["GW-1000"])
	}
}

func TestRunBulkJobFailureAbandonsUpdates(t *testing.T) {
	h, api := bulkUpdateScenario(t)
	api.fail = true

	report, err := h.runner.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", report.Failed)
	}
	if h.ledger.Entries["GW-1000"].State == domain.LedgerSynced {
		t.Fatal("failed bulk job must not mark entries synced")
	}
}

func TestRunBulkRoutesImageChangesItemwise(t *testing.T) {
	src := record("GW-1000")
	src.ImageURLs = []string{"https://cdn.example.com/a.jpg"}
	live := shop.Product{
		ID:     42,
		Title:  "Test Item",
		Vendor: "Games Workshop",
		Status: "draft",
		Tags:   "Tabletop Gaming, Auto Import",
		Variants: []shop.Variant{{
			ID: 420, SKU: "GW-1000", Price: "29.99", CompareAtPrice: "29.99", InventoryItemID: 4200,
		}},
	}
	h := newHarness([]domain.SourceRecord{src}, []shop.Product{live})
	api := &runBulkAPI{}
	h.runner.Bulk = &apply.Bulk{API: api, Sleep: func(time.Duration) {}, MaxPolls: 5}
	h.runner.ForceBulk = true

	report, err := h.runner.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Updated != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	// The image attach must actually happen, not be staged into a mutation
	// line that cannot express it.
	if api.staged != "" {
		t.Fatalf("staged = %q, want image changeset kept off the bulk channel", api.staged)
	}
	found := false
	for _, call := range h.dest.Calls {
		if call == "AttachImage" {
			found = true
		}
	}
	if !found {
		t.Fatalf("calls = %v, want AttachImage", h.dest.Calls)
	}
	if h.ledger.Entries["GW-1000"].State != domain.LedgerSynced {
		t.Fatalf("entry = %+v", h.ledger.Entries["GW-1000"])
	}
}

func TestRunGroupedTitleFallback(t *testing.T) {
	src := record("GW-1000")
	src.Title = "Dice Set"
	live := shop.Product{
		ID:     42,
		Title:  "dice set ",
		Vendor: "Games Workshop",
		Status: "draft",
		Tags:   "Tabletop Gaming, Auto Import",
		Variants: []shop.Variant{{
			ID: 420, SKU: "OTHER-SKU", Price: "29.99", CompareAtPrice: "29.99", InventoryItemID: 4200,
		}},
	}
	h := newHarness([]domain.SourceRecord{src}, []shop.Product{live})
	h.runner.Grouped = true
	h.runner.Snapshot.Grouped = true
	h.runner.DryRun = true

	report, err := h.runner.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	// The identity is unknown but the normalized title matches, so the item
	// reconciles against the existing listing instead of being created.
	if report.Created != 0 {
		t.Fatalf("Created = %d, want title fallback to suppress create", report.Created)
	}
}
