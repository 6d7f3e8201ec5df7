package engine

import (
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"github.com/mkeller/catsync/internal/apply"
	"github.com/mkeller/catsync/internal/domain"
	"github.com/mkeller/catsync/internal/feed"
	"github.com/mkeller/catsync/internal/ledger"
	"github.com/mkeller/catsync/internal/money"
	"github.com/mkeller/catsync/internal/notify"
	"github.com/mkeller/catsync/internal/snapshot"
)

// Outcome pairs one identity with the decision the engine took for it.
type Outcome struct {
	Identity string
	Source   domain.SourceRecord
	Live     *domain.LiveRecord
	Decision domain.Decision
	Err      error
}

// Report is the completion signal of one run.
type Report struct {
	RunID       string
	Processed   int
	Created     int
	Updated     int
	Quarantined int
	NoOps       int
	Failed      int
	Skipped     map[domain.DecisionKind]int

	Merge    feed.Stats
	Pages    int
	Outcomes []Outcome
}

// Runner wires one batch pass: merge the sources, snapshot the
// destination, decide every identity, execute the decisions through the
// chosen channel, and notify on aggregate outcomes. Single logical thread,
// no concurrent decision execution.
type Runner struct {
	Rules    *Rules
	Sources  []feed.Source
	Snapshot *snapshot.Builder
	Ledger   ledger.Store
	Items    *apply.Itemwise
	Bulk     *apply.Bulk
	Notifier notify.Notifier

	Grouped bool
	DryRun  bool

	// Limit caps processed identities for ad-hoc partial runs; zero means
	// no cap.
	Limit int

	// ForceBulk routes all updates through the bulk channel regardless of
	// scale; otherwise bulk engages when updates span at least
	// BulkThreshold of the live catalog.
	ForceBulk     bool
	BulkThreshold float64
}

// Run executes one reconciliation pass.
func (r *Runner) Run() (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		Skipped: make(map[domain.DecisionKind]int),
	}

	// Without the ledger the run has no idempotency memory; proceeding
	// risks duplicate creation, so this is the one fatal failure.
	entries, err := r.Ledger.Load()
	if err != nil {
		return nil, fmt.Errorf("ledger unavailable: %w", err)
	}

	merged := feed.Merge(r.Sources, r.Grouped)
	report.Merge = merged.Stats

	idx, err := r.Snapshot.Build()
	if err != nil {
		return nil, fmt.Errorf("destination snapshot: %w", err)
	}
	report.Pages = idx.Pages

	identities := make([]string, 0, len(merged.ByIdentity))
	for identity := range merged.ByIdentity {
		identities = append(identities, identity)
	}
	sort.Strings(identities)

	for _, identity := range identities {
		if r.Limit > 0 && report.Processed >= r.Limit {
			break
		}
		report.Processed++

		src := merged.ByIdentity[identity]
		live := lookupLive(idx, identity, src.Title)

		var entry *domain.LedgerEntry
		if e, ok := entries[identity]; ok {
			entry = &e
		}

		d := r.Rules.Decide(src, live, entry)
		report.Outcomes = append(report.Outcomes, Outcome{
			Identity: identity,
			Source:   src,
			Live:     live,
			Decision: d,
		})
	}

	r.tally(report)
	if r.DryRun {
		return report, nil
	}

	r.execute(report, idx, entries)

	// Redundant when every item already saved incrementally, but it
	// leaves the ledger consistent after bulk paths.
	if err := r.Ledger.Save(entries); err != nil {
		return report, fmt.Errorf("final ledger save: %w", err)
	}

	r.notifyOutcomes(report)
	return report, nil
}

// lookupLive resolves the live record for an identity, falling back to the
// grouped title index when the identity itself is unknown.
func lookupLive(idx *snapshot.Index, identity, title string) *domain.LiveRecord {
	if rec, ok := idx.ByIdentity[identity]; ok {
		return &rec
	}
	if idx.ByTitle != nil {
		if subs := idx.ByTitle[domain.NormalizeTitle(title)]; len(subs) > 0 {
			return &subs[0]
		}
	}
	return nil
}

func (r *Runner) tally(report *Report) {
	for _, o := range report.Outcomes {
		switch o.Decision.Kind {
		case domain.DecisionCreate:
			report.Created++
		case domain.DecisionUpdate:
			report.Updated++
		case domain.DecisionQuarantine:
			report.Quarantined++
		case domain.DecisionNoOp:
			report.NoOps++
		default:
			report.Skipped[o.Decision.Kind]++
		}
	}
}

// execute applies the decided outcomes. Creates and conflict demotions are
// always itemwise; updates switch to the bulk channel at scale. Every
// per-item failure is isolated.
func (r *Runner) execute(report *Report, idx *snapshot.Index, entries map[string]domain.LedgerEntry) {
	var updates []*Outcome
	for i := range report.Outcomes {
		o := &report.Outcomes[i]
		switch o.Decision.Kind {
		case domain.DecisionCreate:
			if err := r.Items.Create(o.Source, entries); err != nil {
				log.Printf("engine: create %s: %v", o.Identity, err)
				o.Err = err
				report.Failed++
			}
		case domain.DecisionUpdate:
			updates = append(updates, o)
		case domain.DecisionSkipActive:
			if o.Decision.Changes != nil && o.Live != nil {
				if err := r.Items.Demote(*o.Live, o.Decision.Changes); err != nil {
					log.Printf("engine: demote %s: %v", o.Identity, err)
					o.Err = err
					report.Failed++
				}
			}
		case domain.DecisionQuarantine:
			if err := r.Items.Quarantine(o.Source, entries); err != nil {
				log.Printf("engine: quarantine %s: %v", o.Identity, err)
				o.Err = err
				report.Failed++
			}
		}
	}

	if len(updates) == 0 {
		return
	}

	if r.useBulk(len(updates), len(idx.ByIdentity)) {
		// Image attaches depend on the gallery-empty check and the image
		// host, both per-item concerns the mutation payload cannot express;
		// those changesets stay itemwise even at scale.
		var staged, direct []*Outcome
		for _, o := range updates {
			if len(o.Decision.Changes.AttachImages) > 0 {
				direct = append(direct, o)
			} else {
				staged = append(staged, o)
			}
		}
		if len(staged) > 0 {
			r.executeBulk(report, staged, entries)
		}
		r.updateItemwise(report, direct, entries)
		return
	}

	r.updateItemwise(report, updates, entries)
}

func (r *Runner) updateItemwise(report *Report, updates []*Outcome, entries map[string]domain.LedgerEntry) {
	for _, o := range updates {
		if err := r.Items.Update(o.Source, *o.Live, o.Decision.Changes, entries); err != nil {
			log.Printf("engine: update %s: %v", o.Identity, err)
			o.Err = err
			report.Failed++
		}
	}
}

func (r *Runner) useBulk(updateCount, catalogSize int) bool {
	if r.Bulk == nil {
		return false
	}
	if r.ForceBulk {
		return true
	}
	if r.BulkThreshold <= 0 || catalogSize == 0 {
		return false
	}
	return float64(updateCount) >= r.BulkThreshold*float64(catalogSize)
}

// variantMutation is one line of the bulk mutation payload file.
type variantMutation struct {
	ProductID      int64             `json:"product_id"`
	VariantID      int64             `json:"variant_id"`
	CompareAtPrice string            `json:"compare_at_price,omitempty"`
	Grams          *int              `json:"grams,omitempty"`
	Vendor         string            `json:"vendor,omitempty"`
	Cost           string            `json:"cost,omitempty"`
	AddTags        []string          `json:"add_tags,omitempty"`
	Metafields     map[string]string `json:"metafields,omitempty"`
}

// executeBulk stages all update payloads as one mutation job. A failed or
// canceled job abandons only these updates; everything already applied
// itemwise stands.
func (r *Runner) executeBulk(report *Report, updates []*Outcome, entries map[string]domain.LedgerEntry) {
	payloads := make([]interface{}, 0, len(updates))
	for _, o := range updates {
		m := variantMutation{
			ProductID:  o.Live.ItemID,
			VariantID:  o.Live.VariantID,
			AddTags:    o.Decision.Changes.AddTags,
			Metafields: o.Decision.Changes.Metafields,
		}
		if o.Decision.Changes.NewCompareAt != nil {
			m.CompareAtPrice = money.String(*o.Decision.Changes.NewCompareAt)
		}
		if o.Decision.Changes.NewWeight != nil {
			m.Grams = o.Decision.Changes.NewWeight
		}
		if o.Decision.Changes.NewVendor != nil {
			m.Vendor = *o.Decision.Changes.NewVendor
		}
		if o.Decision.Changes.NewCost != nil {
			m.Cost = money.String(*o.Decision.Changes.NewCost)
		}
		payloads = append(payloads, m)
	}

	err := r.Bulk.RunMutations("variantBulkUpdate", "catsync-updates.jsonl", payloads)
	if err != nil {
		log.Printf("engine: bulk update job abandoned: %v", err)
		for _, o := range updates {
			o.Err = err
		}
		report.Failed += len(updates)
		return
	}

	for _, o := range updates {
		entry := entries[o.Identity]
		entry.Identity = o.Identity
		entry.Title = o.Source.Title
		entry.Vendor = o.Source.Vendor
		entry.DestinationItemID = o.Live.ItemID
		entry.State = domain.LedgerSynced
		entries[o.Identity] = entry
	}
}

func (r *Runner) notifyOutcomes(report *Report) {
	if r.Notifier == nil {
		return
	}

	var created, conflicts []notify.Item
	for _, o := range report.Outcomes {
		if o.Err != nil {
			continue
		}
		switch o.Decision.Kind {
		case domain.DecisionCreate:
			created = append(created, notify.Item{
				Identity: o.Identity,
				Title:    o.Source.Title,
				Vendor:   o.Source.Vendor,
			})
		case domain.DecisionSkipActive:
			if o.Decision.Changes != nil {
				conflicts = append(conflicts, notify.Item{
					Identity: o.Identity,
					Title:    o.Source.Title,
					Vendor:   o.Source.Vendor,
					Detail:   o.Decision.Reason,
				})
			}
		}
	}

	r.Notifier.NewItems(report.RunID, created)
	r.Notifier.Conflicts(report.RunID, conflicts)
}
