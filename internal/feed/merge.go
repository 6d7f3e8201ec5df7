// Package feed folds the output of every source adapter into one canonical
// mapping from item identity to SourceRecord.
//
// Adapters are applied in a contractually fixed order with last-applied-wins
// semantics: when two adapters emit the same identity, the later one
// prevails unless it opted into deferring to earlier, more authoritative
// adapters. A malformed record is dropped and counted, never aborting the
// merge.
package feed

import (
	"log"
	"strings"

	"github.com/mkeller/catsync/internal/domain"
)

// Adapter produces a sequence of normalized item observations from one
// external catalog or spreadsheet.
type Adapter interface {
	// Name is the origin tag stamped on every record the adapter emits.
	Name() string
	Records() ([]domain.SourceRecord, error)
}

// Source pairs an adapter with its merge-time filtering rules. Filtering
// never depends on another adapter's output except the single
// already-present check.
type Source struct {
	Adapter Adapter

	// DeferToEarlier skips records whose identity was already produced by
	// an earlier adapter, instead of overriding them.
	DeferToEarlier bool

	// IdentityPrefixes, when non-empty, accepts only identities starting
	// with one of the given prefixes.
	IdentityPrefixes []string
}

// Stats counts what happened during a merge.
type Stats struct {
	Emitted       int            // records seen across all adapters
	Dropped       int            // malformed, discarded
	Filtered      int            // rejected by prefix or defer rules
	Overridden    int            // earlier records replaced by later adapters
	PerOrigin     map[string]int // surviving records per adapter
	AdapterErrors []error        // whole-adapter failures, isolated
}

// Result is the canonical view of the source world for one run.
type Result struct {
	ByIdentity map[string]domain.SourceRecord

	// ByTitle groups all variant records sharing a normalized display
	// title. Populated only in grouped mode.
	ByTitle map[string][]domain.SourceRecord

	Stats Stats
}

// Merge applies the sources in order and returns the canonical mapping.
// Grouped mode additionally builds the title-keyed variant index. An
// adapter that fails outright is recorded and skipped; the merge continues
// with the remaining adapters.
func Merge(sources []Source, grouped bool) *Result {
	res := &Result{
		ByIdentity: make(map[string]domain.SourceRecord),
	}
	res.Stats.PerOrigin = make(map[string]int)

	for _, src := range sources {
		records, err := src.Adapter.Records()
		if err != nil {
			log.Printf("feed: adapter %s failed: %v", src.Adapter.Name(), err)
			res.Stats.AdapterErrors = append(res.Stats.AdapterErrors, err)
			continue
		}

		for _, rec := range records {
			res.Stats.Emitted++
			rec.Identity = strings.TrimSpace(rec.Identity)
			if rec.Origin == "" {
				rec.Origin = src.Adapter.Name()
			}

			if err := domain.ValidateSourceRecord(&rec); err != nil {
				res.Stats.Dropped++
				continue
			}
			if !matchesPrefix(rec.Identity, src.IdentityPrefixes) {
				res.Stats.Filtered++
				continue
			}
			if _, present := res.ByIdentity[rec.Identity]; present {
				if src.DeferToEarlier {
					res.Stats.Filtered++
					continue
				}
				res.Stats.Overridden++
			}
			res.ByIdentity[rec.Identity] = rec
		}
	}

	for _, rec := range res.ByIdentity {
		res.Stats.PerOrigin[rec.Origin]++
	}

	if grouped {
		res.ByTitle = make(map[string][]domain.SourceRecord)
		for _, rec := range res.ByIdentity {
			key := domain.NormalizeTitle(rec.Title)
			res.ByTitle[key] = append(res.ByTitle[key], rec)
		}
	}

	return res
}

func matchesPrefix(identity string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(identity, p) {
			return true
		}
	}
	return false
}
