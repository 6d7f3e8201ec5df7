// Package engine holds the reconciliation core: the pure decision rule
// ladder and the run orchestrator that drives merge, snapshot, decide,
// apply, and notify for one batch pass.
package engine

import (
	"fmt"
	"strings"

	"github.com/mkeller/catsync/internal/domain"
	"github.com/mkeller/catsync/internal/money"
)

// Rules parameterizes the decision ladder. Decide is a pure function of
// its inputs and these values; calling it twice with the same inputs
// returns the same decision.
type Rules struct {
	// ManagedTags are the tags the engine stamps on every listing it
	// touches. The first one doubles as the marker distinguishing
	// engine-added tags from human ones.
	ManagedTags []string

	// DiagnosticTag is appended when the active-protection rule demotes a
	// conflicting published listing.
	DiagnosticTag string

	// LowTrustOrigins lists adapter origins subject to the vendor-safety
	// rule (backup sheets, generic feeds).
	LowTrustOrigins []string

	// ResetQuarantine lets one run reconsider permanently ignored items.
	ResetQuarantine bool
}

// Decide returns exactly one Decision for an identity given the canonical
// source record, the live destination record if any, and the ledger entry
// if any.
func (r *Rules) Decide(src domain.SourceRecord, live *domain.LiveRecord, entry *domain.LedgerEntry) domain.Decision {
	if entry != nil && entry.State == domain.LedgerIgnored && !r.ResetQuarantine {
		return domain.Decision{Kind: domain.DecisionNoOp, Reason: "permanently ignored"}
	}

	if live == nil {
		return r.decideMissing(src, entry)
	}
	return r.decideExisting(src, live)
}

func (r *Rules) decideMissing(src domain.SourceRecord, entry *domain.LedgerEntry) domain.Decision {
	neverCreated := entry == nil || entry.DestinationItemID == 0

	if src.RequireImages && len(src.ImageURLs) == 0 {
		if src.Unavailable {
			// Dead item with nothing to show: quarantine so it is not
			// re-examined run after run.
			return domain.Decision{Kind: domain.DecisionQuarantine, Reason: "unavailable and no images"}
		}
		return domain.Decision{Kind: domain.DecisionSkipNoImage, Reason: "no images yet"}
	}

	if src.Unavailable && neverCreated {
		return domain.Decision{Kind: domain.DecisionNoOp, Reason: "unavailable, never created"}
	}

	return domain.Decision{Kind: domain.DecisionCreate}
}

func (r *Rules) decideExisting(src domain.SourceRecord, live *domain.LiveRecord) domain.Decision {
	// Active-protection: a published listing with a real price is being
	// managed by a human. The engine never alters its price or tags; a
	// reference-price conflict only demotes it to draft with a diagnostic
	// tag so a human looks at it.
	if live.Status == domain.StatusPublished && live.Price.IsPositive() {
		if !money.Equal(src.MSRP(), live.CompareAt) {
			return domain.Decision{
				Kind: domain.DecisionSkipActive,
				Changes: &domain.Changeset{
					FlipToDraft:   true,
					DiagnosticTag: r.DiagnosticTag,
				},
				Reason: fmt.Sprintf("live listing at %s, source says %s", money.String(live.CompareAt), money.String(src.MSRP())),
			}
		}
		return domain.Decision{Kind: domain.DecisionNoOp, Reason: "active listing, prices agree"}
	}

	// Vendor-safety: a lower-trust feed must not overwrite a listing
	// whose vendor it is not allow-listed for. Identity collisions across
	// vendors are real.
	if len(src.RestrictedTo) > 0 && r.lowTrust(src.Origin) && !vendorAllowed(live.Vendor, src.RestrictedTo) {
		return domain.Decision{
			Kind:   domain.DecisionSkipUnsafeVendor,
			Reason: fmt.Sprintf("live vendor %q not in allow-list for origin %s", live.Vendor, src.Origin),
		}
	}

	changes := r.detectChanges(src, live)
	if changes.Empty() {
		return domain.Decision{Kind: domain.DecisionNoOp}
	}
	return domain.Decision{Kind: domain.DecisionUpdate, Changes: changes}
}

func (r *Rules) detectChanges(src domain.SourceRecord, live *domain.LiveRecord) *domain.Changeset {
	changes := &domain.Changeset{}

	msrp := src.MSRP()
	if msrp.IsPositive() && !money.Equal(msrp, live.CompareAt) {
		v := msrp
		changes.NewCompareAt = &v
		if src.Cost.IsPositive() {
			cost := src.Cost
			changes.NewCost = &cost
		}
	}

	if src.WeightGrams > 0 && src.WeightGrams != live.WeightGrams {
		w := src.WeightGrams
		changes.NewWeight = &w
	}

	if src.Vendor != "" && src.Vendor != live.Vendor {
		v := src.Vendor
		changes.NewVendor = &v
	}

	if live.ImageCount == 0 && len(src.ImageURLs) > 0 {
		changes.AttachImages = src.ImageURLs
	}

	// Tag union: only ever add, never remove a tag the engine did not put
	// there itself.
	for _, tag := range r.engineTags(src) {
		if !live.HasTag(tag) {
			changes.AddTags = append(changes.AddTags, tag)
		}
	}

	// Classification metafields ride along with other changes; the
	// snapshot cannot see metafields, so upserting them unconditionally
	// would break run idempotence.
	if !changes.Empty() {
		changes.Metafields = src.Classification()
	}

	return changes
}

// engineTags lists the tags the engine would stamp for this record.
func (r *Rules) engineTags(src domain.SourceRecord) []string {
	tags := make([]string, 0, len(r.ManagedTags)+1)
	tags = append(tags, r.ManagedTags...)
	if src.Faction != "" {
		tags = append(tags, src.Faction)
	}
	return tags
}

func (r *Rules) lowTrust(origin string) bool {
	for _, o := range r.LowTrustOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func vendorAllowed(liveVendor string, allowed []string) bool {
	vendor := strings.ToLower(liveVendor)
	for _, a := range allowed {
		if strings.Contains(vendor, strings.ToLower(a)) {
			return true
		}
	}
	return false
}
