// Package domain defines the record types the sync engine reconciles:
// source-side canonical records, destination-side live records, the durable
// ledger entries that make runs idempotent, and the tagged Decision type
// produced by the rule ladder.
package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// LifecycleStatus is the listing status of an item in the destination catalog.
type LifecycleStatus string

const (
	StatusPublished LifecycleStatus = "published"
	StatusDraft     LifecycleStatus = "draft"
	StatusArchived  LifecycleStatus = "archived"
)

// LedgerState tracks what the engine has already done for an identity.
type LedgerState string

const (
	LedgerDraftCreated LedgerState = "draft_created"
	LedgerSynced       LedgerState = "synced"
	LedgerIgnored      LedgerState = "permanently_ignored"
)

// DecisionKind is the outcome of reconciling one identity.
type DecisionKind string

const (
	DecisionCreate           DecisionKind = "create"
	DecisionUpdate           DecisionKind = "update"
	DecisionSkipActive       DecisionKind = "skip_active"
	DecisionSkipUnsafeVendor DecisionKind = "skip_unsafe_vendor"
	DecisionSkipNoImage      DecisionKind = "skip_no_image"
	DecisionQuarantine       DecisionKind = "quarantine"
	DecisionNoOp             DecisionKind = "noop"
)

// SourceRecord is one stocked item as seen in the source world after the
// merge. Created fresh each run and never mutated afterwards.
type SourceRecord struct {
	Identity    string
	Title       string
	Vendor      string
	Game        string
	Faction     string
	Description string
	ImageURLs   []string
	WeightGrams int
	Barcode     string
	Price       decimal.Decimal
	CompareAt   decimal.Decimal
	Cost        decimal.Decimal
	ReleaseDate string // ISO date, optional

	// Origin names the adapter that produced the record. Lower-trust
	// origins are subject to the vendor-safety rule.
	Origin string

	// RestrictedTo, when non-empty, allow-lists live vendor substrings
	// this record may overwrite.
	RestrictedTo []string

	// OptionValues carries up to three variant axis values used when
	// grouping records under one display title.
	OptionValues []string

	// Unavailable marks items the adapter could not currently obtain.
	Unavailable bool

	// RequireImages marks records that must not be created without at
	// least one image.
	RequireImages bool
}

// MSRP returns the reference price: the larger of price and compare-at,
// since a compare-at below the unit price is treated as stale.
func (r *SourceRecord) MSRP() decimal.Decimal {
	if r.CompareAt.GreaterThan(r.Price) {
		return r.CompareAt
	}
	return r.Price
}

// Classification returns the metafield key/values describing this record,
// or nil when it carries none.
func (r *SourceRecord) Classification() map[string]string {
	out := make(map[string]string)
	if r.Faction != "" {
		out["faction"] = r.Faction
	}
	if r.Game != "" {
		out["game"] = r.Game
	}
	if r.ReleaseDate != "" {
		out["release_date"] = r.ReleaseDate
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// LiveRecord is one item as currently listed in the destination. Rebuilt
// fresh every run; changes become real only through the execution channel.
type LiveRecord struct {
	ItemID      int64
	VariantID   int64
	StockUnitID int64
	Status      LifecycleStatus
	Title       string
	Tags        []string
	Vendor      string
	Price       decimal.Decimal
	CompareAt   decimal.Decimal
	WeightGrams int
	ImageCount  int
}

// HasTag reports whether the live record carries the given tag.
func (l *LiveRecord) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// LedgerEntry is the durable memory of what the engine has done for one
// identity. Never deleted automatically; quarantine is permanent unless an
// operator reset is requested for the run.
type LedgerEntry struct {
	Identity          string      `json:"identity"`
	Title             string      `json:"title,omitempty"`
	Vendor            string      `json:"vendor,omitempty"`
	DestinationItemID int64       `json:"destination_item_id,omitempty"`
	HostedImageURLs   []string    `json:"hosted_image_urls,omitempty"`
	State             LedgerState `json:"state"`
}

// Changeset lists the sub-actions an Update decision carries. Nil pointer
// fields mean "leave alone".
type Changeset struct {
	NewCompareAt *decimal.Decimal
	NewCost      *decimal.Decimal
	NewWeight    *int
	NewVendor    *string
	AddTags      []string
	AttachImages []string
	Metafields   map[string]string

	// FlipToDraft is the only mutation the active-protection rule allows:
	// demote a conflicting published listing and tag it for review.
	FlipToDraft   bool
	DiagnosticTag string
}

// Empty reports whether the changeset carries no sub-actions at all.
func (c *Changeset) Empty() bool {
	return c == nil || (c.NewCompareAt == nil && c.NewCost == nil &&
		c.NewWeight == nil && c.NewVendor == nil && len(c.AddTags) == 0 &&
		len(c.AttachImages) == 0 && len(c.Metafields) == 0 && !c.FlipToDraft)
}

// Decision is the tagged outcome of reconciliation for one identity.
type Decision struct {
	Kind    DecisionKind
	Changes *Changeset
	Reason  string
}

// IsSkip reports whether the decision is one of the designed skip outcomes.
func (d Decision) IsSkip() bool {
	switch d.Kind {
	case DecisionSkipActive, DecisionSkipUnsafeVendor, DecisionSkipNoImage:
		return true
	}
	return false
}

// NormalizeTitle produces the grouped-mode index key for a display title.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}
