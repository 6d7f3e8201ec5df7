package apply

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mkeller/catsync/internal/domain"
	"github.com/mkeller/catsync/internal/ledger"
	"github.com/mkeller/catsync/internal/money"
	"github.com/mkeller/catsync/internal/shop"
)

// ErrHostRateLimited is returned by an ImageHost once its rate limit
// trips; the channel degrades to pass-through URLs for the rest of the run.
var ErrHostRateLimited = errors.New("image host rate limited")

// Itemwise applies decisions as ordered per-item call sequences against
// the destination's transactional endpoints. Each step is independently
// retryable; the ledger records the partial item ID immediately after the
// shell exists so an interrupted create resumes instead of duplicating.
type Itemwise struct {
	Dest   Destination
	Ledger ledger.Store
	Images ImageHost
	Ctx    *Context

	BaseTags    []string
	ProductType string
}

// Create performs the full creation sequence for one identity: shell,
// variant fields, stock activation, metafields, media. entries is the
// run's in-memory ledger; it is persisted after every remote effect that
// must survive a crash.
func (a *Itemwise) Create(src domain.SourceRecord, entries map[string]domain.LedgerEntry) error {
	entry := entries[src.Identity]

	var prod shop.Product
	var err error
	if entry.DestinationItemID != 0 {
		// A previous run created the shell but died before finishing.
		prod, err = a.Dest.GetProduct(entry.DestinationItemID)
		if err != nil {
			return fmt.Errorf("resume create %s: %w", src.Identity, err)
		}
	} else {
		shell := shop.Product{
			Title:       src.Title,
			BodyHTML:    src.Description,
			Vendor:      src.Vendor,
			ProductType: a.ProductType,
			Tags:        strings.Join(a.tagsFor(src), ", "),
		}
		prod, err = a.Dest.CreateProduct(shell)
		if err != nil {
			return fmt.Errorf("create shell %s: %w", src.Identity, err)
		}

		entry = domain.LedgerEntry{
			Identity:          src.Identity,
			Title:             src.Title,
			Vendor:            src.Vendor,
			DestinationItemID: prod.ID,
			State:             domain.LedgerDraftCreated,
		}
		entries[src.Identity] = entry
		if err := a.Ledger.Save(entries); err != nil {
			return fmt.Errorf("record shell for %s: %w", src.Identity, err)
		}
	}

	if len(prod.Variants) == 0 {
		return fmt.Errorf("create %s: shell %d has no initial variant", src.Identity, prod.ID)
	}
	v := prod.Variants[0]

	msrp := money.String(src.MSRP())
	fields := map[string]interface{}{
		"sku":              src.Identity,
		"price":            msrp,
		"compare_at_price": msrp,
	}
	if src.WeightGrams > 0 {
		fields["grams"] = src.WeightGrams
	}
	if src.Barcode != "" {
		fields["barcode"] = src.Barcode
	}
	if err := a.Dest.UpdateVariant(v.ID, fields); err != nil {
		return fmt.Errorf("set variant for %s: %w", src.Identity, err)
	}

	if src.Cost.IsPositive() {
		if err := a.Dest.SetUnitCost(v.InventoryItemID, money.String(src.Cost)); err != nil {
			return fmt.Errorf("set cost for %s: %w", src.Identity, err)
		}
	}

	if a.Ctx.LocationID != 0 {
		if err := a.Dest.ActivateInventory(v.InventoryItemID, a.Ctx.LocationID); err != nil {
			return fmt.Errorf("activate stock for %s: %w", src.Identity, err)
		}
	}

	if err := a.upsertMetafields(prod.ID, src.Classification()); err != nil {
		return fmt.Errorf("metafields for %s: %w", src.Identity, err)
	}

	if len(src.ImageURLs) > 0 {
		urls := entry.HostedImageURLs
		if len(urls) == 0 {
			urls = a.hostURLs(src.ImageURLs)
			entry.HostedImageURLs = urls
			entries[src.Identity] = entry
		}
		for _, u := range urls {
			if err := a.Dest.AttachImage(prod.ID, u); err != nil {
				return fmt.Errorf("attach image for %s: %w", src.Identity, err)
			}
		}
	}

	entries[src.Identity] = entry
	if err := a.Ledger.Save(entries); err != nil {
		return fmt.Errorf("record create for %s: %w", src.Identity, err)
	}
	return nil
}

// Update applies only the sub-actions in the changeset to an existing
// listing.
func (a *Itemwise) Update(src domain.SourceRecord, live domain.LiveRecord, changes *domain.Changeset, entries map[string]domain.LedgerEntry) error {
	variantFields := map[string]interface{}{}
	if changes.NewCompareAt != nil {
		variantFields["compare_at_price"] = money.String(*changes.NewCompareAt)
	}
	if changes.NewWeight != nil {
		variantFields["grams"] = *changes.NewWeight
	}
	if len(variantFields) > 0 {
		if err := a.Dest.UpdateVariant(live.VariantID, variantFields); err != nil {
			return fmt.Errorf("update variant for %s: %w", src.Identity, err)
		}
	}

	if changes.NewCost != nil {
		if err := a.Dest.SetUnitCost(live.StockUnitID, money.String(*changes.NewCost)); err != nil {
			return fmt.Errorf("update cost for %s: %w", src.Identity, err)
		}
	}

	productFields := map[string]interface{}{}
	if changes.NewVendor != nil {
		productFields["vendor"] = *changes.NewVendor
	}
	if len(changes.AddTags) > 0 {
		productFields["tags"] = strings.Join(unionTags(live.Tags, changes.AddTags), ", ")
	}
	if len(productFields) > 0 {
		if err := a.Dest.UpdateProduct(live.ItemID, productFields); err != nil {
			return fmt.Errorf("update product for %s: %w", src.Identity, err)
		}
	}

	if err := a.upsertMetafields(live.ItemID, changes.Metafields); err != nil {
		return fmt.Errorf("metafields for %s: %w", src.Identity, err)
	}

	// Media attaches only while the live gallery is empty; anything else
	// duplicates the gallery.
	if len(changes.AttachImages) > 0 && live.ImageCount == 0 {
		for _, u := range a.hostURLs(changes.AttachImages) {
			if err := a.Dest.AttachImage(live.ItemID, u); err != nil {
				return fmt.Errorf("attach image for %s: %w", src.Identity, err)
			}
		}
	}

	entry := entries[src.Identity]
	entry.Identity = src.Identity
	entry.Title = src.Title
	entry.Vendor = src.Vendor
	entry.DestinationItemID = live.ItemID
	entry.State = domain.LedgerSynced
	entries[src.Identity] = entry
	if err := a.Ledger.Save(entries); err != nil {
		return fmt.Errorf("record update for %s: %w", src.Identity, err)
	}
	return nil
}

// Demote executes the one action the active-protection rule allows on a
// conflicting published listing: flip to draft and append the diagnostic
// tag. Pricing data is never touched.
func (a *Itemwise) Demote(live domain.LiveRecord, changes *domain.Changeset) error {
	tags := live.Tags
	if changes.DiagnosticTag != "" && !live.HasTag(changes.DiagnosticTag) {
		tags = unionTags(live.Tags, []string{changes.DiagnosticTag})
	}
	fields := map[string]interface{}{
		"status": "draft",
		"tags":   strings.Join(tags, ", "),
	}
	if err := a.Dest.UpdateProduct(live.ItemID, fields); err != nil {
		return fmt.Errorf("demote product %d: %w", live.ItemID, err)
	}
	return nil
}

// Quarantine records the permanent exclusion of an identity.
func (a *Itemwise) Quarantine(src domain.SourceRecord, entries map[string]domain.LedgerEntry) error {
	entry := entries[src.Identity]
	entry.Identity = src.Identity
	entry.Title = src.Title
	entry.Vendor = src.Vendor
	entry.State = domain.LedgerIgnored
	entries[src.Identity] = entry
	if err := a.Ledger.Save(entries); err != nil {
		return fmt.Errorf("record quarantine for %s: %w", src.Identity, err)
	}
	return nil
}

func (a *Itemwise) tagsFor(src domain.SourceRecord) []string {
	tags := make([]string, 0, len(a.BaseTags)+1)
	tags = append(tags, a.BaseTags...)
	if src.Faction != "" {
		tags = append(tags, src.Faction)
	}
	return tags
}

func (a *Itemwise) upsertMetafields(productID int64, fields map[string]string) error {
	for key, value := range fields {
		m := shop.Metafield{Namespace: a.Ctx.MetafieldNamespace, Key: key, Value: value}
		if err := a.Dest.UpsertMetafield(productID, m); err != nil {
			return err
		}
	}
	return nil
}

// hostURLs runs source image URLs through the image host, degrading to
// pass-through for the remainder of the run once the host rate-limits.
func (a *Itemwise) hostURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if a.Ctx.ImagesDegraded() || a.Images == nil {
			out = append(out, u)
			continue
		}
		hosted, err := a.Images.Host(u)
		if errors.Is(err, ErrHostRateLimited) {
			a.Ctx.DegradeImages()
			out = append(out, u)
			continue
		}
		if err != nil {
			log.Printf("apply: hosting %s failed, using source url: %v", u, err)
			out = append(out, u)
			continue
		}
		out = append(out, hosted)
	}
	return out
}

func unionTags(existing, add []string) []string {
	out := make([]string, 0, len(existing)+len(add))
	seen := make(map[string]bool, len(existing)+len(add))
	for _, t := range existing {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range add {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
