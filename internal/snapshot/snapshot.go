// Package snapshot builds the read-only index of the destination catalog
// one run works against.
//
// The builder pages through every lifecycle status (published, draft,
// archived — a later decision needs to distinguish actively selling from
// dormant), following the continuation link in each response. A failing
// page is retried with bounded backoff and then abandoned without taking
// down the rest of the snapshot.
package snapshot

import (
	"log"
	"strings"
	"time"

	"github.com/mkeller/catsync/internal/domain"
	"github.com/mkeller/catsync/internal/money"
	"github.com/mkeller/catsync/internal/shop"
)

// Lister is the read surface of the destination API the builder needs.
type Lister interface {
	ListProducts(status, pageURL string, limit int) ([]shop.Product, string, error)
}

// Index is the destination catalog keyed for reconciliation. Read-only for
// the remainder of the run.
type Index struct {
	ByIdentity map[string]domain.LiveRecord

	// ByTitle groups variant sub-records under a normalized display
	// title. Populated only in grouped mode.
	ByTitle map[string][]domain.LiveRecord

	Pages       int
	FailedPages int
}

// Builder paginates the destination catalog into an Index.
type Builder struct {
	Lister   Lister
	PageSize int
	Grouped  bool

	// PageRetries bounds how often one failing page is retried before the
	// scan of that status gives up.
	PageRetries int
	Backoff     time.Duration
	Sleep       func(time.Duration)
}

// statuses the destination catalog is scanned across, and their mapping to
// the domain lifecycle. The API calls published listings "active".
var statusScan = []struct {
	api    string
	status domain.LifecycleStatus
}{
	{"active", domain.StatusPublished},
	{"draft", domain.StatusDraft},
	{"archived", domain.StatusArchived},
}

// Build scans the full catalog and returns the identity-keyed (and, in
// grouped mode, title-keyed) index.
func (b *Builder) Build() (*Index, error) {
	idx := &Index{ByIdentity: make(map[string]domain.LiveRecord)}
	if b.Grouped {
		idx.ByTitle = make(map[string][]domain.LiveRecord)
	}

	pageSize := b.PageSize
	if pageSize <= 0 {
		pageSize = 250
	}

	for _, scan := range statusScan {
		pageURL := ""
		for {
			products, next, err := b.fetchPage(scan.api, pageURL, pageSize)
			if err != nil {
				// The continuation pointer is lost with the page, so
				// this status's scan ends here; the other statuses
				// still contribute.
				log.Printf("snapshot: abandoning %s scan after failed page: %v", scan.api, err)
				idx.FailedPages++
				break
			}
			idx.Pages++
			for _, p := range products {
				b.indexProduct(idx, p, scan.status)
			}
			if next == "" {
				break
			}
			pageURL = next
		}
	}

	return idx, nil
}

// fetchPage retries one page with doubling backoff before giving up.
func (b *Builder) fetchPage(status, pageURL string, limit int) ([]shop.Product, string, error) {
	retries := b.PageRetries
	if retries <= 0 {
		retries = 2
	}
	backoff := b.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			b.sleep(backoff)
			backoff *= 2
		}
		products, next, err := b.Lister.ListProducts(status, pageURL, limit)
		if err == nil {
			return products, next, nil
		}
		lastErr = err
	}
	return nil, "", lastErr
}

func (b *Builder) sleep(d time.Duration) {
	if b.Sleep != nil {
		b.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (b *Builder) indexProduct(idx *Index, p shop.Product, status domain.LifecycleStatus) {
	tags := splitTags(p.Tags)
	for _, v := range p.Variants {
		identity := strings.TrimSpace(v.SKU)
		if identity == "" {
			continue
		}
		rec := domain.LiveRecord{
			ItemID:      p.ID,
			VariantID:   v.ID,
			StockUnitID: v.InventoryItemID,
			Status:      status,
			Title:       p.Title,
			Tags:        tags,
			Vendor:      p.Vendor,
			Price:       money.Parse(v.Price),
			CompareAt:   money.Parse(v.CompareAtPrice),
			WeightGrams: v.Grams,
			ImageCount:  len(p.Images),
		}
		idx.ByIdentity[identity] = rec
		if idx.ByTitle != nil {
			key := domain.NormalizeTitle(p.Title)
			idx.ByTitle[key] = append(idx.ByTitle[key], rec)
		}
	}
}

func splitTags(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
