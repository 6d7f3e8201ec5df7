// Package maintain runs the release-date tag lifecycle pass over the
// destination catalog: pre-order listings graduate to "new release" once
// their release date passes, and shed the whole tag family once the
// release is old news.
package maintain

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/mkeller/catsync/internal/shop"
)

const (
	TagPreOrder           = "Pre-Order"
	TagPreOrderReminder   = "Pre-Order Reminder Sent"
	TagNewRelease         = "New Release"
	TagNewReleaseReminder = "New Release Reminder Sent"

	preOrderPrefix  = "PRE-ORDER: "
	disclaimerStart = "Estimated Release Date:"
	disclaimerEnd   = "Please Note: This product is brand new"
)

// Catalog is the destination surface the pass needs.
type Catalog interface {
	SearchByTag(tags []string, cursor string, limit int) ([]shop.Product, string, error)
	ProductMetafield(productID int64, namespace, key string) (string, error)
	UpdateProduct(id int64, fields map[string]interface{}) error
}

// Result counts what one pass did.
type Result struct {
	Processed   int
	Updated     int
	NoDate      int
	InvalidDate int
	Failed      int
}

// Pass is one maintenance sweep.
type Pass struct {
	Catalog   Catalog
	Namespace string

	// Window is how long after release an item counts as a new release.
	Window time.Duration

	Now    func() time.Time
	DryRun bool
}

// Run sweeps every listing tagged into the pre-order/new-release family
// and updates titles, descriptions, and tags according to its release
// date. Per-item failures are isolated.
func (p *Pass) Run() (*Result, error) {
	res := &Result{}
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	window := p.Window
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}

	cursor := ""
	for {
		products, next, err := p.Catalog.SearchByTag([]string{TagPreOrder, TagNewRelease}, cursor, 25)
		if err != nil {
			return res, fmt.Errorf("search tagged products: %w", err)
		}

		for _, prod := range products {
			res.Processed++
			if err := p.process(prod, now, window, res); err != nil {
				log.Printf("maintain: product %d: %v", prod.ID, err)
				res.Failed++
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}
	return res, nil
}

func (p *Pass) process(prod shop.Product, now time.Time, window time.Duration, res *Result) error {
	dateStr, err := p.Catalog.ProductMetafield(prod.ID, p.Namespace, "release_date")
	if err != nil {
		return fmt.Errorf("read release date: %w", err)
	}
	if dateStr == "" {
		res.NoDate++
		return nil
	}
	released, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		res.InvalidDate++
		return nil
	}

	if released.After(now) {
		// Still a future release, keep as pre-order.
		return nil
	}

	title := StripPreOrderPrefix(prod.Title)
	body := RemoveDisclaimer(prod.BodyHTML)
	tags := splitTags(prod.Tags)

	if now.Sub(released) <= window {
		tags = removeTags(tags, TagPreOrder)
		tags = addTag(tags, TagNewRelease)
	} else {
		tags = removeTags(tags, TagPreOrder, TagPreOrderReminder, TagNewRelease, TagNewReleaseReminder)
	}

	joined := strings.Join(tags, ", ")
	if title == prod.Title && body == prod.BodyHTML && joined == prod.Tags {
		return nil
	}

	if p.DryRun {
		res.Updated++
		return nil
	}
	err = p.Catalog.UpdateProduct(prod.ID, map[string]interface{}{
		"title":     title,
		"body_html": body,
		"tags":      joined,
	})
	if err != nil {
		return err
	}
	res.Updated++
	return nil
}

// StripPreOrderPrefix removes the "PRE-ORDER: " title prefix,
// case-insensitively.
func StripPreOrderPrefix(title string) string {
	if len(title) >= len(preOrderPrefix) && strings.EqualFold(title[:len(preOrderPrefix)], preOrderPrefix) {
		return title[len(preOrderPrefix):]
	}
	return title
}

var (
	emptyParagraph = regexp.MustCompile(`<p>\s*</p>`)
	blankLines     = regexp.MustCompile(`\n\s*\n`)
)

// RemoveDisclaimer cuts the pre-order disclaimer block out of a product
// description: the paragraph running from the estimated-release-date
// marker through the brand-new notice.
func RemoveDisclaimer(html string) string {
	if html == "" || !strings.Contains(html, disclaimerStart) || !strings.Contains(html, disclaimerEnd) {
		return html
	}

	startMarker := strings.Index(html, disclaimerStart)
	start := strings.LastIndex(html[:startMarker], "<p")
	endMarker := strings.Index(html, disclaimerEnd)
	end := strings.Index(html[endMarker:], "</p>")
	if start == -1 || end == -1 {
		return html
	}
	end += endMarker + len("</p>")

	out := html[:start] + html[end:]
	out = emptyParagraph.ReplaceAllString(out, "")
	out = blankLines.ReplaceAllString(out, "\n")
	return strings.TrimSpace(out)
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

func removeTags(tags []string, drop ...string) []string {
	out := tags[:0]
	for _, t := range tags {
		keep := true
		for _, d := range drop {
			if t == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, t)
		}
	}
	return out
}

func addTag(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}
