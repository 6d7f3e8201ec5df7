// Package apply is the execution channel: it turns Decisions into remote
// effects, either as ordered per-item call sequences or as one large
// asynchronous bulk job.
package apply

import "github.com/mkeller/catsync/internal/shop"

// ImageHost rehosts a source image URL on the engine's own CDN. It is an
// external collaborator; ErrHostRateLimited is the one failure mode the
// channel reacts to.
type ImageHost interface {
	Host(sourceURL string) (string, error)
}

// Passthrough is the no-op image host: listings reference the source URL
// directly.
type Passthrough struct{}

// Host implements ImageHost.
func (Passthrough) Host(sourceURL string) (string, error) { return sourceURL, nil }

// Context carries run-scoped execution state through the channel, instead
// of process-wide flags.
type Context struct {
	LocationID int64

	// MetafieldNamespace for classification metafields.
	MetafieldNamespace string

	// degradedImages flips once the image host reports a rate limit;
	// from then on source URLs are used directly for the rest of the run.
	degradedImages bool
}

// DegradeImages switches the run to pass-through image URLs.
func (c *Context) DegradeImages() { c.degradedImages = true }

// ImagesDegraded reports whether the image host has been abandoned for
// this run.
func (c *Context) ImagesDegraded() bool { return c.degradedImages }

// Destination is the per-item write surface of the destination API.
type Destination interface {
	GetProduct(id int64) (shop.Product, error)
	CreateProduct(p shop.Product) (shop.Product, error)
	UpdateProduct(id int64, fields map[string]interface{}) error
	UpdateVariant(id int64, fields map[string]interface{}) error
	SetUnitCost(stockUnitID int64, cost string) error
	ActivateInventory(stockUnitID, locationID int64) error
	UpsertMetafield(productID int64, m shop.Metafield) error
	AttachImage(productID int64, src string) error
}
