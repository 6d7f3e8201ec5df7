package shop

import (
	"fmt"
	"net/url"
)

// Product is one destination catalog item as the API serves it.
type Product struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	BodyHTML    string    `json:"body_html,omitempty"`
	Vendor      string    `json:"vendor"`
	ProductType string    `json:"product_type,omitempty"`
	Status      string    `json:"status"`
	Tags        string    `json:"tags"`
	Variants    []Variant `json:"variants"`
	Images      []Image   `json:"images,omitempty"`
}

// Variant is one purchasable variant of a product.
type Variant struct {
	ID              int64  `json:"id"`
	SKU             string `json:"sku"`
	Price           string `json:"price"`
	CompareAtPrice  string `json:"compare_at_price,omitempty"`
	Grams           int    `json:"grams"`
	Barcode         string `json:"barcode,omitempty"`
	InventoryItemID int64  `json:"inventory_item_id"`
	Option1         string `json:"option1,omitempty"`
	Option2         string `json:"option2,omitempty"`
	Option3         string `json:"option3,omitempty"`
}

// Image is one product gallery image.
type Image struct {
	ID  int64  `json:"id,omitempty"`
	Src string `json:"src"`
}

// Metafield is a namespaced key/value attached to a product.
type Metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

type productsPage struct {
	Products []Product `json:"products"`
}

type productEnvelope struct {
	Product Product `json:"product"`
}

// ListProducts fetches one page of the catalog for the given lifecycle
// status. pageURL is empty for the first page; afterwards it is the
// continuation link from the previous response. Returns the page, the next
// continuation link (empty when done), and an error.
func (c *Client) ListProducts(status, pageURL string, limit int) ([]Product, string, error) {
	path := pageURL
	if path == "" {
		q := url.Values{}
		q.Set("limit", fmt.Sprintf("%d", limit))
		if status != "" {
			q.Set("status", status)
		}
		path = "/products.json?" + q.Encode()
	}

	var page productsPage
	header, err := c.doJSON("GET", path, nil, &page)
	if err != nil {
		return nil, "", err
	}
	return page.Products, nextPageLink(header), nil
}

// GetProduct fetches one product by ID, used to resume a partially
// created item whose shell already exists.
func (c *Client) GetProduct(id int64) (Product, error) {
	var out productEnvelope
	path := fmt.Sprintf("/products/%d.json", id)
	if _, err := c.doJSON("GET", path, nil, &out); err != nil {
		return Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return out.Product, nil
}

// CreateProduct creates a minimal item shell, always in draft status, and
// returns the created product with its assigned IDs.
func (c *Client) CreateProduct(p Product) (Product, error) {
	p.Status = "draft"
	var out productEnvelope
	if _, err := c.doJSON("POST", "/products.json", productEnvelope{Product: p}, &out); err != nil {
		return Product{}, fmt.Errorf("create product: %w", err)
	}
	return out.Product, nil
}

// UpdateProduct applies a partial product update (tags, status, vendor,
// title, description, images).
func (c *Client) UpdateProduct(id int64, fields map[string]interface{}) error {
	fields["id"] = id
	body := map[string]interface{}{"product": fields}
	path := fmt.Sprintf("/products/%d.json", id)
	if _, err := c.doJSON("PUT", path, body, nil); err != nil {
		return fmt.Errorf("update product %d: %w", id, err)
	}
	return nil
}

// UpdateVariant applies a partial variant update (identity, price,
// compare-at, weight, barcode).
func (c *Client) UpdateVariant(id int64, fields map[string]interface{}) error {
	fields["id"] = id
	body := map[string]interface{}{"variant": fields}
	path := fmt.Sprintf("/variants/%d.json", id)
	if _, err := c.doJSON("PUT", path, body, nil); err != nil {
		return fmt.Errorf("update variant %d: %w", id, err)
	}
	return nil
}

// SetUnitCost records the unit cost on a stock-keeping unit. Cost lives on
// the inventory item, not the variant, so it is always a separate call.
func (c *Client) SetUnitCost(stockUnitID int64, cost string) error {
	body := map[string]interface{}{
		"inventory_item": map[string]interface{}{"id": stockUnitID, "cost": cost},
	}
	path := fmt.Sprintf("/inventory_items/%d.json", stockUnitID)
	if _, err := c.doJSON("PUT", path, body, nil); err != nil {
		return fmt.Errorf("set cost on inventory item %d: %w", stockUnitID, err)
	}
	return nil
}

// ActivateInventory registers a stock-keeping unit at a fulfillment
// location so stock levels can be tracked there.
func (c *Client) ActivateInventory(stockUnitID, locationID int64) error {
	body := map[string]interface{}{
		"inventory_item_id": stockUnitID,
		"location_id":       locationID,
	}
	if _, err := c.doJSON("POST", "/inventory_levels/activate.json", body, nil); err != nil {
		return fmt.Errorf("activate inventory item %d at location %d: %w", stockUnitID, locationID, err)
	}
	return nil
}

// UpsertMetafield creates or replaces a namespaced metafield on a product.
func (c *Client) UpsertMetafield(productID int64, m Metafield) error {
	if m.Type == "" {
		m.Type = "single_line_text_field"
	}
	body := map[string]interface{}{"metafield": m}
	path := fmt.Sprintf("/products/%d/metafields.json", productID)
	if _, err := c.doJSON("POST", path, body, nil); err != nil {
		return fmt.Errorf("upsert metafield %s.%s on product %d: %w", m.Namespace, m.Key, productID, err)
	}
	return nil
}

// AttachImage appends one image to a product's gallery.
func (c *Client) AttachImage(productID int64, src string) error {
	body := map[string]interface{}{"image": Image{Src: src}}
	path := fmt.Sprintf("/products/%d/images.json", productID)
	if _, err := c.doJSON("POST", path, body, nil); err != nil {
		return fmt.Errorf("attach image to product %d: %w", productID, err)
	}
	return nil
}

type taggedPage struct {
	Products   []Product `json:"products"`
	NextCursor string    `json:"next_cursor"`
}

// SearchByTag fetches one page of products carrying any of the given tags.
// The continuation pointer here is a body field rather than a header.
func (c *Client) SearchByTag(tags []string, cursor string, limit int) ([]Product, string, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	for _, t := range tags {
		q.Add("tag", t)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var page taggedPage
	if _, err := c.doJSON("GET", "/products/search.json?"+q.Encode(), nil, &page); err != nil {
		return nil, "", err
	}
	return page.Products, page.NextCursor, nil
}

// ProductMetafield reads one namespaced metafield off a product, returning
// an empty value when the field is absent.
func (c *Client) ProductMetafield(productID int64, namespace, key string) (string, error) {
	var out struct {
		Metafields []Metafield `json:"metafields"`
	}
	path := fmt.Sprintf("/products/%d/metafields.json?namespace=%s&key=%s", productID, namespace, key)
	if _, err := c.doJSON("GET", path, nil, &out); err != nil {
		return "", err
	}
	if len(out.Metafields) == 0 {
		return "", nil
	}
	return out.Metafields[0].Value, nil
}
