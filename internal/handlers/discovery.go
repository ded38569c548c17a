package handlers

import (
	"sync"
	"time"

	"tollgate/internal/x402"

	"github.com/gofiber/fiber/v3"
)

// catalogCap bounds the in-memory catalog; beyond it the oldest entry
// is evicted.
const catalogCap = 500

// Resource is one discoverable priced endpoint.
type Resource struct {
	Resource    string                      `json:"resource"`
	Type        string                      `json:"type"`
	X402Version int                         `json:"x402Version"`
	Accepts     []*x402.PaymentRequirements `json:"accepts"`
	LastUpdated time.Time                   `json:"lastUpdated"`
}

// Catalog is the discovery index: resources observed on successful
// settlements, newest wins, bounded. Entries are keyed by resource URL.
type Catalog struct {
	mu      sync.Mutex
	entries map[string]*Resource
	order   []string
}

// NewCatalog creates a catalog pre-populated with the given resources.
func NewCatalog(seed []Resource) *Catalog {
	c := &Catalog{entries: make(map[string]*Resource)}
	for i := range seed {
		r := seed[i]
		if r.Resource == "" {
			continue
		}
		if r.Type == "" {
			r.Type = "http"
		}
		if r.X402Version == 0 {
			r.X402Version = 1
		}
		if r.LastUpdated.IsZero() {
			r.LastUpdated = time.Now().UTC()
		}
		c.put(&r)
	}
	return c
}

// Observe records the requirements of a settled payment. Requirements
// without a resource URL are not discoverable and are skipped.
func (c *Catalog) Observe(reqs *x402.PaymentRequirements) {
	if reqs == nil || reqs.Resource == "" {
		return
	}
	cp := *reqs
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(&Resource{
		Resource:    cp.Resource,
		Type:        "http",
		X402Version: 1,
		Accepts:     []*x402.PaymentRequirements{&cp},
		LastUpdated: time.Now().UTC(),
	})
}

// put inserts under the lock held by the caller (NewCatalog runs before
// the catalog is shared, Observe locks).
func (c *Catalog) put(r *Resource) {
	if _, exists := c.entries[r.Resource]; exists {
		// Refresh in place and move to the back of the eviction order.
		for i, key := range c.order {
			if key == r.Resource {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	} else if len(c.order) >= catalogCap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[r.Resource] = r
	c.order = append(c.order, r.Resource)
}

// Page returns a slice of the catalog, newest first.
func (c *Catalog) Page(limit, offset int) ([]*Resource, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := len(c.order)
	out := make([]*Resource, 0, limit)
	// order is oldest-first; walk it backwards.
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.entries[c.order[i]])
	}
	return out, total
}

// DiscoveryHandler serves the resource catalog.
type DiscoveryHandler struct {
	catalog *Catalog
}

// NewDiscoveryHandler creates a discovery handler over the catalog.
func NewDiscoveryHandler(catalog *Catalog) *DiscoveryHandler {
	return &DiscoveryHandler{catalog: catalog}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/discovery/resources", h.Resources)
}

type discoveryQuery struct {
	Limit  int `query:"limit"`
	Offset int `query:"offset"`
}

// Resources lists discoverable priced endpoints
// @Summary Discovery catalog
// @Description Endpoints observed accepting payments through this facilitator
// @Tags discovery
// @Produce json
// @Success 200 {object} map[string]any
// @Router /discovery/resources [get]
func (h *DiscoveryHandler) Resources(c fiber.Ctx) error {
	var q discoveryQuery
	if err := c.Bind().Query(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid pagination",
		})
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	items, total := h.catalog.Page(q.Limit, q.Offset)
	return c.JSON(fiber.Map{
		"x402Version": 1,
		"items":       items,
		"pagination": fiber.Map{
			"limit":  q.Limit,
			"offset": q.Offset,
			"total":  total,
		},
	})
}
