// Package source defines the competitor source catalog and the adapter
// contract the tracking scheduler drives. An adapter turns one tracking
// target into one observation; all retry policy lives in the scheduler,
// never in adapters.
package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
)

// CompetitorSource is the static capability descriptor for one competitor
// site. Immutable, loaded from the catalog at startup.
type CompetitorSource struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Domain            string `json:"domain"`
	RequestsPerMinute int    `json:"requestsPerMinute"`
	MaxRetries        int    `json:"maxRetries"`
}

// Target is one (product, source, URL) triple the scheduler polls.
// YourPrice is the organization's own price for the product, used as the
// reference point for market-position analysis when present.
type Target struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"orgId"`
	ProductID string    `json:"productId"`
	SourceID  string    `json:"sourceId"`
	URL       string    `json:"url"`
	YourPrice *float64  `json:"yourPrice,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Adapter fetches one observation for a target. Implementations must
// honor ctx cancellation and deadlines, returning a Timeout fetch error
// rather than hanging, and must not retry internally.
type Adapter interface {
	Source() string
	Fetch(ctx context.Context, t Target) (observation.Observation, error)
}

type entry struct {
	desc    CompetitorSource
	adapter Adapter
}

// Registry maps source IDs to their descriptor and adapter.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Register(desc CompetitorSource, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[desc.ID] = entry{desc: desc, adapter: a}
}

// Lookup returns the descriptor and adapter for a source ID.
func (r *Registry) Lookup(id string) (CompetitorSource, Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return CompetitorSource{}, nil, fmt.Errorf("source not registered: %s", id)
	}
	return e.desc, e.adapter, nil
}

// Sources returns all registered descriptors.
func (r *Registry) Sources() []CompetitorSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CompetitorSource, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	return out
}
