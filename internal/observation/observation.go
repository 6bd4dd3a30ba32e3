package observation

import (
	"context"
	"time"
)

// Observation is one successful price/availability reading for a product
// at a competitor source. Immutable once created; newer observations
// supersede it as "current" but it stays in history for analysis.
type Observation struct {
	ID          int64     `json:"id"`
	SourceID    string    `json:"sourceId"`
	ProductID   string    `json:"productId"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	Available   bool      `json:"available"`
	Rating      *float64  `json:"rating,omitempty"`
	ReviewCount *int64    `json:"reviewCount,omitempty"`
	Confidence  float64   `json:"confidence"`
	CapturedAt  time.Time `json:"capturedAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Repository interface {
	Save(ctx context.Context, o *Observation) error
	// Latest returns the most recent observation for a (product, source)
	// pair, or nil if none exists.
	Latest(ctx context.Context, productID, sourceID string) (*Observation, error)
	// History returns observations for a product over the trailing number
	// of days, ordered by capture time ascending.
	History(ctx context.Context, productID string, days int) ([]Observation, error)
	// LatestPerSource returns the current cross-section: the newest
	// observation from each source that has one for the product.
	LatestPerSource(ctx context.Context, productID string) ([]Observation, error)
	// Prune deletes observations captured before the cutoff and reports
	// how many rows were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
}
