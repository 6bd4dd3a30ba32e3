// Package tracker owns the tracking job table and the scheduling loop
// that polls competitor sources under plan-tier and rate-limit
// constraints.
package tracker

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/source"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is the schedulable unit polling one (product, source) pair. Jobs
// are never destroyed by failure; a terminally failed job is parked with
// StatusFailed and excluded from scheduling until re-armed.
type Job struct {
	ID         string        `json:"id"`
	Target     source.Target `json:"target"`
	Status     Status        `json:"status"`
	RetryCount int           `json:"retryCount"`
	NextRunAt  time.Time     `json:"nextRunAt"`
	LastRunAt  time.Time     `json:"lastRunAt,omitzero"`
	LastError  string        `json:"lastError,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// PlanTier is the billing collaborator's configuration for one
// organization, treated as read-only.
type PlanTier struct {
	Name              string
	MaxConcurrentJobs int
	UpdateInterval    time.Duration
	RetryAttempts     int
	RetryBase         time.Duration
	Timeout           time.Duration
	AllowedSources    []string
}

// Allows reports whether the tier may track the source. An empty list
// allows every source.
func (t PlanTier) Allows(sourceID string) bool {
	return len(t.AllowedSources) == 0 || slices.Contains(t.AllowedSources, sourceID)
}

// Tiers resolves organizations to their plan tier.
type Tiers struct {
	mu    sync.RWMutex
	def   PlanTier
	byOrg map[string]PlanTier
}

func NewTiers(def PlanTier) *Tiers {
	return &Tiers{def: withTierDefaults(def), byOrg: make(map[string]PlanTier)}
}

func withTierDefaults(tier PlanTier) PlanTier {
	if tier.MaxConcurrentJobs <= 0 {
		tier.MaxConcurrentJobs = 3
	}
	if tier.UpdateInterval <= 0 {
		tier.UpdateInterval = time.Hour
	}
	if tier.RetryBase <= 0 {
		tier.RetryBase = 5 * time.Minute
	}
	if tier.Timeout <= 0 {
		tier.Timeout = 30 * time.Second
	}
	return tier
}

func (t *Tiers) Assign(orgID string, tier PlanTier) {
	t.mu.Lock()
	t.byOrg[orgID] = withTierDefaults(tier)
	t.mu.Unlock()
}

func (t *Tiers) For(orgID string) PlanTier {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if tier, ok := t.byOrg[orgID]; ok {
		return tier
	}
	return t.def
}

// TargetRepository persists tracking targets so tracking survives
// restarts. The scheduler rebuilds its job table from it at startup.
type TargetRepository interface {
	Save(ctx context.Context, t *source.Target) error
	List(ctx context.Context) ([]source.Target, error)
	DeleteByProduct(ctx context.Context, productID string) (int64, error)
}
