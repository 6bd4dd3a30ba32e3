package alert

import (
	"context"
	"time"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is a classified price change derived from two observations of the
// same (product, source) pair. Immutable once created.
type Alert struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"productId"`
	SourceID      string    `json:"sourceId"`
	OldPrice      float64   `json:"oldPrice"`
	NewPrice      float64   `json:"newPrice"`
	ChangePercent float64   `json:"changePercent"`
	Severity      Severity  `json:"severity"`
	TriggeredAt   time.Time `json:"triggeredAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Frequency is how often a rule may re-emit for the same product.
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyHourly    Frequency = "hourly"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

// Window returns the suppression window for the frequency.
func (f Frequency) Window() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseFrequency maps a config string onto a Frequency, defaulting to
// immediate for unknown values.
func ParseFrequency(s string) Frequency {
	switch Frequency(s) {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return Frequency(s)
	default:
		return FrequencyImmediate
	}
}

// Thresholds are the alert classification bands, in percent.
type Thresholds struct {
	MinChangePercent float64 `json:"minChangePercent"`
	MediumPercent    float64 `json:"mediumPercent"`
	HighPercent      float64 `json:"highPercent"`
}

// DefaultThresholds returns the stock 2/5/10 bands.
func DefaultThresholds() Thresholds {
	return Thresholds{MinChangePercent: 2, MediumPercent: 5, HighPercent: 10}
}

// Rule is the per-product alerting policy.
type Rule struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"productId"`
	Thresholds Thresholds `json:"thresholds"`
	Frequency  Frequency  `json:"frequency"`
}

type Repository interface {
	Save(ctx context.Context, a *Alert) error
	ListByProduct(ctx context.Context, productID string, limit int) ([]Alert, error)
}

// Notifier delivers an alert over an external transport (email, Slack,
// webhook). The pipeline decides whether and when to call it; transport
// mechanics live outside this module.
type Notifier interface {
	Deliver(ctx context.Context, rule Rule, a Alert) error
}
