package alert

import (
	"math"
	"sync"
	"time"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
)

// Engine turns successive observations into classified alerts. Evaluate
// is pure: identical inputs always yield the identical alert (or none).
type Engine struct {
	th Thresholds
}

func NewEngine(th Thresholds) *Engine {
	if th.MinChangePercent <= 0 {
		th = DefaultThresholds()
	}
	return &Engine{th: th}
}

// Evaluate compares the previous and current observation for a pair.
// Returns nil when there is no previous observation or the change stays
// under the minimum threshold. The returned alert carries no ID; callers
// assign one before persisting.
func (e *Engine) Evaluate(prev *observation.Observation, cur observation.Observation) *Alert {
	if prev == nil || prev.Price == 0 {
		return nil
	}

	changePercent := (cur.Price - prev.Price) / prev.Price * 100
	if math.Abs(changePercent) < e.th.MinChangePercent {
		return nil
	}

	return &Alert{
		ProductID:     cur.ProductID,
		SourceID:      cur.SourceID,
		OldPrice:      prev.Price,
		NewPrice:      cur.Price,
		ChangePercent: changePercent,
		Severity:      e.severity(math.Abs(changePercent)),
		TriggeredAt:   cur.CapturedAt,
	}
}

func (e *Engine) severity(changeAbs float64) Severity {
	switch {
	case changeAbs >= e.th.HighPercent:
		return SeverityHigh
	case changeAbs >= e.th.MediumPercent:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Rules holds per-product alerting policy with a configurable default.
type Rules struct {
	mu  sync.RWMutex
	def Rule
	per map[string]Rule
}

func NewRules(def Rule) *Rules {
	if def.Thresholds.MinChangePercent <= 0 {
		def.Thresholds = DefaultThresholds()
	}
	if def.Frequency == "" {
		def.Frequency = FrequencyImmediate
	}
	return &Rules{def: def, per: make(map[string]Rule)}
}

// For returns the rule governing a product, falling back to the default.
func (r *Rules) For(productID string) Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rule, ok := r.per[productID]; ok {
		return rule
	}
	rule := r.def
	rule.ProductID = productID
	return rule
}

// Set installs a product-specific rule.
func (r *Rules) Set(productID string, rule Rule) {
	rule.ProductID = productID
	if rule.Thresholds.MinChangePercent <= 0 {
		rule.Thresholds = r.def.Thresholds
	}
	if rule.Frequency == "" {
		rule.Frequency = r.def.Frequency
	}
	r.mu.Lock()
	r.per[productID] = rule
	r.mu.Unlock()
}

// Gate suppresses repeated triggers of the same (rule, product) pair
// inside the rule's frequency window.
type Gate struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewGate() *Gate {
	return &Gate{last: make(map[string]time.Time)}
}

// Allow reports whether an alert for the (rule, product) pair may be
// emitted at the given time, recording the trigger when it may.
func (g *Gate) Allow(rule Rule, productID string, at time.Time) bool {
	window := rule.Frequency.Window()
	key := rule.ID + "/" + productID

	g.mu.Lock()
	defer g.mu.Unlock()

	if window > 0 {
		if last, ok := g.last[key]; ok && at.Sub(last) < window {
			return false
		}
	}
	g.last[key] = at
	return true
}
