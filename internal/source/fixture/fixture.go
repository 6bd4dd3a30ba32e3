// Package fixture provides a deterministic source adapter that replays a
// scripted sequence of observations and failures. It backs tests and demo
// configurations; there is no randomness anywhere in its output.
package fixture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/source"
)

// Step is one scripted fetch outcome. A non-empty Fail takes precedence
// over the price fields.
type Step struct {
	Price     float64
	Available bool
	Fail      source.ErrorKind
}

// Ok builds a successful step for an in-stock price.
func Ok(price float64) Step { return Step{Price: price, Available: true} }

// Fail builds a failing step of the given kind.
func Fail(kind source.ErrorKind) Step { return Step{Fail: kind} }

// Adapter replays scripts keyed by product ID. When a script runs out its
// last step repeats, so a single-step script behaves as a constant price.
type Adapter struct {
	sourceID string
	currency string

	mu      sync.Mutex
	scripts map[string][]Step
	cursors map[string]int
}

func New(sourceID string) *Adapter {
	return &Adapter{
		sourceID: sourceID,
		currency: "USD",
		scripts:  make(map[string][]Step),
		cursors:  make(map[string]int),
	}
}

// Script installs (or replaces) the step sequence for a product and
// resets its cursor.
func (a *Adapter) Script(productID string, steps ...Step) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts[productID] = steps
	a.cursors[productID] = 0
}

func (a *Adapter) Source() string { return a.sourceID }

func (a *Adapter) Fetch(ctx context.Context, t source.Target) (observation.Observation, error) {
	var zero observation.Observation

	if err := ctx.Err(); err != nil {
		return zero, source.NewFetchError(source.KindTimeout, a.sourceID, err)
	}
	if t.SourceID != a.sourceID {
		return zero, source.NewFetchError(source.KindUnsupported, a.sourceID,
			fmt.Errorf("target source %q does not match adapter %q", t.SourceID, a.sourceID))
	}

	a.mu.Lock()
	steps, ok := a.scripts[t.ProductID]
	if !ok || len(steps) == 0 {
		a.mu.Unlock()
		return zero, source.NewFetchError(source.KindNotFound, a.sourceID,
			fmt.Errorf("no fixture script for product %s", t.ProductID))
	}
	i := a.cursors[t.ProductID]
	if i >= len(steps) {
		i = len(steps) - 1
	}
	step := steps[i]
	a.cursors[t.ProductID]++
	a.mu.Unlock()

	if step.Fail != "" {
		return zero, source.NewFetchError(step.Fail, a.sourceID,
			fmt.Errorf("scripted %s failure", step.Fail))
	}

	return observation.Observation{
		SourceID:   a.sourceID,
		ProductID:  t.ProductID,
		Price:      step.Price,
		Currency:   a.currency,
		Available:  step.Available,
		Confidence: 1.0,
		CapturedAt: time.Now().UTC(),
	}, nil
}
