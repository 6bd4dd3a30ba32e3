// Package pipeline connects the scheduler's fetch results to storage,
// alerting, market insights, and the live feed. It is the single sink
// for every successful observation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/alert"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/feed"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/insight"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/source"
)

type Pipeline struct {
	observations observation.Repository
	alerts       alert.Repository
	rules        *alert.Rules
	gate         *alert.Gate
	insights     *insight.Engine
	feed         *feed.Feed
	notifier     alert.Notifier // optional

	now func() time.Time
}

func New(observations observation.Repository, alerts alert.Repository, rules *alert.Rules, gate *alert.Gate, insights *insight.Engine, f *feed.Feed, notifier alert.Notifier) *Pipeline {
	return &Pipeline{
		observations: observations,
		alerts:       alerts,
		rules:        rules,
		gate:         gate,
		insights:     insights,
		feed:         f,
		notifier:     notifier,
		now:          time.Now,
	}
}

// HandleObservation persists the observation, evaluates the product's
// alert rule against the previous reading from the same source, and
// publishes the results. Called by the scheduler once per successful
// fetch, serialized per (product, source) pair.
func (p *Pipeline) HandleObservation(ctx context.Context, t source.Target, obs observation.Observation) {
	prev, err := p.observations.Latest(ctx, obs.ProductID, obs.SourceID)
	if err != nil {
		slog.Error("pipeline: loading previous observation",
			"product", obs.ProductID, "source", obs.SourceID, "error", err)
		prev = nil
	}

	obs.CreatedAt = p.now().UTC()
	if err := p.observations.Save(ctx, &obs); err != nil {
		slog.Error("pipeline: saving observation",
			"product", obs.ProductID, "source", obs.SourceID, "error", err)
		return
	}

	p.feed.Publish(obs.ProductID, feed.Event{
		Type:        feed.EventObservation,
		Observation: &obs,
		At:          obs.CreatedAt,
	})

	p.evaluateAlert(ctx, prev, obs)

	if t.YourPrice != nil {
		p.refreshInsights(ctx, obs.ProductID, t.YourPrice)
	}
}

func (p *Pipeline) evaluateAlert(ctx context.Context, prev *observation.Observation, cur observation.Observation) {
	rule := p.rules.For(cur.ProductID)
	a := alert.NewEngine(rule.Thresholds).Evaluate(prev, cur)
	if a == nil {
		return
	}
	if !p.gate.Allow(rule, cur.ProductID, a.TriggeredAt) {
		slog.Info("pipeline: alert suppressed by frequency window",
			"product", cur.ProductID, "source", cur.SourceID,
			"severity", a.Severity, "frequency", rule.Frequency)
		return
	}

	a.ID = uuid.NewString()
	a.CreatedAt = p.now().UTC()
	if err := p.alerts.Save(ctx, a); err != nil {
		slog.Error("pipeline: saving alert", "product", a.ProductID, "error", err)
		return
	}
	slog.Info("pipeline: alert triggered", "alert", a.ID,
		"product", a.ProductID, "source", a.SourceID,
		"severity", a.Severity, "changePercent", a.ChangePercent)

	if p.notifier != nil {
		if err := p.notifier.Deliver(ctx, rule, *a); err != nil {
			slog.Error("pipeline: delivering alert", "alert", a.ID, "error", err)
		}
	}

	p.feed.Publish(a.ProductID, feed.Event{
		Type:  feed.EventAlert,
		Alert: a,
		At:    a.CreatedAt,
	})
}

func (p *Pipeline) refreshInsights(ctx context.Context, productID string, yourPrice *float64) {
	report, err := p.Insights(ctx, productID, yourPrice)
	if err != nil {
		slog.Error("pipeline: refreshing insights", "product", productID, "error", err)
		return
	}
	p.feed.Publish(productID, feed.Event{
		Type:     feed.EventInsights,
		Insights: &report,
		At:       p.now().UTC(),
	})
}

// Insights analyzes the product's stored observations. The same inputs
// always produce the same report.
func (p *Pipeline) Insights(ctx context.Context, productID string, yourPrice *float64) (insight.Report, error) {
	current, err := p.observations.LatestPerSource(ctx, productID)
	if err != nil {
		return insight.Report{}, fmt.Errorf("load current observations: %w", err)
	}
	history, err := p.observations.History(ctx, productID, observation.RetentionDays)
	if err != nil {
		return insight.Report{}, fmt.Errorf("load observation history: %w", err)
	}

	return p.insights.Analyze(insight.Input{
		ProductID: productID,
		YourPrice: yourPrice,
		Current:   current,
		History:   history,
	}), nil
}
