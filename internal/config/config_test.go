package config

import (
	"strings"
	"testing"
)

const validYAML = `
sources:
  - id: alpha
    name: Alpha Retail
    domain: alpha.example.com
    requestsPerMinute: 10
    maxRetries: 3
    adapter: fixture
plans:
  starter:
    maxConcurrentJobs: 2
    updateIntervalMinutes: 60
    retryAttempts: 3
    retryBaseMinutes: 5
    timeoutSeconds: 30
    allowedSources: [alpha]
defaultPlan: starter
organizations:
  acme: starter
`

func TestParsePipeline_Valid(t *testing.T) {
	p, err := ParsePipeline([]byte(validYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p.Sources) != 1 || p.Sources[0].ID != "alpha" {
		t.Fatalf("unexpected sources: %+v", p.Sources)
	}
	if p.Plans["starter"].MaxConcurrentJobs != 2 {
		t.Errorf("expected maxConcurrentJobs 2, got %d", p.Plans["starter"].MaxConcurrentJobs)
	}
	if p.Organizations["acme"] != "starter" {
		t.Errorf("expected acme on starter plan")
	}
}

func TestParsePipeline_Defaults(t *testing.T) {
	p, err := ParsePipeline([]byte(validYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Alerts.MinChangePercent != 2 || p.Alerts.MediumPercent != 5 || p.Alerts.HighPercent != 10 {
		t.Errorf("alert band defaults not applied: %+v", p.Alerts)
	}
	if p.Alerts.Frequency != "immediate" {
		t.Errorf("expected immediate frequency default, got %q", p.Alerts.Frequency)
	}
	if p.Insights.DispersionThreshold != 0.3 {
		t.Errorf("expected 0.3 dispersion default, got %v", p.Insights.DispersionThreshold)
	}
	if len(p.Insights.HighDemandMonths) == 0 {
		t.Error("expected high-demand month defaults")
	}
}

func TestParsePipeline_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no sources", `plans: {}`, "at least one source"},
		{"missing domain", "sources:\n  - id: alpha", "id and domain"},
		{
			"duplicate source",
			"sources:\n  - id: a\n    domain: a.com\n  - id: a\n    domain: b.com",
			"duplicate source",
		},
		{
			"unknown default plan",
			"sources:\n  - id: a\n    domain: a.com\nplans:\n  starter: {}\ndefaultPlan: pro",
			"defaultPlan",
		},
		{
			"org on unknown plan",
			"sources:\n  - id: a\n    domain: a.com\nplans:\n  starter: {}\ndefaultPlan: starter\norganizations:\n  acme: pro",
			"unknown plan",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePipeline([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
