package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds process-level settings read from the environment.
type Config struct {
	Port        string
	DBPath      string
	PipelineCfg string
}

func Load() Config {
	return Config{
		Port:        getEnv("PORT", "8080"),
		DBPath:      getEnv("DB_PATH", "revsnap.db"),
		PipelineCfg: getEnv("PIPELINE_CONFIG", "pipeline.yaml"),
	}
}

// Pipeline is the YAML-supplied pipeline configuration: the competitor
// source catalog, plan tiers, per-organization tier assignment, and the
// default alerting and insight thresholds.
type Pipeline struct {
	Sources       []Source          `yaml:"sources"`
	Plans         map[string]Plan   `yaml:"plans"`
	Organizations map[string]string `yaml:"organizations"`
	DefaultPlan   string            `yaml:"defaultPlan"`
	Alerts        Alerts            `yaml:"alerts"`
	Insights      Insights          `yaml:"insights"`
}

// Source describes one competitor source in the catalog.
type Source struct {
	ID                string `yaml:"id"`
	Name              string `yaml:"name"`
	Domain            string `yaml:"domain"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
	MaxRetries        int    `yaml:"maxRetries"`
	Adapter           string `yaml:"adapter"`  // "retailapi" or "fixture"
	Endpoint          string `yaml:"endpoint"` // retailapi only
}

// Plan mirrors the billing collaborator's tier configuration.
type Plan struct {
	MaxConcurrentJobs     int      `yaml:"maxConcurrentJobs"`
	UpdateIntervalMinutes int      `yaml:"updateIntervalMinutes"`
	RetryAttempts         int      `yaml:"retryAttempts"`
	RetryBaseMinutes      int      `yaml:"retryBaseMinutes"`
	TimeoutSeconds        int      `yaml:"timeoutSeconds"`
	AllowedSources        []string `yaml:"allowedSources"`
}

// Alerts holds the default alert-rule thresholds. All are percentages.
type Alerts struct {
	MinChangePercent float64 `yaml:"minChangePercent"`
	MediumPercent    float64 `yaml:"mediumPercent"`
	HighPercent      float64 `yaml:"highPercent"`
	Frequency        string  `yaml:"frequency"`
}

// Insights holds the market-intelligence rule thresholds.
type Insights struct {
	DispersionThreshold float64 `yaml:"dispersionThreshold"`
	HighDemandMonths    []int   `yaml:"highDemandMonths"`
}

// LoadPipeline reads and validates the YAML pipeline configuration.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from operator config
	if err != nil {
		return nil, fmt.Errorf("read pipeline config: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline parses pipeline configuration from YAML bytes and applies
// defaults for omitted threshold values.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pipeline config: %w", err)
	}

	if len(p.Sources) == 0 {
		return nil, fmt.Errorf("pipeline config: at least one source is required")
	}
	seen := make(map[string]bool, len(p.Sources))
	for i, s := range p.Sources {
		if s.ID == "" || s.Domain == "" {
			return nil, fmt.Errorf("pipeline config: source %d: id and domain are required", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("pipeline config: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		if s.RequestsPerMinute <= 0 {
			p.Sources[i].RequestsPerMinute = 10
		}
		if s.MaxRetries <= 0 {
			p.Sources[i].MaxRetries = 3
		}
	}

	if p.DefaultPlan == "" && len(p.Plans) > 0 {
		return nil, fmt.Errorf("pipeline config: defaultPlan is required when plans are defined")
	}
	if p.DefaultPlan != "" {
		if _, ok := p.Plans[p.DefaultPlan]; !ok {
			return nil, fmt.Errorf("pipeline config: defaultPlan %q is not defined", p.DefaultPlan)
		}
	}
	for org, plan := range p.Organizations {
		if _, ok := p.Plans[plan]; !ok {
			return nil, fmt.Errorf("pipeline config: organization %q references unknown plan %q", org, plan)
		}
	}

	if p.Alerts.MinChangePercent <= 0 {
		p.Alerts.MinChangePercent = 2
	}
	if p.Alerts.MediumPercent <= 0 {
		p.Alerts.MediumPercent = 5
	}
	if p.Alerts.HighPercent <= 0 {
		p.Alerts.HighPercent = 10
	}
	if p.Alerts.Frequency == "" {
		p.Alerts.Frequency = "immediate"
	}
	if p.Insights.DispersionThreshold <= 0 {
		p.Insights.DispersionThreshold = 0.3
	}
	if len(p.Insights.HighDemandMonths) == 0 {
		p.Insights.HighDemandMonths = []int{11, 12}
	}

	return &p, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
