package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/alert"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/config"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/feed"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/insight"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/pipeline"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/platform/sqlite"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/ratelimit"
	alertrepo "github.com/rishicmhs2026/revsnap-saas-sub000/internal/repository/alert"
	obsrepo "github.com/rishicmhs2026/revsnap-saas-sub000/internal/repository/observation"
	targetrepo "github.com/rishicmhs2026/revsnap-saas-sub000/internal/repository/target"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/server"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/source"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/source/fixture"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/source/retailapi"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/tracker"
)

const retentionInterval = time.Hour

func main() {
	cfg := config.Load()

	pipelineCfg, err := config.LoadPipeline(cfg.PipelineCfg)
	if err != nil {
		slog.Error("failed to load pipeline config", "error", err)
		os.Exit(1)
	}

	// Root context: cancelled on SIGINT/SIGTERM so in-flight fetches stop
	// promptly during graceful shutdown.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Open database
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Repositories
	obsRepo := obsrepo.NewRepository(db.DB)
	alRepo := alertrepo.NewRepository(db.DB)
	tgRepo := targetrepo.NewRepository(db.DB)

	// Source catalog, adapters, and per-domain rate limits
	registry := source.NewRegistry()
	limiter := ratelimit.New(10)
	for _, s := range pipelineCfg.Sources {
		desc := source.CompetitorSource{
			ID:                s.ID,
			Name:              s.Name,
			Domain:            s.Domain,
			RequestsPerMinute: s.RequestsPerMinute,
			MaxRetries:        s.MaxRetries,
		}
		registry.Register(desc, buildAdapter(s))
		limiter.SetLimit(s.Domain, s.RequestsPerMinute)
	}

	// Plan tiers
	tiers := tracker.NewTiers(planToTier(pipelineCfg.DefaultPlan, pipelineCfg.Plans[pipelineCfg.DefaultPlan]))
	for org, planName := range pipelineCfg.Organizations {
		tiers.Assign(org, planToTier(planName, pipelineCfg.Plans[planName]))
	}

	// Engines, feed, and the pipeline glue
	rules := alert.NewRules(alert.Rule{
		ID: "default",
		Thresholds: alert.Thresholds{
			MinChangePercent: pipelineCfg.Alerts.MinChangePercent,
			MediumPercent:    pipelineCfg.Alerts.MediumPercent,
			HighPercent:      pipelineCfg.Alerts.HighPercent,
		},
		Frequency: alert.ParseFrequency(pipelineCfg.Alerts.Frequency),
	})
	insightEngine := insight.NewEngine(insight.Config{
		DispersionThreshold: pipelineCfg.Insights.DispersionThreshold,
		HighDemandMonths:    toMonths(pipelineCfg.Insights.HighDemandMonths),
	})
	liveFeed := feed.New()
	pipe := pipeline.New(obsRepo, alRepo, rules, alert.NewGate(), insightEngine, liveFeed, nil)

	// Tracking scheduler: rebuild jobs from persisted targets, then poll.
	scheduler := tracker.NewScheduler(registry, limiter, tiers, tgRepo, pipe)
	if err := scheduler.Restore(rootCtx); err != nil {
		slog.Error("failed to restore tracking jobs", "error", err)
		os.Exit(1)
	}

	obsSvc := observation.NewService(obsRepo)

	// Background workers
	workers, workerCtx := errgroup.WithContext(rootCtx)
	workers.Go(func() error {
		scheduler.Run(workerCtx)
		return nil
	})
	workers.Go(func() error {
		obsSvc.RunRetention(workerCtx, retentionInterval)
		return nil
	})

	// HTTP server — rootCtx is used as BaseContext so every request context
	// inherits from it and is cancelled on shutdown.
	srv := server.New(rootCtx, cfg.Port, server.Deps{
		Registry:     registry,
		Scheduler:    scheduler,
		Observations: obsSvc,
		Alerts:       alRepo,
		Rules:        rules,
		Pipeline:     pipe,
	})

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server started", "port", cfg.Port, "sources", len(pipelineCfg.Sources))
	<-done

	// Cancel root context first so the scheduler stops dispatching and
	// in-flight fetches wind down immediately.
	rootCancel()

	// Wait for the scheduler and retention pass to drain, then stop
	// publishing and drain HTTP connections with a deadline.
	_ = workers.Wait()
	liveFeed.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
}

func buildAdapter(s config.Source) source.Adapter {
	if s.Adapter == "fixture" {
		return fixture.New(s.ID)
	}
	var opts []retailapi.Option
	if s.Endpoint != "" {
		opts = append(opts, retailapi.WithEndpoint(s.Endpoint))
	}
	return retailapi.New(s.ID, opts...)
}

func planToTier(name string, p config.Plan) tracker.PlanTier {
	return tracker.PlanTier{
		Name:              name,
		MaxConcurrentJobs: p.MaxConcurrentJobs,
		UpdateInterval:    time.Duration(p.UpdateIntervalMinutes) * time.Minute,
		RetryAttempts:     p.RetryAttempts,
		RetryBase:         time.Duration(p.RetryBaseMinutes) * time.Minute,
		Timeout:           time.Duration(p.TimeoutSeconds) * time.Second,
		AllowedSources:    p.AllowedSources,
	}
}

func toMonths(months []int) []time.Month {
	out := make([]time.Month, 0, len(months))
	for _, m := range months {
		if m >= 1 && m <= 12 {
			out = append(out, time.Month(m))
		}
	}
	return out
}
