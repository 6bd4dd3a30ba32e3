package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/apperror"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/ratelimit"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/source"
)

// Sink consumes the observation produced by a successful fetch. The
// scheduler calls it while the job is still Running, so observations for
// one (product, source) pair are handled strictly in completion order.
type Sink interface {
	HandleObservation(ctx context.Context, t source.Target, obs observation.Observation)
}

type jobState struct {
	Job
	cancelled bool
}

// Scheduler owns the in-memory job table. All state transitions happen
// under one mutex; fetches run concurrently outside it.
type Scheduler struct {
	registry *source.Registry
	limiter  *ratelimit.Limiter
	tiers    *Tiers
	targets  TargetRepository
	sink     Sink

	tick  time.Duration
	batch int
	now   func() time.Time

	mu     sync.Mutex
	jobs   map[string]*jobState // by job ID
	byPair map[string]string    // productID|sourceID -> job ID

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick sets the scheduling loop interval.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// WithBatch caps how many jobs one tick may dispatch.
func WithBatch(n int) Option {
	return func(s *Scheduler) { s.batch = n }
}

func NewScheduler(registry *source.Registry, limiter *ratelimit.Limiter, tiers *Tiers, targets TargetRepository, sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: registry,
		limiter:  limiter,
		tiers:    tiers,
		targets:  targets,
		sink:     sink,
		tick:     2 * time.Second,
		batch:    5,
		now:      time.Now,
		jobs:     make(map[string]*jobState),
		byPair:   make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func pairKey(productID, sourceID string) string {
	return productID + "|" + sourceID
}

// Restore rebuilds the job table from persisted targets. Called once at
// startup before Run.
func (s *Scheduler) Restore(ctx context.Context) error {
	targets, err := s.targets.List(ctx)
	if err != nil {
		return fmt.Errorf("restore targets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range targets {
		if _, ok := s.byPair[pairKey(t.ProductID, t.SourceID)]; ok {
			continue
		}
		s.addJobLocked(t)
	}
	slog.Info("scheduler: restored tracking jobs", "count", len(targets))
	return nil
}

// StartTracking registers targets for a product and returns the job IDs.
// Every source is validated up front; an unknown or plan-excluded source
// fails the whole request and creates nothing.
func (s *Scheduler) StartTracking(ctx context.Context, req StartTrackingRequest) ([]string, error) {
	if appErr := req.Validate(); appErr != nil {
		return nil, appErr
	}

	tier := s.tiers.For(req.OrgID)
	for _, spec := range req.Targets {
		if _, _, err := s.registry.Lookup(spec.SourceID); err != nil {
			return nil, apperror.Newf(apperror.BadRequest, "unsupported source: %s", spec.SourceID)
		}
		if !tier.Allows(spec.SourceID) {
			return nil, apperror.Newf(apperror.BadRequest, "source %s is not available on the %s plan", spec.SourceID, tier.Name)
		}
	}

	jobIDs := make([]string, 0, len(req.Targets))
	for _, spec := range req.Targets {
		t := source.Target{
			ID:        uuid.NewString(),
			OrgID:     req.OrgID,
			ProductID: req.ProductID,
			SourceID:  spec.SourceID,
			URL:       spec.URL,
			YourPrice: req.YourPrice,
			CreatedAt: s.now().UTC(),
		}

		s.mu.Lock()
		if jobID, ok := s.byPair[pairKey(t.ProductID, t.SourceID)]; ok {
			// Already tracked: refresh the stored target, keep the job.
			j := s.jobs[jobID]
			t.ID = j.Target.ID
			t.CreatedAt = j.Target.CreatedAt
			j.Target = t
			s.mu.Unlock()
			if err := s.targets.Save(ctx, &t); err != nil {
				return nil, fmt.Errorf("save target: %w", err)
			}
			jobIDs = append(jobIDs, jobID)
			continue
		}
		j := s.addJobLocked(t)
		s.mu.Unlock()

		if err := s.targets.Save(ctx, &t); err != nil {
			return nil, fmt.Errorf("save target: %w", err)
		}
		slog.Info("scheduler: tracking started", "job", j.ID,
			"product", t.ProductID, "source", t.SourceID, "org", t.OrgID)
		jobIDs = append(jobIDs, j.ID)
	}

	return jobIDs, nil
}

func (s *Scheduler) addJobLocked(t source.Target) *jobState {
	j := &jobState{Job: Job{
		ID:        uuid.NewString(),
		Target:    t,
		Status:    StatusPending,
		NextRunAt: s.now().UTC(),
		CreatedAt: s.now().UTC(),
	}}
	s.jobs[j.ID] = j
	s.byPair[pairKey(t.ProductID, t.SourceID)] = j.ID
	return j
}

// StopTracking cancels all jobs for a product and removes its targets.
// Idempotent: stopping an untracked product is a no-op. An in-flight
// fetch completes but its result is discarded.
func (s *Scheduler) StopTracking(ctx context.Context, productID string) error {
	s.mu.Lock()
	removed := 0
	for id, j := range s.jobs {
		if j.Target.ProductID != productID {
			continue
		}
		j.cancelled = true
		delete(s.jobs, id)
		delete(s.byPair, pairKey(j.Target.ProductID, j.Target.SourceID))
		removed++
	}
	s.mu.Unlock()

	if _, err := s.targets.DeleteByProduct(ctx, productID); err != nil {
		return fmt.Errorf("delete targets: %w", err)
	}
	if removed > 0 {
		slog.Info("scheduler: tracking stopped", "product", productID, "jobs", removed)
	}
	return nil
}

// Rearm returns a terminally failed job to the schedulable pool.
func (s *Scheduler) Rearm(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return apperror.New(apperror.NotFound, "job not found")
	}
	if j.Status != StatusFailed {
		return apperror.New(apperror.Conflict, "only failed jobs can be re-armed")
	}
	j.Status = StatusPending
	j.RetryCount = 0
	j.LastError = ""
	j.NextRunAt = s.now().UTC()
	slog.Info("scheduler: job re-armed", "job", j.ID,
		"product", j.Target.ProductID, "source", j.Target.SourceID)
	return nil
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "job not found")
	}
	snap := j.Job
	return &snap, nil
}

// Jobs returns snapshots of jobs matching the filter, oldest first.
func (s *Scheduler) Jobs(req ListJobsRequest) []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if req.ProductID != "" && j.Target.ProductID != req.ProductID {
			continue
		}
		if req.OrgID != "" && j.Target.OrgID != req.OrgID {
			continue
		}
		out = append(out, j.Job)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

// Run drives the scheduling loop until ctx is cancelled, then waits for
// in-flight fetches to drain.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("scheduler: stopped")
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// dispatch selects due jobs whose organization has a free concurrency
// slot and whose domain has a free rate-limiter slot, marks them Running,
// and launches their fetches. Jobs skipped here stay Pending and are
// re-checked next tick.
func (s *Scheduler) dispatch(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	runningByOrg := make(map[string]int)
	due := make([]*jobState, 0)
	for _, j := range s.jobs {
		switch j.Status {
		case StatusRunning:
			runningByOrg[j.Target.OrgID]++
		case StatusPending:
			if !j.NextRunAt.After(now) {
				due = append(due, j)
			}
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if due[i].NextRunAt.Equal(due[k].NextRunAt) {
			return due[i].ID < due[k].ID
		}
		return due[i].NextRunAt.Before(due[k].NextRunAt)
	})

	selected := make([]*jobState, 0, s.batch)
	for _, j := range due {
		if len(selected) >= s.batch {
			break
		}
		tier := s.tiers.For(j.Target.OrgID)
		if runningByOrg[j.Target.OrgID] >= tier.MaxConcurrentJobs {
			continue
		}
		desc, _, err := s.registry.Lookup(j.Target.SourceID)
		if err != nil {
			// Source vanished from the catalog; park the job.
			j.Status = StatusFailed
			j.LastError = err.Error()
			slog.Error("scheduler: job parked, source unregistered", "job", j.ID, "source", j.Target.SourceID)
			continue
		}
		if !s.limiter.Allow(desc.Domain) {
			continue
		}
		j.Status = StatusRunning
		j.LastRunAt = now
		runningByOrg[j.Target.OrgID]++
		selected = append(selected, j)
		slog.Info("scheduler: job running", "job", j.ID,
			"product", j.Target.ProductID, "source", j.Target.SourceID, "retry", j.RetryCount)
	}
	s.mu.Unlock()

	for _, j := range selected {
		s.wg.Add(1)
		go func(j *jobState) {
			defer s.wg.Done()
			s.runJob(ctx, j)
		}(j)
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *jobState) {
	tier := s.tiers.For(j.Target.OrgID)
	desc, adapter, err := s.registry.Lookup(j.Target.SourceID)
	if err != nil {
		s.completeFailure(j, tier, desc, err)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, tier.Timeout)
	obs, err := adapter.Fetch(fetchCtx, j.Target)
	cancel()

	if err != nil {
		s.completeFailure(j, tier, desc, err)
		return
	}
	s.completeSuccess(ctx, j, tier, obs)
}

func (s *Scheduler) completeSuccess(ctx context.Context, j *jobState, tier PlanTier, obs observation.Observation) {
	s.mu.Lock()
	cancelled := j.cancelled
	s.mu.Unlock()
	if cancelled {
		slog.Info("scheduler: discarding result of cancelled job", "job", j.ID)
		return
	}

	// The job stays Running while the sink processes, so observations for
	// this pair are handled strictly one at a time.
	s.sink.HandleObservation(ctx, j.Target, obs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if j.cancelled {
		return
	}
	j.Status = StatusCompleted
	slog.Info("scheduler: job completed", "job", j.ID,
		"product", j.Target.ProductID, "source", j.Target.SourceID, "price", obs.Price)

	j.Status = StatusPending
	j.RetryCount = 0
	j.LastError = ""
	j.NextRunAt = s.now().UTC().Add(tier.UpdateInterval)
}

func (s *Scheduler) completeFailure(j *jobState, tier PlanTier, desc source.CompetitorSource, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.cancelled {
		slog.Info("scheduler: discarding failure of cancelled job", "job", j.ID)
		return
	}

	j.LastError = err.Error()

	if source.Fatal(err) {
		j.Status = StatusFailed
		slog.Error("scheduler: job parked, unsupported target", "job", j.ID,
			"product", j.Target.ProductID, "source", j.Target.SourceID, "error", err)
		return
	}

	j.RetryCount++
	maxRetries := desc.MaxRetries
	if tier.RetryAttempts > 0 {
		maxRetries = tier.RetryAttempts
	}
	if j.RetryCount >= maxRetries {
		j.Status = StatusFailed
		slog.Error("scheduler: job parked after retries", "job", j.ID,
			"product", j.Target.ProductID, "source", j.Target.SourceID,
			"retries", j.RetryCount, "error", err)
		return
	}

	j.Status = StatusPending
	j.NextRunAt = s.now().UTC().Add(s.backoff(tier, j.RetryCount))
	slog.Warn("scheduler: job rescheduled after failure", "job", j.ID,
		"product", j.Target.ProductID, "source", j.Target.SourceID,
		"retry", j.RetryCount, "nextRunAt", j.NextRunAt, "kind", source.KindOf(err), "error", err)
}

// backoff grows linearly with the retry count, floored at one base
// interval.
func (s *Scheduler) backoff(tier PlanTier, retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return tier.RetryBase * time.Duration(retryCount)
}
