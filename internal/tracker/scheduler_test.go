package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/ratelimit"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/source"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/source/fixture"
)

type memTargets struct {
	mu    sync.Mutex
	items map[string]source.Target
}

func newMemTargets() *memTargets {
	return &memTargets{items: make(map[string]source.Target)}
}

func (m *memTargets) Save(_ context.Context, t *source.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[t.ID] = *t
	return nil
}

func (m *memTargets) List(_ context.Context) ([]source.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]source.Target, 0, len(m.items))
	for _, t := range m.items {
		out = append(out, t)
	}
	return out, nil
}

func (m *memTargets) DeleteByProduct(_ context.Context, productID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.items {
		if t.ProductID == productID {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

type recordSink struct {
	mu  sync.Mutex
	got []observation.Observation
}

func (r *recordSink) HandleObservation(_ context.Context, _ source.Target, obs observation.Observation) {
	r.mu.Lock()
	r.got = append(r.got, obs)
	r.mu.Unlock()
}

func (r *recordSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

// blockingAdapter holds every fetch until released and tracks the peak
// number of concurrent fetches.
type blockingAdapter struct {
	sourceID string
	release  chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (b *blockingAdapter) Source() string { return b.sourceID }

func (b *blockingAdapter) Fetch(ctx context.Context, t source.Target) (observation.Observation, error) {
	n := b.inFlight.Add(1)
	for {
		prev := b.maxSeen.Load()
		if n <= prev || b.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	defer b.inFlight.Add(-1)

	select {
	case <-b.release:
	case <-ctx.Done():
		return observation.Observation{}, source.NewFetchError(source.KindTimeout, b.sourceID, ctx.Err())
	}
	return observation.Observation{
		SourceID: b.sourceID, ProductID: t.ProductID,
		Price: 100, Currency: "USD", Available: true, Confidence: 1,
		CapturedAt: time.Now().UTC(),
	}, nil
}

func testTier() PlanTier {
	return PlanTier{
		Name:              "test",
		MaxConcurrentJobs: 3,
		UpdateInterval:    30 * time.Millisecond,
		RetryAttempts:     3,
		RetryBase:         5 * time.Millisecond,
		Timeout:           time.Second,
	}
}

func newTestScheduler(t *testing.T, adapter source.Adapter, tier PlanTier) (*Scheduler, *recordSink, *memTargets) {
	t.Helper()
	registry := source.NewRegistry()
	registry.Register(source.CompetitorSource{
		ID: "alpha", Name: "Alpha", Domain: "alpha.test",
		RequestsPerMinute: 1000, MaxRetries: 3,
	}, adapter)

	sink := &recordSink{}
	targets := newMemTargets()
	s := NewScheduler(registry, ratelimit.New(1000), NewTiers(tier), targets, sink,
		WithTick(5*time.Millisecond), WithBatch(5))
	return s, sink, targets
}

func startScheduler(t *testing.T, s *Scheduler) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not drain on shutdown")
		}
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func startRequest() StartTrackingRequest {
	return StartTrackingRequest{
		OrgID:     "acme",
		ProductID: "p1",
		Targets:   []TargetSpec{{SourceID: "alpha", URL: "http://alpha.test/p1"}},
	}
}

func TestScheduler_PollsAndReschedules(t *testing.T) {
	fx := fixture.New("alpha")
	fx.Script("p1", fixture.Ok(100), fixture.Ok(101), fixture.Ok(102))

	s, sink, _ := newTestScheduler(t, fx, testTier())
	if _, err := s.StartTracking(context.Background(), startRequest()); err != nil {
		t.Fatalf("start tracking: %v", err)
	}

	stop := startScheduler(t, s)
	defer stop()

	// The job must complete and be rescheduled at the update interval.
	waitUntil(t, func() bool { return sink.count() >= 2 }, "job was not polled repeatedly")

	jobs := s.Jobs(ListJobsRequest{ProductID: "p1"})
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Status == StatusFailed {
		t.Fatalf("job unexpectedly failed: %s", jobs[0].LastError)
	}
}

func TestScheduler_SingleRunningPerPair(t *testing.T) {
	b := &blockingAdapter{sourceID: "alpha", release: make(chan struct{})}
	tier := testTier()
	tier.UpdateInterval = time.Millisecond // reschedule aggressively
	s, _, _ := newTestScheduler(t, b, tier)

	if _, err := s.StartTracking(context.Background(), startRequest()); err != nil {
		t.Fatal(err)
	}

	stop := startScheduler(t, s)

	waitUntil(t, func() bool { return b.inFlight.Load() == 1 }, "fetch never started")
	// Give the scheduler plenty of ticks to (incorrectly) double-dispatch.
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	stop()

	if max := b.maxSeen.Load(); max > 1 {
		t.Fatalf("observed %d concurrent fetches for one pair, want at most 1", max)
	}
}

func TestScheduler_PerOrgConcurrencyCap(t *testing.T) {
	b := &blockingAdapter{sourceID: "alpha", release: make(chan struct{})}
	tier := testTier()
	tier.MaxConcurrentJobs = 1
	s, _, _ := newTestScheduler(t, b, tier)

	ctx := context.Background()
	for _, product := range []string{"p1", "p2", "p3"} {
		req := startRequest()
		req.ProductID = product
		if _, err := s.StartTracking(ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	stop := startScheduler(t, s)

	waitUntil(t, func() bool { return b.inFlight.Load() >= 1 }, "no fetch started")
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	stop()

	if max := b.maxSeen.Load(); max > 1 {
		t.Fatalf("org cap of 1 violated: %d concurrent fetches", max)
	}
}

func TestScheduler_RateLimitDefersJobs(t *testing.T) {
	fx := fixture.New("alpha")
	fx.Script("p1", fixture.Ok(100))
	fx.Script("p2", fixture.Ok(200))

	registry := source.NewRegistry()
	registry.Register(source.CompetitorSource{
		ID: "alpha", Name: "Alpha", Domain: "alpha.test",
		RequestsPerMinute: 1, MaxRetries: 3,
	}, fx)

	limiter := ratelimit.New(1000)
	limiter.SetLimit("alpha.test", 1)

	sink := &recordSink{}
	s := NewScheduler(registry, limiter, NewTiers(testTier()), newMemTargets(), sink,
		WithTick(5*time.Millisecond), WithBatch(5))

	ctx := context.Background()
	for _, product := range []string{"p1", "p2"} {
		req := startRequest()
		req.ProductID = product
		if _, err := s.StartTracking(ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	stop := startScheduler(t, s)
	defer stop()

	waitUntil(t, func() bool { return sink.count() == 1 }, "first fetch never ran")
	time.Sleep(50 * time.Millisecond)

	// Only one slot per 60s window: the second job must still be waiting,
	// Pending, not Failed.
	if got := sink.count(); got != 1 {
		t.Fatalf("rate limit allowed %d fetches, want 1", got)
	}
	for _, j := range s.Jobs(ListJobsRequest{}) {
		if j.Status == StatusFailed {
			t.Fatalf("deferred job must stay schedulable, got %+v", j)
		}
	}
}

func TestScheduler_RetriesThenParks(t *testing.T) {
	fx := fixture.New("alpha")
	fx.Script("p1", fixture.Fail(source.KindMalformed))

	tier := testTier()
	tier.RetryAttempts = 2
	s, sink, _ := newTestScheduler(t, fx, tier)

	ctx := context.Background()
	ids, err := s.StartTracking(ctx, startRequest())
	if err != nil {
		t.Fatal(err)
	}

	stop := startScheduler(t, s)
	defer stop()

	waitUntil(t, func() bool {
		j, err := s.Job(ids[0])
		return err == nil && j.Status == StatusFailed
	}, "job never parked")

	j, _ := s.Job(ids[0])
	if j.RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2", j.RetryCount)
	}
	if j.LastError == "" {
		t.Error("parked job must carry its last error")
	}
	if sink.count() != 0 {
		t.Errorf("failed fetches must not reach the sink, got %d", sink.count())
	}

	// Re-arm returns the job to the schedulable pool. The scheduler is
	// still running, so it may already be retrying (and failing) again;
	// only the reset itself is asserted.
	if err := s.Rearm(ids[0]); err != nil {
		t.Fatalf("rearm: %v", err)
	}
	j, _ = s.Job(ids[0])
	if j.Status == StatusFailed && j.RetryCount == 2 {
		t.Errorf("rearm did not reset the job: %+v", j)
	}
}

func TestScheduler_BackoffMonotonic(t *testing.T) {
	fx := fixture.New("alpha")
	s, _, _ := newTestScheduler(t, fx, testTier())

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	ids, err := s.StartTracking(context.Background(), startRequest())
	if err != nil {
		t.Fatal(err)
	}

	tier := testTier()
	tier.RetryAttempts = 5
	desc := source.CompetitorSource{ID: "alpha", MaxRetries: 5}
	fetchErr := source.NewFetchError(source.KindTimeout, "alpha", errors.New("slow"))

	s.mu.Lock()
	j := s.jobs[ids[0]]
	s.mu.Unlock()

	var last time.Time
	for i := 1; i < 5; i++ {
		s.mu.Lock()
		j.Status = StatusRunning
		s.mu.Unlock()
		s.completeFailure(j, tier, desc, fetchErr)

		snap, _ := s.Job(ids[0])
		if snap.Status != StatusPending {
			t.Fatalf("retry %d: status = %s, want pending", i, snap.Status)
		}
		if !snap.NextRunAt.After(last) {
			t.Fatalf("retry %d: nextRunAt %v did not increase past %v", i, snap.NextRunAt, last)
		}
		wantDelay := tier.RetryBase * time.Duration(i)
		if got := snap.NextRunAt.Sub(clock); got != wantDelay {
			t.Errorf("retry %d: backoff = %v, want %v", i, got, wantDelay)
		}
		last = snap.NextRunAt
	}

	// Fifth failure reaches maxRetries and parks the job.
	s.mu.Lock()
	j.Status = StatusRunning
	s.mu.Unlock()
	s.completeFailure(j, tier, desc, fetchErr)
	snap, _ := s.Job(ids[0])
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s after final retry, want failed", snap.Status)
	}
}

func TestScheduler_UnsupportedParksImmediately(t *testing.T) {
	fx := fixture.New("alpha")
	fx.Script("p1", fixture.Fail(source.KindUnsupported))

	s, _, _ := newTestScheduler(t, fx, testTier())
	ids, err := s.StartTracking(context.Background(), startRequest())
	if err != nil {
		t.Fatal(err)
	}

	stop := startScheduler(t, s)
	defer stop()

	waitUntil(t, func() bool {
		j, err := s.Job(ids[0])
		return err == nil && j.Status == StatusFailed
	}, "unsupported job never parked")

	j, _ := s.Job(ids[0])
	if j.RetryCount != 0 {
		t.Errorf("unsupported errors must not burn retries, retryCount = %d", j.RetryCount)
	}
}

func TestStartTracking_UnknownSourceCreatesNothing(t *testing.T) {
	fx := fixture.New("alpha")
	s, _, targets := newTestScheduler(t, fx, testTier())

	req := startRequest()
	req.Targets = append(req.Targets, TargetSpec{SourceID: "nosuch", URL: "http://x"})
	if _, err := s.StartTracking(context.Background(), req); err == nil {
		t.Fatal("expected error for unknown source")
	}

	if got := len(s.Jobs(ListJobsRequest{})); got != 0 {
		t.Errorf("expected no jobs, got %d", got)
	}
	stored, _ := targets.List(context.Background())
	if len(stored) != 0 {
		t.Errorf("expected no stored targets, got %d", len(stored))
	}
}

func TestStartTracking_PlanGatesSources(t *testing.T) {
	fx := fixture.New("alpha")
	tier := testTier()
	tier.AllowedSources = []string{"beta"}
	s, _, _ := newTestScheduler(t, fx, tier)

	if _, err := s.StartTracking(context.Background(), startRequest()); err == nil {
		t.Fatal("expected plan-gated source to be rejected")
	}
}

func TestStartTracking_ExistingPairReused(t *testing.T) {
	fx := fixture.New("alpha")
	s, _, _ := newTestScheduler(t, fx, testTier())
	ctx := context.Background()

	first, err := s.StartTracking(ctx, startRequest())
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.StartTracking(ctx, startRequest())
	if err != nil {
		t.Fatal(err)
	}
	if first[0] != second[0] {
		t.Errorf("same pair produced different jobs: %s vs %s", first[0], second[0])
	}
	if got := len(s.Jobs(ListJobsRequest{})); got != 1 {
		t.Errorf("expected 1 job, got %d", got)
	}
}

func TestStopTracking_DiscardsInFlightResult(t *testing.T) {
	b := &blockingAdapter{sourceID: "alpha", release: make(chan struct{})}
	s, sink, targets := newTestScheduler(t, b, testTier())
	ctx := context.Background()

	if _, err := s.StartTracking(ctx, startRequest()); err != nil {
		t.Fatal(err)
	}

	stop := startScheduler(t, s)
	defer stop()

	waitUntil(t, func() bool { return b.inFlight.Load() == 1 }, "fetch never started")

	if err := s.StopTracking(ctx, "p1"); err != nil {
		t.Fatalf("stop tracking: %v", err)
	}
	// Idempotent.
	if err := s.StopTracking(ctx, "p1"); err != nil {
		t.Fatalf("second stop tracking: %v", err)
	}

	close(b.release)
	time.Sleep(50 * time.Millisecond)

	if sink.count() != 0 {
		t.Errorf("cancelled job's result reached the sink")
	}
	if got := len(s.Jobs(ListJobsRequest{})); got != 0 {
		t.Errorf("expected no jobs after stop, got %d", got)
	}
	stored, _ := targets.List(ctx)
	if len(stored) != 0 {
		t.Errorf("expected targets removed, got %d", len(stored))
	}
}

func TestRestore_RebuildsJobsFromTargets(t *testing.T) {
	fx := fixture.New("alpha")
	fx.Script("p1", fixture.Ok(100))

	s, sink, targets := newTestScheduler(t, fx, testTier())
	ctx := context.Background()

	_ = targets.Save(ctx, &source.Target{
		ID: "t1", OrgID: "acme", ProductID: "p1", SourceID: "alpha",
		URL: "http://alpha.test/p1", CreatedAt: time.Now().UTC(),
	})

	if err := s.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := len(s.Jobs(ListJobsRequest{})); got != 1 {
		t.Fatalf("expected 1 restored job, got %d", got)
	}

	stop := startScheduler(t, s)
	defer stop()
	waitUntil(t, func() bool { return sink.count() >= 1 }, "restored job never ran")
}
