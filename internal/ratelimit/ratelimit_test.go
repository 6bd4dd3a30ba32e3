package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAllow_ExactLimitUnderConcurrency(t *testing.T) {
	l := New(10)
	l.SetLimit("alpha.example.com", 10)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("alpha.example.com") {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if granted.Load() != 10 {
		t.Fatalf("expected exactly 10 grants, got %d", granted.Load())
	}
	if n := l.InWindow("alpha.example.com"); n != 10 {
		t.Errorf("expected 10 recorded requests, got %d", n)
	}
}

func TestAllow_RejectionHasNoSideEffect(t *testing.T) {
	l := New(2)
	if !l.Allow("a.com") || !l.Allow("a.com") {
		t.Fatal("first two requests should be granted")
	}
	for i := 0; i < 5; i++ {
		if l.Allow("a.com") {
			t.Fatal("request over limit was granted")
		}
	}
	if n := l.InWindow("a.com"); n != 2 {
		t.Errorf("rejections must not be recorded, got %d in window", n)
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(2)
	l.now = func() time.Time { return clock }

	if !l.Allow("a.com") || !l.Allow("a.com") {
		t.Fatal("expected initial grants")
	}
	if l.Allow("a.com") {
		t.Fatal("expected rejection at limit")
	}

	// 30s later the window still holds both timestamps.
	clock = clock.Add(30 * time.Second)
	if l.Allow("a.com") {
		t.Fatal("expected rejection mid-window")
	}

	// 61s after the first grants both have expired.
	clock = clock.Add(31 * time.Second)
	if !l.Allow("a.com") {
		t.Fatal("expected grant after window slid past old requests")
	}
}

func TestAllow_DomainsAreIndependent(t *testing.T) {
	l := New(1)
	if !l.Allow("a.com") {
		t.Fatal("expected grant for a.com")
	}
	if !l.Allow("b.com") {
		t.Fatal("a.com's usage must not affect b.com")
	}
	if l.Allow("a.com") {
		t.Fatal("a.com should be at its limit")
	}
}

func TestSetLimit_Overrides(t *testing.T) {
	l := New(1)
	l.SetLimit("big.com", 3)
	for i := 0; i < 3; i++ {
		if !l.Allow("big.com") {
			t.Fatalf("grant %d should succeed", i+1)
		}
	}
	if l.Allow("big.com") {
		t.Fatal("fourth grant should fail")
	}
}
