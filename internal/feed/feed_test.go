package feed

import (
	"sync"
	"testing"
	"time"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
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

func obsEvent(price float64) Event {
	return Event{
		Type:        EventObservation,
		Observation: &observation.Observation{Price: price},
		At:          time.Now(),
	}
}

func TestPublish_DeliversInOrder(t *testing.T) {
	f := New()
	defer f.Close()

	var mu sync.Mutex
	var got []float64
	f.Subscribe("p1", func(ev Event) {
		mu.Lock()
		got = append(got, ev.Observation.Price)
		mu.Unlock()
	})

	for i := 1; i <= 5; i++ {
		f.Publish("p1", obsEvent(float64(i)))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, "timed out waiting for deliveries")

	mu.Lock()
	defer mu.Unlock()
	for i, p := range got {
		if p != float64(i+1) {
			t.Fatalf("out of order delivery: %v", got)
		}
	}
}

func TestPublish_ProductScoped(t *testing.T) {
	f := New()
	defer f.Close()

	var p1, p2 sync.WaitGroup
	p1.Add(1)
	f.Subscribe("p1", func(Event) { p1.Done() })
	p2.Add(1)
	f.Subscribe("p2", func(Event) { p2.Done() })

	f.Publish("p1", obsEvent(1))

	done := make(chan struct{})
	go func() { p1.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("p1 subscriber never received its event")
	}

	// p2 must not have been woken; publish to it now to prove it still works.
	f.Publish("p2", obsEvent(2))
	done2 := make(chan struct{})
	go func() { p2.Wait(); close(done2) }()
	select {
	case <-done2:
	case <-time.After(2 * time.Second):
		t.Fatal("p2 subscriber never received its event")
	}
}

func TestPublish_PanickingSubscriberIsIsolated(t *testing.T) {
	f := New()
	defer f.Close()

	f.Subscribe("p1", func(Event) { panic("boom") })

	var mu sync.Mutex
	var healthy int
	f.Subscribe("p1", func(Event) {
		mu.Lock()
		healthy++
		mu.Unlock()
	})

	f.Publish("p1", obsEvent(1))
	f.Publish("p1", obsEvent(2))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return healthy == 2
	}, "healthy subscriber starved by panicking peer")
}

func TestPublish_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	f := New()
	defer f.Close()

	block := make(chan struct{})
	f.Subscribe("p1", func(Event) { <-block })

	var mu sync.Mutex
	var fast int
	f.Subscribe("p1", func(Event) {
		mu.Lock()
		fast++
		mu.Unlock()
	})

	// More events than the slow subscriber's queue can hold; Publish must
	// never block and the fast subscriber must see everything.
	for i := 0; i < 40; i++ {
		f.Publish("p1", obsEvent(float64(i)))
	}
	close(block)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fast == 40
	}, "fast subscriber missed events behind a slow peer")
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	f := New()
	defer f.Close()

	var mu sync.Mutex
	var got int
	unsub := f.Subscribe("p1", func(Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	f.Publish("p1", obsEvent(1))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 1
	}, "first event not delivered")

	unsub()
	unsub() // second call is a no-op

	f.Publish("p1", obsEvent(2))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got != 1 {
		t.Fatalf("received %d events after unsubscribe, want 1", got)
	}
}
