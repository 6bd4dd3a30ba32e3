// Package feed fans new observations, alerts, and insight reports out to
// per-product subscribers. Each subscriber owns a buffered queue drained
// by its own goroutine, so a slow or panicking handler can never block or
// crash delivery to the others.
package feed

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/alert"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/insight"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
)

type EventType string

const (
	EventObservation EventType = "observation"
	EventAlert       EventType = "alert"
	EventInsights    EventType = "insights"
)

// Event is one published pipeline result. Exactly one payload field is
// set, matching Type.
type Event struct {
	Type        EventType                `json:"type"`
	ProductID   string                   `json:"productId"`
	Observation *observation.Observation `json:"observation,omitempty"`
	Alert       *alert.Alert             `json:"alert,omitempty"`
	Insights    *insight.Report          `json:"insights,omitempty"`
	At          time.Time                `json:"at"`
}

// Handler receives events for one subscription. It runs on the
// subscription's own goroutine; panics are caught and logged.
type Handler func(Event)

const defaultQueueSize = 16

type subscriber struct {
	id      int64
	queue   chan Event
	done    chan struct{}
	handler Handler
}

// Feed is the per-product publish/subscribe hub. Delivery per subscriber
// is FIFO in publish order; delivery is at-most-once — a full subscriber
// queue drops the event for that subscriber only.
type Feed struct {
	mu        sync.RWMutex
	byProduct map[string]map[int64]*subscriber
	nextID    int64
	queueSize int
	closed    bool
	wg        sync.WaitGroup
}

func New() *Feed {
	return &Feed{
		byProduct: make(map[string]map[int64]*subscriber),
		queueSize: defaultQueueSize,
	}
}

// Subscribe registers a handler for a product's events and returns an
// idempotent unsubscribe function.
func (f *Feed) Subscribe(productID string, h Handler) func() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return func() {}
	}
	f.nextID++
	sub := &subscriber{
		id:      f.nextID,
		queue:   make(chan Event, f.queueSize),
		done:    make(chan struct{}),
		handler: h,
	}
	if f.byProduct[productID] == nil {
		f.byProduct[productID] = make(map[int64]*subscriber)
	}
	f.byProduct[productID][sub.id] = sub
	f.mu.Unlock()

	f.wg.Add(1)
	go f.drain(productID, sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if subs, ok := f.byProduct[productID]; ok {
				delete(subs, sub.id)
				if len(subs) == 0 {
					delete(f.byProduct, productID)
				}
			}
			f.mu.Unlock()
			close(sub.done)
		})
	}
}

// Publish delivers the event to every current subscriber of the product.
// Never blocks the caller.
func (f *Feed) Publish(productID string, ev Event) {
	ev.ProductID = productID

	f.mu.RLock()
	subs := f.byProduct[productID]
	targets := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	f.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.queue <- ev:
		default:
			slog.Warn("feed: dropping event for slow subscriber",
				"product", productID, "subscriber", s.id, "type", ev.Type)
		}
	}
}

// Close stops all subscriber goroutines and waits for them to finish.
// Events already queued are discarded.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for productID, subs := range f.byProduct {
		for _, s := range subs {
			close(s.done)
		}
		delete(f.byProduct, productID)
	}
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *Feed) drain(productID string, sub *subscriber) {
	defer f.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			f.deliver(productID, sub, ev)
		}
	}
}

func (f *Feed) deliver(productID string, sub *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("feed: subscriber panicked",
				"product", productID, "subscriber", sub.id, "panic", r)
		}
	}()
	sub.handler(ev)
}
