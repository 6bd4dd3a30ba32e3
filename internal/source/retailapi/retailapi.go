// Package retailapi implements a source adapter for competitor sites that
// expose a JSON product endpoint. It maps HTTP and parse failures onto
// the fetch error taxonomy and leaves all retrying to the scheduler.
package retailapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/source"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Adapter fetches product data from a JSON endpoint.
type Adapter struct {
	sourceID string
	client   *http.Client
	endpoint string // optional template used when a target has no URL
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithEndpoint sets a URL template used for targets without an explicit
// locator URL. The literal "{productId}" is replaced per target.
func WithEndpoint(ep string) Option {
	return func(a *Adapter) { a.endpoint = ep }
}

// New creates an adapter for the given source ID.
func New(sourceID string, opts ...Option) *Adapter {
	a := &Adapter{
		sourceID: sourceID,
		client:   &http.Client{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Source returns the adapter's source identifier.
func (a *Adapter) Source() string { return a.sourceID }

// productResponse is the JSON shape the endpoint returns.
type productResponse struct {
	Price       float64  `json:"price"`
	Currency    string   `json:"currency"`
	InStock     *bool    `json:"inStock"`
	Rating      *float64 `json:"rating"`
	ReviewCount *int64   `json:"reviewCount"`
}

// Fetch retrieves one observation for the target. The ctx deadline is the
// per-fetch timeout supplied by the scheduler.
func (a *Adapter) Fetch(ctx context.Context, t source.Target) (observation.Observation, error) {
	var zero observation.Observation

	if t.SourceID != a.sourceID {
		return zero, source.NewFetchError(source.KindUnsupported, a.sourceID,
			fmt.Errorf("target source %q does not match adapter %q", t.SourceID, a.sourceID))
	}

	reqURL := t.URL
	if reqURL == "" {
		if a.endpoint == "" {
			return zero, source.NewFetchError(source.KindUnsupported, a.sourceID,
				fmt.Errorf("target has no URL and adapter has no endpoint template"))
		}
		reqURL = strings.ReplaceAll(a.endpoint, "{productId}", t.ProductID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return zero, source.NewFetchError(source.KindUnsupported, a.sourceID, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := a.client.Do(req) //nolint:gosec // URL from stored tracking target
	if err != nil {
		if isTimeout(err) {
			return zero, source.NewFetchError(source.KindTimeout, a.sourceID, err)
		}
		return zero, source.NewFetchError(source.KindMalformed, a.sourceID, err)
	}
	defer func() { _ = res.Body.Close() }()

	switch {
	case res.StatusCode == http.StatusNotFound, res.StatusCode == http.StatusGone:
		return zero, source.NewFetchError(source.KindNotFound, a.sourceID,
			fmt.Errorf("HTTP %d for %s", res.StatusCode, t.ProductID))
	case res.StatusCode == http.StatusTooManyRequests:
		return zero, source.NewFetchError(source.KindRateLimited, a.sourceID,
			fmt.Errorf("HTTP 429 for %s", t.ProductID))
	case res.StatusCode != http.StatusOK:
		return zero, source.NewFetchError(source.KindMalformed, a.sourceID,
			fmt.Errorf("HTTP %d for %s", res.StatusCode, t.ProductID))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		if isTimeout(err) {
			return zero, source.NewFetchError(source.KindTimeout, a.sourceID, err)
		}
		return zero, source.NewFetchError(source.KindMalformed, a.sourceID, err)
	}

	var pr productResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return zero, source.NewFetchError(source.KindMalformed, a.sourceID,
			fmt.Errorf("parse product response: %w", err))
	}
	if pr.Price <= 0 {
		return zero, source.NewFetchError(source.KindNotFound, a.sourceID,
			fmt.Errorf("no extractable price for %s", t.ProductID))
	}

	obs := observation.Observation{
		SourceID:    a.sourceID,
		ProductID:   t.ProductID,
		Price:       pr.Price,
		Currency:    pr.Currency,
		Available:   pr.InStock == nil || *pr.InStock,
		Rating:      pr.Rating,
		ReviewCount: pr.ReviewCount,
		Confidence:  confidence(pr),
		CapturedAt:  time.Now().UTC(),
	}
	if obs.Currency == "" {
		obs.Currency = "USD"
	}

	slog.Info("retailapi: fetched observation", "source", a.sourceID,
		"product", t.ProductID, "price", obs.Price, "available", obs.Available)

	return obs, nil
}

// confidence scores how complete the extracted record is.
func confidence(pr productResponse) float64 {
	c := 0.9
	if pr.Rating != nil {
		c += 0.05
	}
	if pr.ReviewCount != nil {
		c += 0.05
	}
	return c
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
