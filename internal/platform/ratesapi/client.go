// Package ratesapi fetches commodity rate snapshots from an HTTP JSON endpoint.
package ratesapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

const defaultTimeout = 10 * time.Second

// ErrMissingEndpoint is returned when the client was built without a URL.
var ErrMissingEndpoint = errors.New("ratesapi: missing endpoint")

// Client issues GET requests for the latest rates.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	clock    func() time.Time
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			client.http = c
		}
	}
}

// WithClock overrides the clock used when the payload carries no observation time.
func WithClock(clock func() time.Time) Option {
	return func(client *Client) {
		if clock != nil {
			client.clock = clock
		}
	}
}

// NewClient constructs a client for endpoint, authenticating with a bearer token when provided.
func NewClient(endpoint, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		endpoint: strings.TrimSpace(endpoint),
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: timeout},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ratesPayload struct {
	Currency   string             `json:"currency"`
	ObservedAt string             `json:"observedAt"`
	Rates      map[string]float64 `json:"rates"`
}

// FetchLatestRates retrieves and validates the latest snapshot.
func (c *Client) FetchLatestRates(ctx context.Context) (domain.RateSnapshot, error) {
	if c == nil || c.endpoint == "" {
		return domain.RateSnapshot{}, ErrMissingEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return domain.RateSnapshot{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.RateSnapshot{}, fmt.Errorf("ratesapi: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.RateSnapshot{}, fmt.Errorf("ratesapi: status %d: %s", resp.StatusCode, drainError(resp.Body))
	}

	var payload ratesPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.RateSnapshot{}, fmt.Errorf("ratesapi: decode: %w", err)
	}
	return payload.toSnapshot(c.clock)
}

func (p ratesPayload) toSnapshot(clock func() time.Time) (domain.RateSnapshot, error) {
	snapshot := domain.RateSnapshot{Currency: strings.ToUpper(strings.TrimSpace(p.Currency))}
	for tier, rate := range p.Rates {
		switch domain.ParseTier(tier) {
		case domain.Tier22K:
			snapshot.Rate22K = rate
		case domain.Tier24K:
			snapshot.Rate24K = rate
		}
	}
	if snapshot.Rate22K <= 0 || snapshot.Rate24K <= 0 {
		return domain.RateSnapshot{}, fmt.Errorf("ratesapi: payload missing positive 22K/24K rates")
	}
	if raw := strings.TrimSpace(p.ObservedAt); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.RateSnapshot{}, fmt.Errorf("ratesapi: invalid observedAt %q: %w", raw, err)
		}
		snapshot.ObservedAt = ts.UTC()
	} else {
		snapshot.ObservedAt = clock().UTC()
	}
	return snapshot, nil
}

func drainError(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 512))
	return strings.TrimSpace(string(data))
}
