// Package grinder is a Go client for the grinderd status API.
package grinder

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// DefaultHTTPTimeout is used when no timeout option is supplied.
const DefaultHTTPTimeout = 15 * time.Second

// MarketState mirrors the shared market state published by grinderd.
type MarketState struct {
	PriceEstimate  decimal.Decimal `json:"price_estimate"`
	TotalIntents   uint64          `json:"total_intents"`
	Cursor         uint64          `json:"cursor"`
	PriceUpdatedAt *time.Time      `json:"price_updated_at,omitempty"`
	TotalUpdatedAt *time.Time      `json:"total_updated_at,omitempty"`
}

// ChainState describes the chain the daemon is connected to.
type ChainState struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Signer      string `json:"signer,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// State is the response of GET /api/v1/state.
type State struct {
	Market     MarketState `json:"market"`
	Chain      *ChainState `json:"chain,omitempty"`
	ChainError string      `json:"chain_error,omitempty"`
}

// BatchEntry is one accepted (pool, operation) pair.
type BatchEntry struct {
	PoolID uint64 `json:"pool_id"`
	Op     string `json:"op"`
}

// Cycle is one recorded decision cycle.
type Cycle struct {
	ID            string       `json:"id"`
	StartedAt     int64        `json:"started_at"`
	FinishedAt    int64        `json:"finished_at"`
	Outcome       string       `json:"outcome"`
	IntentIDs     []uint64     `json:"intent_ids"`
	PoolCount     int          `json:"pool_count"`
	Batch         []BatchEntry `json:"batch"`
	PoolFailures  int          `json:"pool_failures"`
	UnitCost      uint64       `json:"unit_cost"`
	UnitPrice     string       `json:"unit_price,omitempty"`
	CostCeiling   uint64       `json:"cost_ceiling,omitempty"`
	PriceEstimate string       `json:"price_estimate,omitempty"`
	FiatCost      string       `json:"fiat_cost,omitempty"`
	Budget        string       `json:"budget,omitempty"`
	TxHash        string       `json:"tx_hash,omitempty"`
	ErrorCode     string       `json:"error_code,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// Started returns the cycle start time.
func (c Cycle) Started() time.Time {
	return time.UnixMilli(c.StartedAt)
}

// Duration returns how long the cycle took.
func (c Cycle) Duration() time.Duration {
	return time.Duration(c.FinishedAt-c.StartedAt) * time.Millisecond
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("grinder api error (%d): %s", e.StatusCode, e.Message)
}

type options struct {
	timeout    time.Duration
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*options)

// WithTimeout overrides the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) { o.timeout = timeout }
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) { o.httpClient = httpClient }
}

// Client wraps the grinderd status API.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	o := options{timeout: DefaultHTTPTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	client := resty.New()
	if o.httpClient != nil {
		client = resty.NewWithClient(o.httpClient)
	}
	client.
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(o.timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "grinder-go-sdk")
	return &Client{http: client}
}

// Health returns nil when the daemon answers /healthz with 200.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	return checkResponse(resp)
}

// State fetches the shared market state and chain snapshot.
func (c *Client) State(ctx context.Context) (State, error) {
	var state State
	resp, err := c.http.R().SetContext(ctx).SetResult(&state).Get("/api/v1/state")
	if err != nil {
		return State{}, fmt.Errorf("state request: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return State{}, err
	}
	return state, nil
}

// Cycles lists the latest recorded cycles, newest first. limit <= 0 uses the
// server default.
func (c *Client) Cycles(ctx context.Context, limit int) ([]Cycle, error) {
	var cycles []Cycle
	req := c.http.R().SetContext(ctx).SetResult(&cycles)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/api/v1/cycles")
	if err != nil {
		return nil, fmt.Errorf("cycles request: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return cycles, nil
}

func checkResponse(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	message := strings.TrimSpace(string(resp.Body()))
	if message == "" {
		message = http.StatusText(resp.StatusCode())
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: message}
}
