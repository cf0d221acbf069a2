// Package pricefeed fetches the native asset's fiat quote from a
// CoinGecko-style simple price endpoint.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	xerrors "GrinderAI-Chain/internal/errors"
)

const (
	// DefaultURL is the public CoinGecko simple price endpoint.
	DefaultURL = "https://api.coingecko.com/api/v3/simple/price"
	// DefaultAsset and DefaultFiat select the ETH/USD pair.
	DefaultAsset = "ethereum"
	DefaultFiat  = "usd"
	// DefaultTimeout bounds a single quote request.
	DefaultTimeout = 10 * time.Second
)

// CodePriceFeed marks a failed quote; callers only ever see the fallback.
const CodePriceFeed xerrors.Code = "PRICE_FEED_FAILED"

func init() {
	xerrors.Register(CodePriceFeed, xerrors.Attributes{
		Message:   "price feed failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// Config describes the quote endpoint and its fallback.
type Config struct {
	URL      string
	Asset    string
	Fiat     string
	Fallback decimal.Decimal
	Timeout  time.Duration
}

// Feed queries the quote endpoint and never fails: any problem yields the
// configured fallback, never the previous value.
type Feed struct {
	client   *resty.Client
	url      string
	asset    string
	fiat     string
	fallback decimal.Decimal
	logger   *slog.Logger
}

// New constructs a Feed.
func New(cfg Config, logger *slog.Logger) *Feed {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Asset == "" {
		cfg.Asset = DefaultAsset
	}
	if cfg.Fiat == "" {
		cfg.Fiat = DefaultFiat
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "grinderd/pricefeed")

	return &Feed{
		client:   client,
		url:      cfg.URL,
		asset:    cfg.Asset,
		fiat:     cfg.Fiat,
		fallback: cfg.Fallback,
		logger:   logger,
	}
}

// Fallback returns the configured fallback price.
func (f *Feed) Fallback() decimal.Decimal {
	return f.fallback
}

// Price returns the current quote or the fallback.
func (f *Feed) Price(ctx context.Context) decimal.Decimal {
	price, err := f.Fetch(ctx)
	if err != nil {
		f.logger.Warn("price feed unavailable, using fallback",
			append(xerrors.LogAttrs(err), slog.String("fallback", f.fallback.String()))...)
		return f.fallback
	}
	return price
}

// Fetch performs a single quote request without applying the fallback.
func (f *Feed) Fetch(ctx context.Context) (decimal.Decimal, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("ids", f.asset).
		SetQueryParam("vs_currencies", f.fiat).
		Get(f.url)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(CodePriceFeed, err, "quote request failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, xerrors.New(CodePriceFeed, fmt.Sprintf("quote endpoint returned %d", resp.StatusCode()),
			xerrors.WithMetadata("status", resp.Status()))
	}

	var body map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return decimal.Zero, xerrors.Wrap(CodePriceFeed, err, "malformed quote body")
	}
	price, ok := body[f.asset][f.fiat]
	if !ok {
		return decimal.Zero, xerrors.New(CodePriceFeed, fmt.Sprintf("quote body has no %s/%s price", f.asset, f.fiat))
	}
	if !price.IsPositive() {
		return decimal.Zero, xerrors.New(CodePriceFeed, fmt.Sprintf("non-positive quote %s", price))
	}
	return price, nil
}
