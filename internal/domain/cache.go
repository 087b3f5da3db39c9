package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache provides fast access to the latest per-asset USD prices. The
// service layer materializes an immutable PriceSnapshot from it before each
// harvest pass; the engine never touches the cache directly.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (decimal.Decimal, time.Time, error)
	GetPrices(ctx context.Context, assetIDs []string) (PriceSnapshot, error)
}

// SignalCache stores the externally supplied risk/liquidity signals per asset.
type SignalCache interface {
	SetSignal(ctx context.Context, assetID string, sig RiskSignal, ts time.Time) error
	GetSignal(ctx context.Context, assetID string) (RiskSignal, time.Time, error)
	GetSignals(ctx context.Context, assetIDs []string) (SignalSnapshot, error)
}

// EstimateCache stores per-asset execution cost estimates.
type EstimateCache interface {
	SetEstimate(ctx context.Context, assetID string, est CostEstimate, ts time.Time) error
	GetEstimates(ctx context.Context, assetIDs []string) (EstimateSnapshot, error)
}

// ReportBus publishes pass-completion events for downstream consumers
// (exporters, presentation layers).
type ReportBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter provides distributed rate limiting for provider API calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
