package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot maps asset IDs to current USD unit prices. It is captured once
// by the caller before a pass and held fixed for that pass; the engine never
// reads a live cache mid-pass.
type PriceSnapshot map[string]decimal.Decimal

// RiskSignal carries the externally supplied per-asset risk and liquidity
// signals. The engine treats them as opaque trusted inputs beyond range-sanity
// checks.
type RiskSignal struct {
	RiskScore      int  `json:"risk_score"`      // 0..10
	LiquidityScore int  `json:"liquidity_score"` // 0..100
	Liquid         bool `json:"liquid"`
	Tradable       bool `json:"tradable"`
}

// ValidRanges reports whether the signal values fall inside their documented
// ranges.
func (s RiskSignal) ValidRanges() bool {
	return s.RiskScore >= 0 && s.RiskScore <= 10 &&
		s.LiquidityScore >= 0 && s.LiquidityScore <= 100
}

// SignalSnapshot maps asset IDs to risk/liquidity signals.
type SignalSnapshot map[string]RiskSignal

// CostEstimate carries the externally estimated execution costs for harvesting
// one candidate. The engine never computes these itself.
type CostEstimate struct {
	GasUSD         decimal.Decimal `json:"gas_usd"`
	SlippageUSD    decimal.Decimal `json:"slippage_usd"`
	TradingFeesUSD decimal.Decimal `json:"trading_fees_usd"`
}

// EstimateSnapshot maps asset IDs to cost estimates.
type EstimateSnapshot map[string]CostEstimate

// Snapshot is the complete immutable input set for one harvest pass. All
// blocking I/O (price, signal, estimate lookups) happens before the snapshot
// is built; the pipeline itself performs none.
type Snapshot struct {
	Prices     PriceSnapshot
	Signals    SignalSnapshot
	Estimates  EstimateSnapshot
	Now        time.Time // the single injected clock reading for the pass
	CapturedAt time.Time
}
