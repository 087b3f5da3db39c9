// Package benefit computes the net economic benefit of harvesting an eligible
// lot and classifies candidates into recommendation and risk tiers. All
// arithmetic is decimal so that identical inputs always produce identical
// outputs; nothing here reads a clock, a cache, or any other hidden state.
package benefit

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lossharvest/harvestd/internal/domain"
)

// Params are the injectable benefit parameters. TaxRate varies by user and
// jurisdiction; MarginalCutoffUSD separates Marginal from Recommended.
type Params struct {
	TaxRate           decimal.Decimal
	MarginalCutoffUSD decimal.Decimal
}

// DefaultParams returns a zero tax rate (always injected in practice) and the
// documented $10 marginal cutoff.
func DefaultParams() Params {
	return Params{
		TaxRate:           decimal.Zero,
		MarginalCutoffUSD: decimal.NewFromInt(10),
	}
}

// Validate rejects out-of-range parameters at the call boundary, before any
// computation starts.
func (p Params) Validate() error {
	if p.TaxRate.IsNegative() || p.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("benefit: tax rate must be in [0,1], got %s", p.TaxRate)
	}
	if p.MarginalCutoffUSD.IsNegative() {
		return fmt.Errorf("benefit: marginal cutoff must not be negative, got %s", p.MarginalCutoffUSD)
	}
	return nil
}

// Outcome is the computed benefit for one candidate.
type Outcome struct {
	TaxSavingsUSD  decimal.Decimal
	NetBenefitUSD  decimal.Decimal
	Recommendation domain.Recommendation
}

// Compute applies the benefit formula:
//
//	tax_savings = |unrealized_pnl| * tax_rate
//	net_benefit = tax_savings - gas - slippage - fees
//
// net <= 0 is NotRecommended, 0 < net <= cutoff is Marginal, above the cutoff
// is Recommended.
func Compute(lot domain.ValuedLot, est domain.CostEstimate, params Params) Outcome {
	savings := lot.UnrealizedPnLUSD.Abs().Mul(params.TaxRate)
	net := savings.Sub(est.GasUSD).Sub(est.SlippageUSD).Sub(est.TradingFeesUSD)

	var rec domain.Recommendation
	switch {
	case net.LessThanOrEqual(decimal.Zero):
		rec = domain.NotRecommended
	case net.LessThanOrEqual(params.MarginalCutoffUSD):
		rec = domain.Marginal
	default:
		rec = domain.Recommended
	}

	return Outcome{
		TaxSavingsUSD:  savings,
		NetBenefitUSD:  net,
		Recommendation: rec,
	}
}

// ClassifyRisk maps the external risk score and liquidity flag to a tier. An
// illiquid asset is always HIGH regardless of score; otherwise score <= 3 is
// HIGH, 4..6 is MEDIUM, and >= 7 is LOW.
func ClassifyRisk(sig domain.RiskSignal) domain.RiskTier {
	if !sig.Liquid {
		return domain.RiskTierHigh
	}
	switch {
	case sig.RiskScore <= 3:
		return domain.RiskTierHigh
	case sig.RiskScore <= 6:
		return domain.RiskTierMedium
	default:
		return domain.RiskTierLow
	}
}
