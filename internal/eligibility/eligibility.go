// Package eligibility implements the composite pass/fail gate that decides
// whether a valued lot is worth harvesting. The gate is a conjunction of
// independent predicates: every failing predicate contributes its reason, and
// the outcome is the same regardless of evaluation order.
package eligibility

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lossharvest/harvestd/internal/domain"
)

// Thresholds are the injectable eligibility parameters. Jurisdictional and
// per-user variation is expected, so none of these are constants.
type Thresholds struct {
	MinLossUSD   decimal.Decimal
	MinLiquidity int
	MinRiskScore int
}

// DefaultThresholds returns the documented default gate parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinLossUSD:   decimal.NewFromInt(20),
		MinLiquidity: 50,
		MinRiskScore: 3,
	}
}

// Validate rejects internally inconsistent thresholds before any computation.
func (t Thresholds) Validate() error {
	if t.MinLossUSD.IsNegative() {
		return fmt.Errorf("eligibility: min loss must not be negative, got %s", t.MinLossUSD)
	}
	if t.MinLiquidity < 0 || t.MinLiquidity > 100 {
		return fmt.Errorf("eligibility: min liquidity must be in [0,100], got %d", t.MinLiquidity)
	}
	if t.MinRiskScore < 0 || t.MinRiskScore > 10 {
		return fmt.Errorf("eligibility: min risk score must be in [0,10], got %d", t.MinRiskScore)
	}
	return nil
}

// predicate is one independent gate condition. ok must depend only on the
// inputs so the conjunction commutes.
type predicate struct {
	ok     func(in Input) bool
	reason func(in Input) string
}

// Input bundles everything the gate inspects for one candidate.
type Input struct {
	Lot            domain.ValuedLot
	Signal         domain.RiskSignal
	GasEstimateUSD decimal.Decimal
	Thresholds     Thresholds
}

// predicates is the canonical ordering used for reason strings. Evaluation is
// exhaustive: a candidate failing several predicates reports all of them.
var predicates = []predicate{
	{
		ok: func(in Input) bool {
			return in.Lot.UnrealizedPnLUSD.LessThan(in.Thresholds.MinLossUSD.Neg())
		},
		reason: func(in Input) string {
			return fmt.Sprintf("unrealized loss %s does not exceed minimum %s",
				in.Lot.UnrealizedPnLUSD, in.Thresholds.MinLossUSD)
		},
	},
	{
		ok: func(in Input) bool {
			return in.Signal.LiquidityScore >= in.Thresholds.MinLiquidity
		},
		reason: func(in Input) string {
			return fmt.Sprintf("liquidity score %d below minimum %d",
				in.Signal.LiquidityScore, in.Thresholds.MinLiquidity)
		},
	},
	{
		ok: func(in Input) bool {
			return in.Signal.RiskScore >= in.Thresholds.MinRiskScore
		},
		reason: func(in Input) string {
			return fmt.Sprintf("risk score %d below minimum %d",
				in.Signal.RiskScore, in.Thresholds.MinRiskScore)
		},
	},
	{
		ok: func(in Input) bool {
			return in.GasEstimateUSD.LessThan(in.Lot.UnrealizedPnLUSD.Abs())
		},
		reason: func(in Input) string {
			return fmt.Sprintf("gas estimate %s not below loss magnitude %s",
				in.GasEstimateUSD, in.Lot.UnrealizedPnLUSD.Abs())
		},
	},
	{
		ok: func(in Input) bool {
			return in.Signal.Tradable
		},
		reason: func(in Input) string {
			return "asset is not tradable"
		},
	},
}

// Check evaluates every predicate and returns the combined result. The reason
// list is in canonical predicate order; the eligible boolean and the reason
// set are invariant under any evaluation order.
func Check(in Input) domain.EligibilityResult {
	var reasons []string
	for _, p := range predicates {
		if !p.ok(in) {
			reasons = append(reasons, p.reason(in))
		}
	}
	return domain.EligibilityResult{
		Eligible:       len(reasons) == 0,
		FailureReasons: reasons,
	}
}
