package eligibility

import (
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lossharvest/harvestd/internal/domain"
)

func candidate(pnl string, liquidity, risk int, gas string, tradable bool) Input {
	return Input{
		Lot: domain.ValuedLot{
			Lot: domain.Lot{
				AssetID:           "ETH",
				AcquiredAt:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				RemainingQuantity: decimal.NewFromInt(10),
			},
			UnrealizedPnLUSD: decimal.RequireFromString(pnl),
		},
		Signal: domain.RiskSignal{
			RiskScore:      risk,
			LiquidityScore: liquidity,
			Liquid:         true,
			Tradable:       tradable,
		},
		GasEstimateUSD: decimal.RequireFromString(gas),
		Thresholds:     DefaultThresholds(),
	}
}

func TestCheck_EligibleCandidate(t *testing.T) {
	// Loss of $600, liquidity 80, risk 5, gas $50, tradable.
	res := Check(candidate("-600", 80, 5, "50", true))
	assert.True(t, res.Eligible)
	assert.Empty(t, res.FailureReasons)
}

func TestCheck_EachPredicateFailsAlone(t *testing.T) {
	cases := map[string]struct {
		in     Input
		reason string
	}{
		"loss too small": {
			in:     candidate("-15", 80, 5, "5", true),
			reason: "does not exceed minimum",
		},
		"gain not loss": {
			in:     candidate("600", 80, 5, "50", true),
			reason: "does not exceed minimum",
		},
		"illiquid": {
			in:     candidate("-600", 30, 5, "50", true),
			reason: "liquidity score 30 below minimum 50",
		},
		"risky": {
			in:     candidate("-600", 80, 2, "50", true),
			reason: "risk score 2 below minimum 3",
		},
		"gas eats the loss": {
			in:     candidate("-600", 80, 5, "700", true),
			reason: "gas estimate 700 not below loss magnitude 600",
		},
		"not tradable": {
			in:     candidate("-600", 80, 5, "50", false),
			reason: "asset is not tradable",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := Check(tc.in)
			assert.False(t, res.Eligible)
			require.Len(t, res.FailureReasons, 1)
			assert.Contains(t, res.FailureReasons[0], tc.reason)
		})
	}
}

func TestCheck_AllFailingReasonsCollected(t *testing.T) {
	// Small loss, low liquidity, low risk score, gas above loss magnitude,
	// not tradable: all five predicates fail and all five reasons appear.
	res := Check(candidate("-5", 10, 1, "50", false))
	assert.False(t, res.Eligible)
	assert.Len(t, res.FailureReasons, 5)
}

func TestCheck_OrderIndependent(t *testing.T) {
	inputs := []Input{
		candidate("-600", 80, 5, "50", true),
		candidate("-5", 10, 1, "50", false),
		candidate("-600", 30, 2, "700", true),
		candidate("100", 80, 8, "1", true),
	}

	perms := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 0, 4, 1, 3},
		{1, 4, 0, 3, 2},
	}

	for _, in := range inputs {
		baseline := Check(in)
		baselineReasons := append([]string(nil), baseline.FailureReasons...)
		sort.Strings(baselineReasons)

		for _, perm := range perms {
			var reasons []string
			for _, idx := range perm {
				if !predicates[idx].ok(in) {
					reasons = append(reasons, predicates[idx].reason(in))
				}
			}
			sort.Strings(reasons)

			assert.Equal(t, baseline.Eligible, len(reasons) == 0)
			assert.Equal(t, baselineReasons, reasons)
		}
	}
}

func TestCheck_StricterThresholdsNeverGrowEligibleSet(t *testing.T) {
	inputs := []Input{
		candidate("-600", 80, 5, "50", true),
		candidate("-25", 55, 3, "10", true),
		candidate("-21", 51, 4, "20", true),
		candidate("-1000", 95, 9, "5", true),
	}

	strict := Thresholds{
		MinLossUSD:   decimal.NewFromInt(100),
		MinLiquidity: 70,
		MinRiskScore: 5,
	}

	eligibleDefault, eligibleStrict := 0, 0
	for _, in := range inputs {
		if Check(in).Eligible {
			eligibleDefault++
		}
		in.Thresholds = strict
		if Check(in).Eligible {
			eligibleStrict++
		}
	}
	assert.LessOrEqual(t, eligibleStrict, eligibleDefault)
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	bad := DefaultThresholds()
	bad.MinLossUSD = decimal.NewFromInt(-1)
	assert.Error(t, bad.Validate())

	bad = DefaultThresholds()
	bad.MinLiquidity = 101
	assert.Error(t, bad.Validate())

	bad = DefaultThresholds()
	bad.MinRiskScore = 11
	assert.Error(t, bad.Validate())
}
