package benefit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/lossharvest/harvestd/internal/domain"
)

func lossLot(pnl string) domain.ValuedLot {
	return domain.ValuedLot{UnrealizedPnLUSD: decimal.RequireFromString(pnl)}
}

func estimate(gas, slippage, fees string) domain.CostEstimate {
	return domain.CostEstimate{
		GasUSD:         decimal.RequireFromString(gas),
		SlippageUSD:    decimal.RequireFromString(slippage),
		TradingFeesUSD: decimal.RequireFromString(fees),
	}
}

func params(rate string) Params {
	p := DefaultParams()
	p.TaxRate = decimal.RequireFromString(rate)
	return p
}

func TestCompute_DocumentedScenario(t *testing.T) {
	// tax_rate=0.24, loss=$600, gas=$50, slippage=$10, fees=$5
	// => net = 144 - 65 = 79 => Recommended.
	out := Compute(lossLot("-600"), estimate("50", "10", "5"), params("0.24"))

	assert.True(t, out.TaxSavingsUSD.Equal(decimal.NewFromInt(144)), "got %s", out.TaxSavingsUSD)
	assert.True(t, out.NetBenefitUSD.Equal(decimal.NewFromInt(79)), "got %s", out.NetBenefitUSD)
	assert.Equal(t, domain.Recommended, out.Recommendation)
}

func TestCompute_RecommendationBoundaries(t *testing.T) {
	// savings = 100 * rate; tune costs to land exactly on the boundaries.
	cases := map[string]struct {
		gas  string
		want domain.Recommendation
	}{
		"net negative":        {gas: "30", want: domain.NotRecommended},
		"net exactly zero":    {gas: "24", want: domain.NotRecommended},
		"net just above zero": {gas: "23.99", want: domain.Marginal},
		"net exactly cutoff":  {gas: "14", want: domain.Marginal}, // net = 10
		"net above cutoff":    {gas: "13.99", want: domain.Recommended},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			out := Compute(lossLot("-100"), estimate(tc.gas, "0", "0"), params("0.24"))
			assert.Equal(t, tc.want, out.Recommendation, "net %s", out.NetBenefitUSD)
		})
	}
}

func TestCompute_Deterministic(t *testing.T) {
	lot := lossLot("-123.456789")
	est := estimate("12.34", "5.67", "0.89")
	p := params("0.37")

	first := Compute(lot, est, p)
	for i := 0; i < 100; i++ {
		again := Compute(lot, est, p)
		assert.True(t, first.NetBenefitUSD.Equal(again.NetBenefitUSD))
		assert.True(t, first.TaxSavingsUSD.Equal(again.TaxSavingsUSD))
	}
}

func TestCompute_Monotonicity(t *testing.T) {
	base := Compute(lossLot("-100"), estimate("10", "5", "2"), params("0.24"))

	// Strictly increasing in loss magnitude and tax rate.
	biggerLoss := Compute(lossLot("-200"), estimate("10", "5", "2"), params("0.24"))
	assert.True(t, biggerLoss.NetBenefitUSD.GreaterThan(base.NetBenefitUSD))

	higherRate := Compute(lossLot("-100"), estimate("10", "5", "2"), params("0.30"))
	assert.True(t, higherRate.NetBenefitUSD.GreaterThan(base.NetBenefitUSD))

	// Strictly decreasing in each cost term.
	moreGas := Compute(lossLot("-100"), estimate("11", "5", "2"), params("0.24"))
	assert.True(t, moreGas.NetBenefitUSD.LessThan(base.NetBenefitUSD))

	moreSlippage := Compute(lossLot("-100"), estimate("10", "6", "2"), params("0.24"))
	assert.True(t, moreSlippage.NetBenefitUSD.LessThan(base.NetBenefitUSD))

	moreFees := Compute(lossLot("-100"), estimate("10", "5", "3"), params("0.24"))
	assert.True(t, moreFees.NetBenefitUSD.LessThan(base.NetBenefitUSD))
}

func TestClassifyRisk(t *testing.T) {
	liquid := func(score int) domain.RiskSignal {
		return domain.RiskSignal{RiskScore: score, Liquid: true}
	}

	// Score 2 is HIGH even when liquid.
	assert.Equal(t, domain.RiskTierHigh, ClassifyRisk(liquid(2)))
	assert.Equal(t, domain.RiskTierHigh, ClassifyRisk(liquid(3)))

	// Illiquid overrides any score.
	assert.Equal(t, domain.RiskTierHigh, ClassifyRisk(domain.RiskSignal{RiskScore: 5, Liquid: false}))
	assert.Equal(t, domain.RiskTierHigh, ClassifyRisk(domain.RiskSignal{RiskScore: 9, Liquid: false}))

	assert.Equal(t, domain.RiskTierMedium, ClassifyRisk(liquid(4)))
	assert.Equal(t, domain.RiskTierMedium, ClassifyRisk(liquid(6)))

	assert.Equal(t, domain.RiskTierLow, ClassifyRisk(liquid(7)))
	assert.Equal(t, domain.RiskTierLow, ClassifyRisk(liquid(8)))
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, params("0").Validate())
	assert.NoError(t, params("1").Validate())
	assert.Error(t, params("-0.1").Validate())
	assert.Error(t, params("1.01").Validate())

	bad := params("0.24")
	bad.MarginalCutoffUSD = decimal.NewFromInt(-1)
	assert.Error(t, bad.Validate())
}
