package harvest

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lossharvest/harvestd/internal/domain"
)

var (
	gradeACeiling = decimal.RequireFromString("0.05")
	gradeBCeiling = decimal.RequireFromString("0.15")
)

// Summarize reduces an opportunity list to summary statistics. It is a pure
// reduction with no side effects, so display layers may call it repeatedly on
// the same list.
func Summarize(runID uuid.UUID, opps []domain.HarvestOpportunity, now time.Time) domain.Summary {
	totalLoss := decimal.Zero
	totalNet := decimal.Zero
	ratioSum := decimal.Zero
	assets := make(map[string]struct{})

	for _, opp := range opps {
		totalLoss = totalLoss.Add(opp.UnrealizedLossUSD)
		totalNet = totalNet.Add(opp.NetBenefitUSD)
		assets[opp.AssetID] = struct{}{}
		if opp.UnrealizedLossUSD.IsPositive() {
			ratioSum = ratioSum.Add(opp.GasEstimateUSD.Div(opp.UnrealizedLossUSD))
		}
	}

	return domain.Summary{
		RunID:                   runID,
		TotalHarvestableLossUSD: totalLoss,
		TotalNetBenefitUSD:      totalNet,
		EligibleAssetCount:      len(assets),
		OpportunityCount:        len(opps),
		GasEfficiencyGrade:      gasGrade(ratioSum, len(opps)),
		ComputedAt:              now,
	}
}

// gasGrade maps the average gas-to-loss ratio to a letter grade: A below 5%,
// B up to 15%, C above. An empty pass spends no gas and grades A.
func gasGrade(ratioSum decimal.Decimal, count int) domain.GasGrade {
	if count == 0 {
		return domain.GasGradeA
	}
	avg := ratioSum.Div(decimal.NewFromInt(int64(count)))
	switch {
	case avg.LessThan(gradeACeiling):
		return domain.GasGradeA
	case avg.LessThanOrEqual(gradeBCeiling):
		return domain.GasGradeB
	default:
		return domain.GasGradeC
	}
}
