// Package export renders finished harvest runs as canonical CSV records with
// a SHA3-256 proof hash, and archives them to object storage. Identical runs
// always produce byte-identical exports, so the proof hash is reproducible by
// anyone holding the same inputs.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/lossharvest/harvestd/internal/domain"
)

// csvHeader is the fixed column order of the opportunity export. Changing it
// changes every proof hash, so treat it as part of the wire format.
var csvHeader = []string{
	"run_id",
	"opportunity_id",
	"source_lot_id",
	"asset_id",
	"source_id",
	"unrealized_loss_usd",
	"gas_estimate_usd",
	"slippage_estimate_usd",
	"trading_fees_usd",
	"tax_savings_usd",
	"net_benefit_usd",
	"risk_tier",
	"recommendation",
	"confidence",
	"holding_period_days",
	"is_long_term",
	"computed_at",
}

// MarshalCSV renders a run's opportunities in their stored rank order as
// canonical CSV bytes. Decimals render without trailing-zero padding and
// timestamps as RFC3339 UTC, so the same run always marshals identically.
func MarshalCSV(summary domain.Summary, opps []domain.HarvestOpportunity) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("export: write header: %w", err)
	}

	for _, o := range opps {
		row := []string{
			o.RunID.String(),
			o.ID.String(),
			o.SourceLotID.String(),
			o.AssetID,
			o.SourceID,
			o.UnrealizedLossUSD.String(),
			o.GasEstimateUSD.String(),
			o.SlippageEstimateUSD.String(),
			o.TradingFeesUSD.String(),
			o.TaxSavingsUSD.String(),
			o.NetBenefitUSD.String(),
			string(o.RiskTier),
			string(o.Recommendation),
			string(o.Confidence),
			strconv.Itoa(o.HoldingPeriodDays),
			strconv.FormatBool(o.IsLongTerm),
			o.ComputedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("export: write row %s: %w", o.ID, err)
		}
	}

	// Summary trailer: one comment line so the file is self-describing
	// without a second object.
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("export: flush: %w", err)
	}
	fmt.Fprintf(&buf, "# summary,%s,%s,%s,%d,%d,%s,%s\n",
		summary.RunID,
		summary.TotalHarvestableLossUSD,
		summary.TotalNetBenefitUSD,
		summary.EligibleAssetCount,
		summary.OpportunityCount,
		summary.GasEfficiencyGrade,
		summary.ComputedAt.UTC().Format(time.RFC3339Nano),
	)

	return buf.Bytes(), nil
}

// ProofHash computes the SHA3-256 digest over the canonical export bytes,
// hex-encoded.
func ProofHash(data []byte) string {
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
