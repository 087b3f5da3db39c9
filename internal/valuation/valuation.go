// Package valuation values surviving lots against a fixed price snapshot.
// The only clock input is the injected "now", which keeps every valuation
// pass replayable for audit.
package valuation

import (
	"time"

	"github.com/lossharvest/harvestd/internal/domain"
)

// DefaultLongTermDays is the holding period above which a position is
// classified long-term.
const DefaultLongTermDays = 365

// MissingPrice records a lot excluded from valuation because the snapshot had
// no price for its asset. This is a recovered data-quality condition, not an
// error.
type MissingPrice struct {
	Lot  domain.Lot
	Flag domain.Flag
}

// Result is the outcome of one valuation pass.
type Result struct {
	Valued  []domain.ValuedLot
	Missing []MissingPrice
}

// Valuator computes unrealized PnL and holding periods for lots.
type Valuator struct {
	longTermDays int
}

// New creates a Valuator. longTermDays <= 0 selects the default 365-day
// long-term boundary.
func New(longTermDays int) *Valuator {
	if longTermDays <= 0 {
		longTermDays = DefaultLongTermDays
	}
	return &Valuator{longTermDays: longTermDays}
}

// Value computes a ValuedLot for every lot whose asset has a price in the
// snapshot. Lots without a price are excluded and reported in
// Result.Missing with a PriceUnavailable flag.
func (v *Valuator) Value(lots []domain.Lot, prices domain.PriceSnapshot, now time.Time) Result {
	var res Result
	for _, lot := range lots {
		price, ok := prices[lot.AssetID]
		if !ok {
			res.Missing = append(res.Missing, MissingPrice{
				Lot: lot,
				Flag: domain.Flag{
					Kind:   domain.FlagPriceUnavailable,
					Detail: "no price in snapshot for " + lot.AssetID,
				},
			})
			continue
		}

		days := holdingDays(lot.AcquiredAt, now)
		res.Valued = append(res.Valued, domain.ValuedLot{
			Lot:                 lot,
			CurrentUnitPriceUSD: price,
			UnrealizedPnLUSD:    price.Sub(lot.AcquiredUnitPriceUSD).Mul(lot.RemainingQuantity),
			HoldingPeriodDays:   days,
			IsLongTerm:          days > v.longTermDays,
		})
	}
	return res
}

// holdingDays is floor((now - acquiredAt) / 24h), never negative.
func holdingDays(acquiredAt, now time.Time) int {
	d := now.Sub(acquiredAt)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
