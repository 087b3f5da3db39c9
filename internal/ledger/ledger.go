// Package ledger reconstructs surviving cost-basis lots from an append-only
// transaction history under FIFO consumption order. Reconstruction is a pure
// function of its input: no clock reads, no I/O, no state across calls.
package ledger

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lossharvest/harvestd/internal/domain"
)

// lotNamespace seeds deterministic lot IDs. A lot's ID is derived from the
// transaction that opened it, so re-running reconstruction on the same history
// yields the same IDs.
var lotNamespace = uuid.MustParse("8f1c2a44-6b3e-4b47-9f0a-5cf24d5f9e01")

// RejectedPartition records an (asset, source) partition that failed input
// validation. The failure is isolated: other partitions in the same batch are
// reconstructed normally.
type RejectedPartition struct {
	Partition domain.PartitionKey
	Err       error
}

// PartitionResult is the reconstruction outcome for one (asset, source)
// partition.
type PartitionResult struct {
	Partition domain.PartitionKey

	// Lots holds surviving lots (remaining quantity > 0) in acquisition order.
	Lots []domain.Lot

	// Flags carries partition-level data-quality conditions, e.g. over-disposal.
	Flags []domain.Flag

	// Acquired and Disposed are the partition totals after clamping; they
	// satisfy Acquired - Disposed == sum of remaining quantities.
	Acquired decimal.Decimal
	Disposed decimal.Decimal
}

// Result is the outcome of reconstructing a whole transaction batch.
type Result struct {
	Partitions []PartitionResult
	Rejected   []RejectedPartition
}

// Lots returns every surviving lot across all partitions, ordered by
// partition key then acquisition order.
func (r Result) Lots() []domain.Lot {
	var out []domain.Lot
	for _, p := range r.Partitions {
		out = append(out, p.Lots...)
	}
	return out
}

// Reconstruct groups transactions by (asset, source) partition, validates and
// sorts each partition by (timestamp, seq), and replays it through a FIFO lot
// arena. Invalid input rejects only its own partition; over-disposal is
// clamped and flagged, never an error.
func Reconstruct(txs []domain.Transaction) Result {
	byPartition := make(map[domain.PartitionKey][]domain.Transaction)
	var order []domain.PartitionKey
	for _, tx := range txs {
		key := tx.Partition()
		if _, seen := byPartition[key]; !seen {
			order = append(order, key)
		}
		byPartition[key] = append(byPartition[key], tx)
	}

	// Deterministic partition order regardless of input order.
	sort.Slice(order, func(i, j int) bool {
		if order[i].AssetID != order[j].AssetID {
			return order[i].AssetID < order[j].AssetID
		}
		return order[i].SourceID < order[j].SourceID
	})

	var res Result
	for _, key := range order {
		part, err := reconstructPartition(key, byPartition[key])
		if err != nil {
			res.Rejected = append(res.Rejected, RejectedPartition{Partition: key, Err: err})
			continue
		}
		res.Partitions = append(res.Partitions, part)
	}
	return res
}

// reconstructPartition validates, sorts, and replays a single partition.
func reconstructPartition(key domain.PartitionKey, txs []domain.Transaction) (PartitionResult, error) {
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return PartitionResult{}, err
		}
	}

	sorted := make([]domain.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	arena := newLotArena(key)
	for _, tx := range sorted {
		switch {
		case tx.Kind.AddsLot():
			arena.open(tx)
		case tx.Kind.ConsumesLots():
			arena.consume(tx)
		}
	}
	return arena.result(), nil
}

// lotArena holds the open lots of one partition in acquisition order. Lots are
// consumed via an index cursor rather than removed in place, which keeps the
// replay allocation-light: fully consumed lots stay in the slice with zero
// remaining quantity and are skipped on output.
type lotArena struct {
	key      domain.PartitionKey
	lots     []domain.Lot
	cursor   int // first lot that may still have remaining quantity
	flags    []domain.Flag
	acquired decimal.Decimal
	disposed decimal.Decimal
}

func newLotArena(key domain.PartitionKey) *lotArena {
	return &lotArena{key: key}
}

// open appends a new lot for an acquire or transfer-in event.
func (a *lotArena) open(tx domain.Transaction) {
	lot := domain.Lot{
		LotID:                lotID(tx),
		AssetID:              tx.AssetID,
		SourceID:             tx.SourceID,
		AcquiredAt:           tx.Timestamp,
		AcquiredQuantity:     tx.Quantity,
		AcquiredUnitPriceUSD: tx.UnitPriceUSD,
		RemainingQuantity:    tx.Quantity,
	}
	if tx.TransferInferred {
		lot.Flags = append(lot.Flags, domain.Flag{
			Kind:   domain.FlagTransferInferred,
			Detail: "transfer leg without matching counter-leg",
		})
	}
	a.lots = append(a.lots, lot)
	a.acquired = a.acquired.Add(tx.Quantity)
}

// consume walks the arena oldest-first and decrements lots until the disposal
// quantity is exhausted. Disposal beyond the open quantity is clamped and
// flagged; no negative-quantity lot is ever created.
func (a *lotArena) consume(tx domain.Transaction) {
	outstanding := tx.Quantity
	for a.cursor < len(a.lots) && outstanding.IsPositive() {
		lot := &a.lots[a.cursor]
		if !lot.RemainingQuantity.IsPositive() {
			a.cursor++
			continue
		}
		take := decimal.Min(lot.RemainingQuantity, outstanding)
		lot.RemainingQuantity = lot.RemainingQuantity.Sub(take)
		outstanding = outstanding.Sub(take)
		a.disposed = a.disposed.Add(take)
		if !lot.RemainingQuantity.IsPositive() {
			a.cursor++
		}
	}

	if outstanding.IsPositive() {
		a.flags = append(a.flags, domain.Flag{
			Kind: domain.FlagOverDisposal,
			Detail: fmt.Sprintf("disposal of %s %s at %s exceeds open lots by %s",
				tx.Quantity, tx.AssetID, tx.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), outstanding),
		})
	}
}

// result collects surviving lots in acquisition order, propagating partition
// flags onto each lot so they travel with the affected entity.
func (a *lotArena) result() PartitionResult {
	var surviving []domain.Lot
	for _, lot := range a.lots {
		if lot.RemainingQuantity.IsPositive() {
			if len(a.flags) > 0 {
				lot.Flags = append(lot.Flags, a.flags...)
			}
			surviving = append(surviving, lot)
		}
	}
	return PartitionResult{
		Partition: a.key,
		Lots:      surviving,
		Flags:     a.flags,
		Acquired:  a.acquired,
		Disposed:  a.disposed,
	}
}

// lotID derives a deterministic UUID for the lot opened by tx, so identical
// histories always reconstruct to identical lot IDs.
func lotID(tx domain.Transaction) uuid.UUID {
	name := fmt.Sprintf("%s|%s|%d|%s", tx.AssetID, tx.SourceID, tx.Seq, tx.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"))
	return uuid.NewSHA1(lotNamespace, []byte(name))
}

// CheckConservation verifies the quantity-conservation property for a
// partition: acquired minus clamped-disposed equals the sum of remaining
// quantities. It exists so callers and tests can assert the reconstruction
// invariant without re-deriving it.
func CheckConservation(p PartitionResult) bool {
	remaining := decimal.Zero
	for _, lot := range p.Lots {
		remaining = remaining.Add(lot.RemainingQuantity)
	}
	return p.Acquired.Sub(p.Disposed).Equal(remaining)
}
