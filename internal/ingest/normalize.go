package ingest

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lossharvest/harvestd/internal/domain"
)

// txNamespace makes ingested transaction IDs deterministic: replaying the
// same chain event always yields the same ID, so the store's insert dedup
// holds across restarts and provider failover.
var txNamespace = uuid.MustParse("b7c9e1d0-4a2f-4f63-9d1b-6e84a0c3f5a2")

// eventKey is the dedup identity of a transfer event. Providers report the
// same transfer with different casing, so the key is lowercased.
func eventKey(e TransferEvent) string {
	return strings.ToLower(e.Chain + ":" + e.TxHash + ":" + e.FromAddr + ":" + e.ToAddr)
}

// normalizeAddresses validates and canonicalizes watched wallet addresses.
// Invalid entries are returned separately so the caller can reject the config.
func normalizeAddresses(addrs []string) (map[string]struct{}, []string) {
	watched := make(map[string]struct{}, len(addrs))
	var invalid []string
	for _, a := range addrs {
		if !common.IsHexAddress(a) {
			invalid = append(invalid, a)
			continue
		}
		watched[strings.ToLower(common.HexToAddress(a).Hex())] = struct{}{}
	}
	return watched, invalid
}

func isWatched(watched map[string]struct{}, addr string) bool {
	if !common.IsHexAddress(addr) {
		return false
	}
	_, ok := watched[strings.ToLower(common.HexToAddress(addr).Hex())]
	return ok
}

// normalize converts one transfer event into ledger transactions for the
// watched wallet set. A transfer between two watched addresses yields both
// legs. An inbound transfer from an unwatched address carries cost basis
// established elsewhere, so its leg is flagged TransferInferred.
func normalize(e TransferEvent, watched map[string]struct{}, price decimal.Decimal, seq *int64) []domain.Transaction {
	if !e.Amount.IsPositive() || e.Token == "" {
		return nil
	}

	fromWatched := isWatched(watched, e.FromAddr)
	toWatched := isWatched(watched, e.ToAddr)
	if !fromWatched && !toWatched {
		return nil
	}

	var txs []domain.Transaction
	if fromWatched {
		txs = append(txs, leg(e, domain.KindTransferOut, price, false, seq))
	}
	if toWatched {
		txs = append(txs, leg(e, domain.KindTransferIn, price, !fromWatched, seq))
	}
	return txs
}

func leg(e TransferEvent, kind domain.TransactionKind, price decimal.Decimal, inferred bool, seq *int64) domain.Transaction {
	id := uuid.NewSHA1(txNamespace, []byte(eventKey(e)+":"+string(kind)))
	tx := domain.Transaction{
		ID:               id,
		Seq:              *seq,
		Timestamp:        e.Timestamp.UTC().Truncate(time.Millisecond),
		Kind:             kind,
		Quantity:         e.Amount,
		UnitPriceUSD:     price,
		AssetID:          e.Token,
		SourceID:         e.Chain,
		TransferInferred: inferred,
	}
	*seq++
	return tx
}
