package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/lossharvest/harvestd/internal/platform/moralis"
)

// moralisPollInterval is how often the Moralis provider polls for new
// transfers when streaming. Moralis has no public push feed for wallets, so
// Stream is implemented as incremental REST polling.
const moralisPollInterval = 15 * time.Second

// MoralisProvider adapts the Moralis REST client to the Provider interface.
type MoralisProvider struct {
	rest *moralis.Client
}

// NewMoralisProvider creates a Moralis-backed provider.
func NewMoralisProvider(apiKey string) *MoralisProvider {
	return &MoralisProvider{rest: moralis.NewClient(apiKey)}
}

// Name returns the provider identifier.
func (p *MoralisProvider) Name() string { return "moralis" }

// Backfill fetches historical transfers for an address.
func (p *MoralisProvider) Backfill(ctx context.Context, chain, address string, since, until time.Time) ([]TransferEvent, error) {
	transfers, err := p.rest.GetWalletTransfers(ctx, chain, address, since, until)
	if err != nil {
		return nil, fmt.Errorf("ingest: moralis backfill %s: %w", chain, err)
	}
	events := make([]TransferEvent, 0, len(transfers))
	for _, t := range transfers {
		events = append(events, fromMoralis(chain, t))
	}
	return events, nil
}

// Stream polls the REST endpoint at a fixed interval, emitting transfers seen
// since the previous poll. Downstream dedup makes overlapping windows safe.
func (p *MoralisProvider) Stream(ctx context.Context, chain string, addresses []string, out chan<- TransferEvent) error {
	ticker := time.NewTicker(moralisPollInterval)
	defer ticker.Stop()

	last := time.Now().UTC().Add(-moralisPollInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := time.Now().UTC()
		for _, addr := range addresses {
			transfers, err := p.rest.GetWalletTransfers(ctx, chain, addr, last, now)
			if err != nil {
				return fmt.Errorf("ingest: moralis stream %s: %w", chain, err)
			}
			for _, t := range transfers {
				select {
				case out <- fromMoralis(chain, t):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		last = now
	}
}

func fromMoralis(chain string, t moralis.Transfer) TransferEvent {
	return TransferEvent{
		Timestamp: t.Timestamp,
		TxHash:    t.TxHash,
		FromAddr:  t.From,
		ToAddr:    t.To,
		Chain:     chain,
		Token:     t.Asset,
		Amount:    t.Value,
		Provider:  "moralis",
	}
}
