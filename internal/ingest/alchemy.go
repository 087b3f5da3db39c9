package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/lossharvest/harvestd/internal/platform/alchemy"
)

// AlchemyProvider adapts the Alchemy REST and WebSocket clients to the
// Provider interface.
type AlchemyProvider struct {
	apiKey string
	rest   *alchemy.Client
}

// NewAlchemyProvider creates an Alchemy-backed provider.
func NewAlchemyProvider(apiKey string) *AlchemyProvider {
	return &AlchemyProvider{
		apiKey: apiKey,
		rest:   alchemy.NewClient(apiKey),
	}
}

// Name returns the provider identifier.
func (p *AlchemyProvider) Name() string { return "alchemy" }

// Backfill fetches historical transfers for an address in both directions.
func (p *AlchemyProvider) Backfill(ctx context.Context, chain, address string, since, until time.Time) ([]TransferEvent, error) {
	var events []TransferEvent
	for _, direction := range []string{"to", "from"} {
		transfers, err := p.rest.GetAssetTransfers(ctx, chain, address, direction, since, until)
		if err != nil {
			return nil, fmt.Errorf("ingest: alchemy backfill %s/%s: %w", chain, direction, err)
		}
		for _, t := range transfers {
			events = append(events, fromAlchemy(chain, t))
		}
	}
	return events, nil
}

// Stream subscribes to mined transactions for the given addresses and pushes
// transfers into out until ctx is cancelled. The underlying client handles
// reconnection; Stream returns only on context cancellation or a failed
// initial connect.
func (p *AlchemyProvider) Stream(ctx context.Context, chain string, addresses []string, out chan<- TransferEvent) error {
	ws, err := alchemy.NewWSClient(chain, p.apiKey)
	if err != nil {
		return fmt.Errorf("ingest: alchemy stream: %w", err)
	}
	defer ws.Close()

	ws.OnTransfer(func(t alchemy.Transfer) {
		select {
		case out <- fromAlchemy(chain, t):
		case <-ctx.Done():
		}
	})

	if err := ws.Connect(ctx); err != nil {
		return fmt.Errorf("ingest: alchemy stream: %w", err)
	}
	if err := ws.SubscribeTransfers(ctx, addresses); err != nil {
		return fmt.Errorf("ingest: alchemy stream: %w", err)
	}

	<-ctx.Done()
	return ctx.Err()
}

func fromAlchemy(chain string, t alchemy.Transfer) TransferEvent {
	return TransferEvent{
		Timestamp: t.Timestamp,
		TxHash:    t.TxHash,
		FromAddr:  t.From,
		ToAddr:    t.To,
		Chain:     chain,
		Token:     t.Asset,
		Amount:    t.Value,
		Provider:  "alchemy",
	}
}
