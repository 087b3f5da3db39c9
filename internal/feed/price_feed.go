// Package feed contains the long-running consumers that bridge the report bus
// to the rest of the system: price updates into the cache, finished runs into
// the exporter and notifier.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lossharvest/harvestd/internal/domain"
	"github.com/lossharvest/harvestd/internal/service"
)

// PriceChannel is the bus channel external price publishers write to.
const PriceChannel = "prices"

// priceEvent is the JSON shape published to the price channel.
type priceEvent struct {
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"` // decimal string
	Timestamp string `json:"timestamp"`
}

// PriceFeeder subscribes to the price channel and writes each update into the
// price cache through the price service's validation.
type PriceFeeder struct {
	bus    domain.ReportBus
	prices *service.PriceService
	logger *slog.Logger
}

// NewPriceFeeder creates a PriceFeeder.
func NewPriceFeeder(bus domain.ReportBus, prices *service.PriceService, logger *slog.Logger) *PriceFeeder {
	return &PriceFeeder{
		bus:    bus,
		prices: prices,
		logger: logger.With(slog.String("component", "price_feeder")),
	}
}

// Run subscribes and consumes price events until ctx is cancelled.
func (f *PriceFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, PriceChannel)
	if err != nil {
		return err
	}
	f.logger.Info("price feeder started")
	defer f.logger.Info("price feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handleMessage(ctx, data); err != nil {
				f.logger.Debug("price feeder handle message failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (f *PriceFeeder) handleMessage(ctx context.Context, data []byte) error {
	var ev priceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	assetID := strings.TrimSpace(ev.AssetID)
	if assetID == "" {
		return nil
	}

	price, err := decimal.NewFromString(ev.Price)
	if err != nil {
		return err
	}

	ts := time.Now().UTC()
	if ev.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, ev.Timestamp); err == nil {
			ts = t
		}
	}

	return f.prices.UpdatePrice(ctx, assetID, price, ts)
}
