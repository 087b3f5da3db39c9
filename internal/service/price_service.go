package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lossharvest/harvestd/internal/domain"
)

// PriceService accepts externally supplied asset prices and maintains the
// price cache the harvest snapshot is captured from.
type PriceService struct {
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewPriceService creates a PriceService.
func NewPriceService(cache domain.PriceCache, logger *slog.Logger) *PriceService {
	return &PriceService{
		cache:  cache,
		logger: logger.With(slog.String("component", "price_service")),
	}
}

// UpdatePrice validates and stores one asset price.
func (s *PriceService) UpdatePrice(ctx context.Context, assetID string, price decimal.Decimal, ts time.Time) error {
	if assetID == "" {
		return fmt.Errorf("service: update price: empty asset id")
	}
	if price.IsNegative() {
		return fmt.Errorf("service: update price %s: negative price %s", assetID, price)
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if err := s.cache.SetPrice(ctx, assetID, price, ts); err != nil {
		return fmt.Errorf("service: update price %s: %w", assetID, err)
	}
	return nil
}

// Price returns the cached price and its timestamp for one asset.
func (s *PriceService) Price(ctx context.Context, assetID string) (decimal.Decimal, time.Time, error) {
	return s.cache.GetPrice(ctx, assetID)
}
