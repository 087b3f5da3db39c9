package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lossharvest/harvestd/internal/domain"
)

// EstimateCache implements domain.EstimateCache using Redis hashes. Each
// asset's cost estimate is stored at key "estimate:{assetID}" with a JSON
// "estimate" field and a "ts" field. Decimal amounts survive the round trip
// because CostEstimate marshals them as strings.
type EstimateCache struct {
	rdb *redis.Client
}

// NewEstimateCache creates an EstimateCache backed by the given Client.
func NewEstimateCache(c *Client) *EstimateCache {
	return &EstimateCache{rdb: c.Underlying()}
}

func estimateKey(assetID string) string {
	return "estimate:" + assetID
}

// SetEstimate stores the latest cost estimate and timestamp for an asset.
func (ec *EstimateCache) SetEstimate(ctx context.Context, assetID string, est domain.CostEstimate, ts time.Time) error {
	payload, err := json.Marshal(est)
	if err != nil {
		return fmt.Errorf("redis: marshal estimate %s: %w", assetID, err)
	}
	fields := map[string]interface{}{
		"estimate": payload,
		"ts":       strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := ec.rdb.HSet(ctx, estimateKey(assetID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set estimate %s: %w", assetID, err)
	}
	return nil
}

// GetEstimates retrieves cost estimates for multiple assets using a pipeline.
// Assets with no stored estimate are omitted from the snapshot.
func (ec *EstimateCache) GetEstimates(ctx context.Context, assetIDs []string) (domain.EstimateSnapshot, error) {
	snap := make(domain.EstimateSnapshot, len(assetIDs))
	if len(assetIDs) == 0 {
		return snap, nil
	}

	pipe := ec.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(assetIDs))
	for _, id := range assetIDs {
		cmds[id] = pipe.HGetAll(ctx, estimateKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get estimates pipeline: %w", err)
	}

	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		raw, ok := vals["estimate"]
		if !ok {
			continue
		}
		var est domain.CostEstimate
		if err := json.Unmarshal([]byte(raw), &est); err != nil {
			continue
		}
		snap[id] = est
	}

	return snap, nil
}

// Compile-time interface check.
var _ domain.EstimateCache = (*EstimateCache)(nil)
