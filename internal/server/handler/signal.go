package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lossharvest/harvestd/internal/domain"
	"github.com/lossharvest/harvestd/internal/service"
)

// SignalHandler serves the write endpoints for the externally supplied inputs:
// prices, risk signals and execution cost estimates.
type SignalHandler struct {
	prices  *service.PriceService
	signals *service.SignalService
	logger  *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(prices *service.PriceService, signals *service.SignalService, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{
		prices:  prices,
		signals: signals,
		logger:  logHandler(logger, "signal"),
	}
}

type priceRequest struct {
	Price     string `json:"price"`     // decimal string
	Timestamp string `json:"timestamp"` // RFC3339, optional
}

// UpsertPrice stores one asset's USD unit price.
// PUT /api/assets/{id}/price
func (h *SignalHandler) UpsertPrice(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "id")

	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}

	if err := h.prices.UpdatePrice(r.Context(), assetID, price, parseTimestamp(req.Timestamp)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset_id": assetID, "price": price.String()})
}

// GetPrice returns one asset's cached price.
// GET /api/assets/{id}/price
func (h *SignalHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "id")

	price, ts, err := h.prices.Price(r.Context(), assetID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no price for asset")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load price")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id":  assetID,
		"price":     price.String(),
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
	})
}

type signalRequest struct {
	domain.RiskSignal
	Timestamp string `json:"timestamp"`
}

// UpsertSignal stores one asset's risk/liquidity signal.
// PUT /api/assets/{id}/signal
func (h *SignalHandler) UpsertSignal(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "id")

	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.signals.UpsertSignal(r.Context(), assetID, req.RiskSignal, parseTimestamp(req.Timestamp)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset_id": assetID})
}

// GetSignal returns one asset's cached signal.
// GET /api/assets/{id}/signal
func (h *SignalHandler) GetSignal(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "id")

	sig, ts, err := h.signals.Signal(r.Context(), assetID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no signal for asset")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load signal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id":  assetID,
		"signal":    sig,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
	})
}

type estimateRequest struct {
	domain.CostEstimate
	Timestamp string `json:"timestamp"`
}

// UpsertEstimate stores one asset's execution cost estimate.
// PUT /api/assets/{id}/estimate
func (h *SignalHandler) UpsertEstimate(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "id")

	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.signals.UpsertEstimate(r.Context(), assetID, req.CostEstimate, parseTimestamp(req.Timestamp)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset_id": assetID})
}

// parseTimestamp parses an optional RFC3339 timestamp, returning the zero time
// when absent or malformed so the service layer defaults it.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
