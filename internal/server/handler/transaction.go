package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lossharvest/harvestd/internal/domain"
)

// TransactionHandler serves read access to the ingested ledger history.
type TransactionHandler struct {
	store  domain.TransactionStore
	logger *slog.Logger
}

// NewTransactionHandler creates a TransactionHandler.
func NewTransactionHandler(store domain.TransactionStore, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{store: store, logger: logHandler(logger, "transaction")}
}

// ListTransactions returns a user's ledger events in global order, optionally
// filtered to one asset and a time window.
// GET /api/transactions?user_id=...&asset_id=...&since=...&until=...
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	opts := parseListOpts(r)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		opts.Since = &t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until timestamp")
			return
		}
		opts.Until = &t
	}

	var (
		txs []domain.Transaction
		err error
	)
	if assetID := r.URL.Query().Get("asset_id"); assetID != "" {
		txs, err = h.store.ListByAsset(r.Context(), userID, assetID, opts)
	} else {
		txs, err = h.store.ListByUser(r.Context(), userID, opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "transaction list failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"count":        len(txs),
		"transactions": txs,
	})
}
