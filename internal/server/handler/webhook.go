package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lossharvest/harvestd/internal/crypto"
	"github.com/lossharvest/harvestd/internal/ingest"
)

// maxWebhookBody caps webhook payloads at 4 MB.
const maxWebhookBody = 4 << 20

// TransferSink accepts externally pushed transfer events.
type TransferSink interface {
	Submit(ctx context.Context, events []ingest.TransferEvent) (int, error)
}

// WebhookHandler accepts signed transfer-event pushes from ingestion
// providers. Payloads are authenticated with an HMAC signature over the raw
// body before any parsing happens.
type WebhookHandler struct {
	sink     TransferSink
	verifier *crypto.WebhookVerifier
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(sink TransferSink, verifier *crypto.WebhookVerifier, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		sink:     sink,
		verifier: verifier,
		logger:   logHandler(logger, "webhook"),
	}
}

// webhookTransfer is the wire shape of one pushed transfer event.
type webhookTransfer struct {
	Timestamp time.Time `json:"timestamp"`
	TxHash    string    `json:"tx_hash"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Chain     string    `json:"chain"`
	Token     string    `json:"token"`
	Amount    string    `json:"amount"` // decimal string
}

type webhookPayload struct {
	Provider string            `json:"provider"`
	Events   []webhookTransfer `json:"events"`
}

// ReceiveTransfers verifies and ingests a pushed batch of transfer events.
// POST /api/webhooks/transfers
func (h *WebhookHandler) ReceiveTransfers(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !h.verifier.Verify(body, r.Header.Get("X-Signature")) {
		h.logger.WarnContext(r.Context(), "webhook signature rejected",
			slog.Int("body_len", len(body)))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.Provider == "" {
		payload.Provider = "webhook"
	}

	events := make([]ingest.TransferEvent, 0, len(payload.Events))
	for _, e := range payload.Events {
		amount, err := decimal.NewFromString(e.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount for tx "+e.TxHash)
			return
		}
		events = append(events, ingest.TransferEvent{
			Timestamp: e.Timestamp,
			TxHash:    e.TxHash,
			FromAddr:  e.From,
			ToAddr:    e.To,
			Chain:     e.Chain,
			Token:     e.Token,
			Amount:    amount,
			Provider:  payload.Provider,
		})
	}

	inserted, err := h.sink.Submit(r.Context(), events)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "webhook ingest failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"received": len(events),
		"inserted": inserted,
	})
}
