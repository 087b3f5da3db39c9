package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lossharvest/harvestd/internal/crypto"
	"github.com/lossharvest/harvestd/internal/ingest"
)

type fakeSink struct {
	events []ingest.TransferEvent
	err    error
}

func (f *fakeSink) Submit(ctx context.Context, events []ingest.TransferEvent) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.events = append(f.events, events...)
	return len(events), nil
}

func newWebhookFixture(t *testing.T) (*WebhookHandler, *fakeSink, *crypto.WebhookVerifier) {
	t.Helper()
	verifier, err := crypto.NewWebhookVerifier("webhook-test-secret")
	require.NoError(t, err)
	sink := &fakeSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWebhookHandler(sink, verifier, logger), sink, verifier
}

func postSigned(h *WebhookHandler, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/transfers", bytes.NewReader(body))
	req.Header.Set("X-Signature", sig)
	rec := httptest.NewRecorder()
	h.ReceiveTransfers(rec, req)
	return rec
}

func TestReceiveTransfers_AcceptsSignedBatch(t *testing.T) {
	h, sink, verifier := newWebhookFixture(t)

	body := []byte(`{
		"provider": "moralis",
		"events": [
			{"timestamp": "2025-06-01T12:00:00Z", "tx_hash": "0xabc", "from": "0x1111111111111111111111111111111111111111", "to": "0x2222222222222222222222222222222222222222", "chain": "ethereum", "token": "ETH", "amount": "1.5"}
		]
	}`)

	rec := postSigned(h, body, verifier.Sign(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["received"])
	assert.Equal(t, 1, resp["inserted"])

	require.Len(t, sink.events, 1)
	assert.Equal(t, "moralis", sink.events[0].Provider)
	assert.Equal(t, "ETH", sink.events[0].Token)
	assert.Equal(t, "1.5", sink.events[0].Amount.String())
}

func TestReceiveTransfers_RejectsBadSignature(t *testing.T) {
	h, sink, _ := newWebhookFixture(t)

	body := []byte(`{"events":[]}`)
	rec := postSigned(h, body, "deadbeef")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, sink.events)
}

func TestReceiveTransfers_RejectsBadAmount(t *testing.T) {
	h, sink, verifier := newWebhookFixture(t)

	body := []byte(`{"events":[{"tx_hash":"0xabc","amount":"not-a-number"}]}`)
	rec := postSigned(h, body, verifier.Sign(body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sink.events)
}

func TestReceiveTransfers_DefaultsProvider(t *testing.T) {
	h, sink, verifier := newWebhookFixture(t)

	body := []byte(`{"events":[{"tx_hash":"0xabc","amount":"2"}]}`)
	rec := postSigned(h, body, verifier.Sign(body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "webhook", sink.events[0].Provider)
}
