package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebhookVerifier_RejectsEmptySecret(t *testing.T) {
	_, err := NewWebhookVerifier("")
	require.Error(t, err)
}

func TestWebhookVerifier_RoundTrip(t *testing.T) {
	v, err := NewWebhookVerifier("topsecret")
	require.NoError(t, err)

	body := []byte(`{"events":[]}`)
	sig := v.Sign(body)

	assert.True(t, v.Verify(body, sig))
	assert.False(t, v.Verify([]byte(`{"events":[{}]}`), sig))
	assert.False(t, v.Verify(body, "deadbeef"))
	assert.False(t, v.Verify(body, "not-hex"))
}

func TestWebhookVerifier_DifferentSecretsDiffer(t *testing.T) {
	a, err := NewWebhookVerifier("secret-a")
	require.NoError(t, err)
	b, err := NewWebhookVerifier("secret-b")
	require.NoError(t, err)

	body := []byte("payload")
	assert.NotEqual(t, a.Sign(body), b.Sign(body))
	assert.False(t, b.Verify(body, a.Sign(body)))
}

func TestWebhookVerifier_StringRedactsSecret(t *testing.T) {
	v, err := NewWebhookVerifier("topsecret")
	require.NoError(t, err)
	assert.NotContains(t, v.String(), "topsecret")
}
