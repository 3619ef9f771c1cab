package observability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlerter_SendWebhook(t *testing.T) {
	var received Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(srv.URL)
	a.Send(context.Background(), AlertDrift, map[string]any{"metric": "avg_latency_ms"})

	assert.Equal(t, AlertDrift, received.Type)
	assert.False(t, received.Timestamp.IsZero())
}

func TestAlerter_FailedDeliveryDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(srv.URL)
	a.Send(context.Background(), AlertSLAViolation, nil)

	// Unreachable sink is also tolerated.
	a = NewAlerter("http://127.0.0.1:1")
	a.Send(context.Background(), AlertSLAViolation, nil)
}
