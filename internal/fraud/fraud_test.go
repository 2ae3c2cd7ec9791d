package fraud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopNeverFlags(t *testing.T) {
	assert.False(t, Noop{}.Flagged(context.Background(), &Probe{Amount: 1_000_000}))
}

func TestHTTPCheckerFlagsHighScore(t *testing.T) {
	var got Probe
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"score": 0.95})
	}))
	defer ts.Close()

	c := NewHTTPChecker(ts.URL)
	flagged := c.Flagged(context.Background(), &Probe{
		UserID:           "usr_1",
		RecipientAccount: "100000000002",
		Amount:           25000,
		IP:               "203.0.113.7",
	})
	assert.True(t, flagged)
	assert.Equal(t, "usr_1", got.UserID)
	assert.Equal(t, int64(25000), got.Amount)
}

func TestHTTPCheckerFlagsExplicitVerdict(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"score": 0.1, "fraud": true})
	}))
	defer ts.Close()

	assert.True(t, NewHTTPChecker(ts.URL).Flagged(context.Background(), &Probe{}))
}

func TestHTTPCheckerLowScorePasses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"score": 0.2})
	}))
	defer ts.Close()

	assert.False(t, NewHTTPChecker(ts.URL).Flagged(context.Background(), &Probe{}))
}

func TestHTTPCheckerFailsOpen(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "scoring model offline", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := NewHTTPChecker(ts.URL)
	assert.False(t, c.Flagged(context.Background(), &Probe{}))

	// Unreachable endpoint is also not-fraud
	assert.False(t, NewHTTPChecker("http://127.0.0.1:1").Flagged(context.Background(), &Probe{}))

	// Garbage body is also not-fraud
	ts2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer ts2.Close()
	assert.False(t, NewHTTPChecker(ts2.URL).Flagged(context.Background(), &Probe{}))
}
