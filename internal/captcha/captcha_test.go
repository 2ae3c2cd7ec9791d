package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPVerifier_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "sekrit", r.PostForm.Get("secret"))
		assert.Equal(t, "tok_ok", r.PostForm.Get("response"))
		assert.Equal(t, "203.0.113.7", r.PostForm.Get("remoteip"))
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	v := NewHTTPVerifier("sekrit", srv.URL)
	assert.NoError(t, v.Verify(context.Background(), "tok_ok", "203.0.113.7"))
}

func TestHTTPVerifier_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer srv.Close()

	v := NewHTTPVerifier("sekrit", srv.URL)
	err := v.Verify(context.Background(), "tok_bad", "")
	assert.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, err.Error(), "invalid-input-response")
}

func TestHTTPVerifier_EmptyToken(t *testing.T) {
	v := NewHTTPVerifier("sekrit", "http://127.0.0.1:1")
	assert.ErrorIs(t, v.Verify(context.Background(), "", ""), ErrFailed)
}

func TestHTTPVerifier_ProviderDown(t *testing.T) {
	v := NewHTTPVerifier("sekrit", "http://127.0.0.1:1")
	err := v.Verify(context.Background(), "tok", "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrFailed)
}

func TestAlwaysPass(t *testing.T) {
	assert.NoError(t, AlwaysPass{}.Verify(context.Background(), "", ""))
}
