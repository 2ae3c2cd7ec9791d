package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adityanair/sentinelbank/internal/risk"
)

func TestNominatim_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "12.97", r.URL.Query().Get("lat"))
		assert.Equal(t, "77.59", r.URL.Query().Get("lon"))
		w.Write([]byte(`{"display_name":"Bengaluru, Karnataka, India"}`))
	}))
	defer srv.Close()

	n := NewNominatim(srv.URL)
	got := n.Resolve(context.Background(), &risk.Coordinates{Latitude: 12.97, Longitude: 77.59})
	assert.Equal(t, "Bengaluru, Karnataka, India", got)
}

func TestNominatim_UnknownOnFailure(t *testing.T) {
	t.Run("nil coordinates", func(t *testing.T) {
		n := NewNominatim("http://127.0.0.1:0")
		assert.Equal(t, Unknown, n.Resolve(context.Background(), nil))
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()
		n := NewNominatim(srv.URL)
		assert.Equal(t, Unknown, n.Resolve(context.Background(), &risk.Coordinates{Latitude: 1, Longitude: 2}))
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer srv.Close()
		n := NewNominatim(srv.URL)
		assert.Equal(t, Unknown, n.Resolve(context.Background(), &risk.Coordinates{Latitude: 1, Longitude: 2}))
	})

	t.Run("empty display name", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"display_name":""}`))
		}))
		defer srv.Close()
		n := NewNominatim(srv.URL)
		assert.Equal(t, Unknown, n.Resolve(context.Background(), &risk.Coordinates{Latitude: 1, Longitude: 2}))
	})

	t.Run("unreachable host", func(t *testing.T) {
		n := NewNominatim("http://127.0.0.1:1")
		assert.Equal(t, Unknown, n.Resolve(context.Background(), &risk.Coordinates{Latitude: 1, Longitude: 2}))
	})
}

func TestStatic(t *testing.T) {
	assert.Equal(t, "Test City", Static{Name: "Test City"}.Resolve(context.Background(), nil))
	assert.Equal(t, Unknown, Static{}.Resolve(context.Background(), &risk.Coordinates{}))
}
