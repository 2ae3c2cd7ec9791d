// Package geocode resolves coordinates to human-readable place names
// for audit logging. Resolution is best-effort: failures degrade to
// "Unknown" rather than surfacing errors to callers.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/adityanair/sentinelbank/internal/risk"
)

// Unknown is returned when a location cannot be resolved.
const Unknown = "Unknown"

// Resolver maps coordinates to a display name.
type Resolver interface {
	Resolve(ctx context.Context, loc *risk.Coordinates) string
}

// Static always returns the same name. Useful in tests and when no
// geocoding provider is configured.
type Static struct {
	Name string
}

func (s Static) Resolve(ctx context.Context, loc *risk.Coordinates) string {
	if s.Name == "" {
		return Unknown
	}
	return s.Name
}

// Nominatim resolves coordinates through the OpenStreetMap Nominatim
// reverse-geocoding API.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewNominatim creates a resolver against the given Nominatim endpoint.
// An empty baseURL uses the public OSM instance.
func NewNominatim(baseURL string) *Nominatim {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	return &Nominatim{
		baseURL:   baseURL,
		userAgent: "sentinelbank/1.0",
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Resolve performs a reverse lookup. Any error (missing coordinates,
// network failure, non-200 status, malformed body) yields Unknown.
func (n *Nominatim) Resolve(ctx context.Context, loc *risk.Coordinates) string {
	if loc == nil {
		return Unknown
	}

	endpoint := fmt.Sprintf("%s/reverse?format=json&lat=%s&lon=%s",
		n.baseURL,
		url.QueryEscape(fmt.Sprintf("%g", loc.Latitude)),
		url.QueryEscape(fmt.Sprintf("%g", loc.Longitude)),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Unknown
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return Unknown
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Unknown
	}

	var result struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Unknown
	}
	if result.DisplayName == "" {
		return Unknown
	}
	return result.DisplayName
}
