// Package fraud asks an external scoring service whether a transfer
// looks fraudulent. The probe is advisory: any transport or decoding
// failure is treated as not-fraud so a scoring outage cannot freeze
// transfers.
package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// DefaultThreshold is the score at or above which a probe flags.
const DefaultThreshold = 0.8

// Probe carries the transfer attributes sent to the scoring service.
type Probe struct {
	UserID           string `json:"userId"`
	RecipientAccount string `json:"recipientAccount"`
	Amount           int64  `json:"amount"`
	IP               string `json:"ip"`
	Device           string `json:"device"`
}

// Checker decides whether a transfer should be refused as fraudulent.
type Checker interface {
	Flagged(ctx context.Context, p *Probe) bool
}

// Noop never flags. Used when no scoring service is configured.
type Noop struct{}

func (Noop) Flagged(context.Context, *Probe) bool { return false }

// HTTPChecker posts probes to a scoring endpoint and flags transfers
// whose returned score meets the threshold.
type HTTPChecker struct {
	endpoint  string
	threshold float64
	client    *http.Client
}

// NewHTTPChecker creates a checker against the given scoring endpoint.
func NewHTTPChecker(endpoint string) *HTTPChecker {
	return &HTTPChecker{
		endpoint:  endpoint,
		threshold: DefaultThreshold,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

type scoreResponse struct {
	Score float64 `json:"score"`
	Fraud bool    `json:"fraud"`
}

// Flagged posts the probe and returns true only on a definitive fraud
// verdict. Errors fail open.
func (c *HTTPChecker) Flagged(ctx context.Context, p *Probe) bool {
	body, err := json.Marshal(p)
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var verdict scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return false
	}
	return verdict.Fraud || verdict.Score >= c.threshold
}
