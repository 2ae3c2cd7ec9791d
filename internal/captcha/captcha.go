// Package captcha verifies human-interaction challenge tokens.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrFailed indicates the token was rejected by the provider.
var ErrFailed = errors.New("captcha verification failed")

// Verifier checks a client-supplied captcha token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// AlwaysPass accepts every token. Used when no provider is configured
// and in tests.
type AlwaysPass struct{}

func (AlwaysPass) Verify(ctx context.Context, token, remoteIP string) error {
	return nil
}

// HTTPVerifier validates tokens against a reCAPTCHA-compatible
// siteverify endpoint.
type HTTPVerifier struct {
	secret   string
	endpoint string
	client   *http.Client
}

// NewHTTPVerifier creates a verifier with the given shared secret.
// An empty endpoint targets Google's siteverify API.
func NewHTTPVerifier(secret, endpoint string) *HTTPVerifier {
	if endpoint == "" {
		endpoint = "https://www.google.com/recaptcha/api/siteverify"
	}
	return &HTTPVerifier{
		secret:   secret,
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return ErrFailed
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("captcha provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("captcha provider returned status %d", resp.StatusCode)
	}

	var result struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode captcha response: %w", err)
	}
	if !result.Success {
		if len(result.ErrorCodes) > 0 {
			return fmt.Errorf("%w: %s", ErrFailed, strings.Join(result.ErrorCodes, ", "))
		}
		return ErrFailed
	}
	return nil
}
