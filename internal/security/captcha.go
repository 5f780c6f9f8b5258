package security

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultVerifyURL is the reCAPTCHA siteverify endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// CaptchaFormField is the form field carrying the captcha response.
const CaptchaFormField = "g-recaptcha-response"

// Verifier validates captcha responses against a siteverify compatible endpoint.
type Verifier struct {
	client   *http.Client
	secret   string
	endpoint string
}

// NewVerifier constructs a Verifier. An empty secret disables verification.
func NewVerifier(secret, endpoint string, client *http.Client) *Verifier {
	if endpoint == "" {
		endpoint = DefaultVerifyURL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Verifier{client: client, secret: secret, endpoint: endpoint}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && v.secret != ""
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify reports whether the captcha response is valid.
func (v *Verifier) Verify(ctx context.Context, response, remoteIP string) (bool, error) {
	if !v.Enabled() || strings.TrimSpace(response) == "" {
		return false, nil
	}
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", response)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("security: captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("security: captcha verify: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return false, fmt.Errorf("security: captcha verify: status %d", res.StatusCode)
	}
	var body verifyResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("security: captcha decode: %w", err)
	}
	return body.Success, nil
}
