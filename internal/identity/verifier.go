// Package identity verifies OpenID and Persona assertions against remote
// verification endpoints and returns the proven identity string.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrVerificationFailed is returned when the verifier rejects an assertion
var ErrVerificationFailed = errors.New("identity verification failed")

// ErrNotConfigured is returned when no verification endpoint is configured
var ErrNotConfigured = errors.New("identity verifier not configured")

// Verifier turns an assertion into a verified identity: an OpenID identity
// URL or a Persona email address.
type Verifier interface {
	Verify(ctx context.Context, assertion string) (string, error)
}

// Kind selects which field of the verification response carries the identity
type Kind string

// Verifier kinds
const (
	KindOpenID  Kind = "openid"
	KindPersona Kind = "persona"
)

// RemoteVerifier posts assertions to a verification endpoint
type RemoteVerifier struct {
	kind     Kind
	endpoint string
	audience string
	client   *http.Client
}

// NewRemoteVerifier creates a verifier for the endpoint. Audience is sent
// with Persona assertions and ignored for OpenID.
func NewRemoteVerifier(kind Kind, endpoint, audience string, timeout time.Duration) *RemoteVerifier {
	return &RemoteVerifier{
		kind:     kind,
		endpoint: endpoint,
		audience: audience,
		client:   &http.Client{Timeout: timeout},
	}
}

type verifyResponse struct {
	Status   string `json:"status"`
	Email    string `json:"email"`
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

// Verify implements Verifier
func (v *RemoteVerifier) Verify(ctx context.Context, assertion string) (string, error) {
	if v.endpoint == "" {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(assertion) == "" {
		return "", fmt.Errorf("%w: empty assertion", ErrVerificationFailed)
	}

	form := url.Values{"assertion": {assertion}}
	if v.kind == KindPersona && v.audience != "" {
		form.Set("audience", v.audience)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("verification request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read verification response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: verifier returned %d", ErrVerificationFailed, resp.StatusCode)
	}

	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode verification response: %w", err)
	}
	if out.Status != "okay" {
		reason := out.Reason
		if reason == "" {
			reason = out.Status
		}
		return "", fmt.Errorf("%w: %s", ErrVerificationFailed, reason)
	}

	ident := out.Identity
	if v.kind == KindPersona {
		ident = strings.ToLower(out.Email)
	}
	if ident == "" {
		return "", fmt.Errorf("%w: response carried no identity", ErrVerificationFailed)
	}
	return ident, nil
}
