// Package auth supplies bearer credentials to the push channel and the
// REST transports. Token storage and the refresh endpoint belong to an
// external collaborator; only the contract is consumed here.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// CredentialProvider supplies a currently-valid bearer credential and
// refreshes it on rejection.
type CredentialProvider interface {
	// AccessToken returns the stored token and whether it is still
	// valid (non-expired). An empty token reads as invalid.
	AccessToken() (string, bool)

	// Refresh exchanges the refresh token for a new credential pair and
	// returns the new access token.
	Refresh(ctx context.Context) (string, error)
}

// Credentials is a token pair plus the access token's expiry.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    time.Time
}

// tokenExpiry extracts the exp claim from a JWT access token without
// verifying the signature. Expiry enforcement is the server's job; the
// client only needs it to skip a doomed connect. Returns zero time when
// the token is not a parseable JWT.
func tokenExpiry(token string) time.Time {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(raw, &claims); err != nil || claims.Exp == 0 {
		return time.Time{}
	}
	return time.Unix(claims.Exp, 0)
}

// Static is a fixed, never-refreshing provider for tests and tooling.
type Static struct {
	Token string
}

func (s Static) AccessToken() (string, bool) { return s.Token, s.Token != "" }

func (s Static) Refresh(ctx context.Context) (string, error) { return s.Token, nil }

// memoryProvider guards a Credentials value and delegates refresh to a
// caller-supplied function. It is the in-session provider used by the
// engine; the refresh function is typically rest.Client.RefreshToken.
type memoryProvider struct {
	mu      sync.Mutex
	creds   Credentials
	refresh func(ctx context.Context, refreshToken string) (Credentials, error)
}

// NewProvider wraps an initial credential pair and a refresh function
// into a CredentialProvider.
func NewProvider(initial Credentials, refresh func(ctx context.Context, refreshToken string) (Credentials, error)) CredentialProvider {
	if initial.ExpiresAt.IsZero() {
		initial.ExpiresAt = tokenExpiry(initial.AccessToken)
	}
	return &memoryProvider{creds: initial, refresh: refresh}
}

func (p *memoryProvider) AccessToken() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.creds.AccessToken == "" {
		return "", false
	}
	if !p.creds.ExpiresAt.IsZero() && time.Now().After(p.creds.ExpiresAt) {
		return p.creds.AccessToken, false
	}
	return p.creds.AccessToken, true
}

func (p *memoryProvider) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	refreshToken := p.creds.RefreshToken
	p.mu.Unlock()

	creds, err := p.refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	if creds.ExpiresAt.IsZero() {
		creds.ExpiresAt = tokenExpiry(creds.AccessToken)
	}

	p.mu.Lock()
	p.creds = creds
	p.mu.Unlock()
	return creds.AccessToken, nil
}
