// Package oidcauth guards the broker's admin API with OIDC-issued bearer tokens.
package oidcauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Claims represents the subset of access-token claims the admin API cares about.
type Claims struct {
	Issuer      string   `json:"iss"`
	Subject     string   `json:"sub"`
	Scope       string   `json:"scope"`
	Permissions []string `json:"permissions"`
	Roles       []string `json:"-"`
}

// HasScopes returns true when every scope in required is present in the claim.
func (c *Claims) HasScopes(required []string) bool {
	if len(required) == 0 {
		return true
	}

	available := map[string]struct{}{}
	for _, scope := range strings.Fields(c.Scope) {
		available[scope] = struct{}{}
	}
	for _, perm := range c.Permissions {
		available[perm] = struct{}{}
	}

	for _, s := range required {
		if _, ok := available[s]; !ok {
			return false
		}
	}
	return true
}

// Option configures the Validator.
type Option func(v *Validator)

// WithRolesClaim configures a custom claim key that should be interpreted as roles in the token.
func WithRolesClaim(claim string) Option {
	return func(v *Validator) {
		v.rolesClaim = claim
	}
}

// WithKeySet verifies signatures against keys instead of discovering the issuer's JWKS.
func WithKeySet(keys oidc.KeySet) Option {
	return func(v *Validator) {
		v.keySet = keys
	}
}

// Validator verifies bearer access tokens issued for the admin API audience.
type Validator struct {
	verifier   *oidc.IDTokenVerifier
	keySet     oidc.KeySet
	rolesClaim string
}

// NewValidator builds a Validator for issuer and audience. Without WithKeySet the issuer's discovery
// document is fetched, so ctx bounds that call.
func NewValidator(ctx context.Context, issuer, audience string, opts ...Option) (*Validator, error) {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" || !strings.HasPrefix(issuer, "http") {
		return nil, fmt.Errorf("oidcauth: invalid issuer %q", issuer)
	}
	if audience == "" {
		return nil, errors.New("oidcauth: audience is required")
	}

	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}

	cfg := &oidc.Config{ClientID: audience}
	if v.keySet != nil {
		v.verifier = oidc.NewVerifier(issuer, v.keySet, cfg)
		return v, nil
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidcauth: discover issuer: %w", err)
	}
	v.verifier = provider.Verifier(cfg)
	return v, nil
}

// ValidateToken verifies signature, issuer, audience and expiry, then enforces requiredScopes.
func (v *Validator) ValidateToken(ctx context.Context, token string, requiredScopes []string) (*Claims, error) {
	if token == "" {
		return nil, errors.New("oidcauth: token is empty")
	}

	verified, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("oidcauth: verify token: %w", err)
	}

	claims := &Claims{}
	if err := verified.Claims(claims); err != nil {
		return nil, fmt.Errorf("oidcauth: decode claims: %w", err)
	}

	if v.rolesClaim != "" {
		var raw map[string]any
		if err := verified.Claims(&raw); err != nil {
			return nil, fmt.Errorf("oidcauth: decode raw claims: %w", err)
		}
		if value, ok := raw[v.rolesClaim]; ok {
			claims.Roles = append(claims.Roles, extractStrings(value)...)
			slices.Sort(claims.Roles)
			claims.Roles = slices.Compact(claims.Roles)
		}
	}

	if !claims.HasScopes(requiredScopes) {
		return nil, fmt.Errorf("oidcauth: missing required scope(s) %v", requiredScopes)
	}
	return claims, nil
}

func extractStrings(value any) []string {
	var out []string
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = append(out, v)
	}
	return out
}

// ParseBearer extracts the token from the standard Authorization header value.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", errors.New("oidcauth: missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("oidcauth: invalid Authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
