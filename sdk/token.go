package sdk

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/stellar-connect/anchor-client-go/errors"
)

// TokenClaims are the claims a SEP-10 token carries. Anchors issue JWTs with
// the authenticated address as subject and a bounded lifetime.
type TokenClaims struct {
	// Subject is the authenticated Stellar address, possibly suffixed with
	// ":memo" when the anchor scopes tokens to a memo.
	Subject string `json:"sub"`

	// Issuer is the anchor's auth endpoint or domain.
	Issuer string `json:"iss"`

	// IssuedAt and ExpiresAt are Unix timestamps.
	IssuedAt  int64 `json:"iat"`
	ExpiresAt int64 `json:"exp"`
}

// Claims decodes the token's payload. The signature is NOT verified; only
// the anchor can do that, and it will. Callers use the claims to schedule
// re-authentication, never to make trust decisions.
func (s *Session) Claims() (*TokenClaims, error) {
	parts := strings.Split(s.Token, ".")
	if len(parts) != 3 {
		return nil, errors.NewAuthError(errors.PROTOCOL_VIOLATION, "session token is not a JWT", nil)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.NewAuthError(errors.PROTOCOL_VIOLATION, "failed to decode token payload", err)
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errors.NewAuthError(errors.PROTOCOL_VIOLATION, "failed to parse token claims", err)
	}
	return &claims, nil
}

// Expired reports whether the token's exp claim has passed. Tokens that are
// not JWTs or carry no exp claim report false; the anchor's 401 is then the
// only expiry signal.
func (s *Session) Expired(now time.Time) bool {
	claims, err := s.Claims()
	if err != nil || claims.ExpiresAt == 0 {
		return false
	}
	return now.Unix() >= claims.ExpiresAt
}
