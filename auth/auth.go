// Package auth verifies bearer tokens and answers permission
// questions about Automata.
//
// Tokens are JWTs signed either with a shared HS256 secret or, when
// enabled, with an Account's Ed25519 key (EdDSA, with the account id
// as the "kid" header).  Account keys come through a KeyCache, and an
// account-signed token may only claim the Account's own tenant.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is a verified caller.
type Identity struct {
	TenantID  string   `json:"tenantId"`
	SubjectID string   `json:"subjectId"`
	Scopes    []string `json:"scopes,omitempty"`

	// SessionPublicKey is optional and opaque here.
	SessionPublicKey string `json:"sessionPublicKey,omitempty"`
}

// Claims is the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	TenantID         string   `json:"tenantId"`
	Scopes           []string `json:"scopes,omitempty"`
	SessionPublicKey string   `json:"sessionPublicKey,omitempty"`
}

// Verifier verifies tokens.
type Verifier struct {
	// Secret enables HS256 tokens.
	Secret []byte

	// Keys enables EdDSA tokens.  Nil disables them.
	Keys *KeyCache

	// Issuer, if not empty, must match the "iss" claim.
	Issuer string
}

func (v *Verifier) methods() []string {
	acc := make([]string, 0, 2)
	if 0 < len(v.Secret) {
		acc = append(acc, jwt.SigningMethodHS256.Alg())
	}
	if v.Keys != nil {
		acc = append(acc, jwt.SigningMethodEdDSA.Alg())
	}
	return acc
}

// Verify returns the Identity for a valid token.
func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	methods := v.methods()
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no verification configured", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	parser := jwt.NewParser(opts...)

	var (
		claims = &Claims{}
		signer *SigningKey
	)
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() == jwt.SigningMethodHS256.Alg() {
			return v.Secret, nil
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("kid required")
		}
		k, err := v.Keys.Get(ctx, kid)
		if err != nil {
			return nil, err
		}
		signer = k
		return k.Key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subject claim required", ErrInvalidToken)
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: tenantId claim required", ErrInvalidToken)
	}
	if signer != nil && signer.TenantID != claims.TenantID {
		return nil, fmt.Errorf("%w: key can't sign for tenant %s", ErrInvalidToken, claims.TenantID)
	}

	return &Identity{
		TenantID:         claims.TenantID,
		SubjectID:        claims.Subject,
		Scopes:           claims.Scopes,
		SessionPublicKey: claims.SessionPublicKey,
	}, nil
}

// IssueHS256 makes a token for the identity.
func IssueHS256(secret []byte, issuer string, id *Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.SubjectID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID:         id.TenantID,
		Scopes:           id.Scopes,
		SessionPublicKey: id.SessionPublicKey,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
