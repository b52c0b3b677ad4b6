// Package auth gates the control API with bearer tokens. Verification is
// HS256 with audience and team-domain claims; signing keys are looked up by
// key ID through an explicit TTL cache so rotated keys are picked up without
// a process restart.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrMissingClaim  = errors.New("missing required claim")
	ErrWrongAudience = errors.New("token audience mismatch")
	ErrWrongDomain   = errors.New("token team domain mismatch")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (principalID string, err error)
}

// JWTVerifier validates HS256 tokens against the expected audience and
// team domain. Keys come from the cache, selected by the token's kid header;
// tokens without a kid fall back to the default key.
type JWTVerifier struct {
	keys       *KeyCache
	audience   string
	teamDomain string
}

// NewJWTVerifier creates a verifier using keys for signing key lookup.
func NewJWTVerifier(keys *KeyCache, audience, teamDomain string) *JWTVerifier {
	return &JWTVerifier{keys: keys, audience: audience, teamDomain: teamDomain}
}

// Verify validates the token and extracts the principal ID from the "sub" claim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		return v.keys.GetOrRefresh(kid)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	if v.audience != "" {
		aud, _ := claims.GetAudience()
		if !containsString(aud, v.audience) {
			return "", ErrWrongAudience
		}
	}

	if v.teamDomain != "" {
		domain, _ := claims["team_domain"].(string)
		if domain != v.teamDomain {
			return "", ErrWrongDomain
		}
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// Generate signs a token for principalID with the given key. kid is placed
// in the token header when non-empty. Used by operator tooling and tests.
func Generate(key []byte, kid, principalID, audience, teamDomain string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": principalID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	if teamDomain != "" {
		claims["team_domain"] = teamDomain
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	return token.SignedString(key)
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
