package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/inkforge/inkforge/internal/model"
)

// Token errors.
var (
	ErrMissingToken = errors.New("missing session token")
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

const (
	signingKeyInfo = "inkforge session signing key"
	signingKeyLen  = 32
)

// SessionClaims are the claims carried by a session token.
// The subject is the stable user id assigned by the identity provider.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SessionVerifier verifies and mints HS256 session tokens.
type SessionVerifier struct {
	key []byte
}

// NewSessionVerifier derives a signing key from secret with HKDF-SHA256.
func NewSessionVerifier(secret string) (*SessionVerifier, error) {
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	key, err := DeriveSigningKey(secret)
	if err != nil {
		return nil, err
	}
	return &SessionVerifier{key: key}, nil
}

// DeriveSigningKey expands secret into a fixed-length HMAC key.
func DeriveSigningKey(secret string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(signingKeyInfo))
	key := make([]byte, signingKeyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}

// Verify validates the token and returns the principal it names.
func (v *SessionVerifier) Verify(tokenString string) (*model.Principal, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	p := &model.Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// Issue mints a session token for user valid for ttl.
// Used by tooling and tests; production sessions come from the identity provider.
func (v *SessionVerifier) Issue(user *model.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.key)
}

// TokenHash returns a SHA256 hash of the token for cache keys.
// This is NOT a credential, only a cache key derivation.
func TokenHash(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:16])
}
