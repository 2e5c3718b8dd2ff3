// ABOUTME: JWT token issuance and verification for authenticating API requests
// ABOUTME: Uses HS256 signing with a configurable secret and fixed token lifetime

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum accepted HS256 secret length in bytes.
const MinSecretLength = 32

// Token errors. Verification failures map to the most specific error:
// a bad signature is reported as ErrBadSignature even if the token is
// also expired, since the payload cannot be trusted at all.
var (
	ErrExpired      = errors.New("token expired")
	ErrMalformed    = errors.New("malformed token")
	ErrBadSignature = errors.New("bad token signature")
	ErrMissingClaim = errors.New("missing required claim")
)

// Principal is the authenticated identity carried by a verified token.
// It exists only for the duration of one request.
type Principal struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// TokenVerifier issues and validates access tokens.
type TokenVerifier interface {
	Issue(p Principal) (string, error)
	Verify(tokenString string) (*Principal, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs.
// There is no revocation store: an issued token stays valid until its
// natural expiry.
type JWTVerifier struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTVerifier creates a new JWT verifier with the given secret and
// token lifetime. The secret must be at least MinSecretLength bytes.
func NewJWTVerifier(secret []byte, ttl time.Duration) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	return &JWTVerifier{secret: secret, ttl: ttl}, nil
}

// Issue creates a signed token for the given principal with the configured lifetime.
func (v *JWTVerifier) Issue(p Principal) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      fmt.Sprintf("%d", p.ID),
		"username": p.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(v.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify validates the token signature and expiry and extracts the principal.
func (v *JWTVerifier) Verify(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Only HS256 family tokens are accepted
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	if !token.Valid {
		return nil, ErrMalformed
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformed
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	username, ok := claims["username"].(string)
	if !ok || username == "" {
		return nil, fmt.Errorf("%w: username", ErrMissingClaim)
	}

	var id int64
	if _, err := fmt.Sscanf(sub, "%d", &id); err != nil {
		return nil, fmt.Errorf("%w: sub is not numeric", ErrMalformed)
	}

	return &Principal{ID: id, Username: username}, nil
}
