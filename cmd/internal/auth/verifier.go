// Package auth turns opaque bearer credentials into user identities.
//
// The relay and the REST surface never validate credentials themselves; they
// consume the Identity this package resolves. Tokens are issued by the
// upstream appointment backend and verified here with a shared HMAC secret.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in token claims.
const (
	RolePatient = "PATIENT"
	RoleDoctor  = "DOCTOR"
	RoleAdmin   = "ADMIN"
)

var (
	// ErrTokenExpired marks an otherwise valid token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid covers malformed tokens and bad signatures.
	ErrTokenInvalid = errors.New("auth: invalid token")
)

// Identity is a verified user identity.
type Identity struct {
	UserID      string
	Role        string
	DisplayName string
	Username    string
	Email       string
}

// TokenVerifier resolves an opaque credential into an Identity.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// JWTVerifier verifies HS256 tokens minted by the appointment backend.
// Claim layout: sub (user id), role, full_name, username, email.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a verifier for the given shared secret.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: empty JWT secret")
	}
	return &JWTVerifier{secret: []byte(secret)}, nil
}

type claims struct {
	Role     string `json:"role"`
	FullName string `json:"full_name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token. A "Bearer " prefix is tolerated so
// callers can pass an Authorization header value unchanged.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, ErrTokenInvalid
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}

	sub := strings.TrimSpace(c.Subject)
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: missing sub claim", ErrTokenInvalid)
	}

	role := strings.ToUpper(strings.TrimSpace(c.Role))
	if role == "" {
		role = RolePatient
	}

	return Identity{
		UserID:      sub,
		Role:        role,
		DisplayName: c.FullName,
		Username:    c.Username,
		Email:       c.Email,
	}, nil
}
