package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "linedesk"

// Claims is the payload inside every session token.
//
// The middleware reads these back on each request, so handlers know who is
// calling (and with which role) without a database round trip.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Role   string    `json:"role"`
	Name   string    `json:"name"`
	jwt.RegisteredClaims
}

// Identity is what a token is issued for.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Role   string
	Name   string
}

// Issuer signs and verifies HS256 session tokens with one shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL is how long an issued token stays valid. The session cookie uses
// the same lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// GenerateToken returns a signed token for id.
func (i *Issuer) GenerateToken(id Identity) (string, error) {
	now := i.now()

	claims := Claims{
		UserID: id.UserID,
		Email:  id.Email,
		Role:   id.Role,
		Name:   id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token string and extracts the claims.
//
// It checks the signature, the expiry, the issuer and that the token was
// signed with HMAC. Anything else ("none", RSA) is rejected before the
// signature is looked at.
func (i *Issuer) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token has no user id")
	}
	return claims, nil
}
