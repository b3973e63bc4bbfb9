package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const minSessionSecretLength = 32

type SessionTokenIssuer interface {
	CreateSessionToken(sessionId string) (token string, err error)
	// ParseSessionToken verifies the token and returns the session id it carries
	ParseSessionToken(token string) (sessionId string, err error)
}

type HmacSessionTokenIssuer struct {
	secret   []byte
	issuerId string
	validity time.Duration
}

func NewHmacSessionTokenIssuer(secret string, issuerId string, validity time.Duration) (*HmacSessionTokenIssuer, error) {
	if len(secret) < minSessionSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSessionSecretLength)
	}
	if validity == 0 {
		validity = DefaultSessionTTL
	}

	return &HmacSessionTokenIssuer{
		secret:   []byte(secret),
		issuerId: issuerId,
		validity: validity,
	}, nil
}

func (ti *HmacSessionTokenIssuer) CreateSessionToken(sessionId string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        sessionId,
		Issuer:    ti.issuerId,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ti.validity)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
}

func (ti *HmacSessionTokenIssuer) ParseSessionToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid session token: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid session token")
	}
	if !claims.VerifyIssuer(ti.issuerId, true) {
		return "", fmt.Errorf("invalid session token issuer: %s", claims.Issuer)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("session token carries no session id")
	}
	return claims.ID, nil
}
