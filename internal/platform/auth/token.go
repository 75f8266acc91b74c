package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrExpired marks an access token that failed validation only because its
// expiry has passed. Clients holding a refresh token are expected to refresh
// and retry the request once.
var ErrExpired = errors.New("token expired")

// Claims carries the resolved session in the access token. Subject is the
// user id, ID (jti) is the refresh session id, ClinicID/ClinicRole describe
// the active clinic membership.
type Claims struct {
	jwt.RegisteredClaims
	AccountRole string `json:"account_role"`
	ClinicID    string `json:"clinic_id,omitempty"`
	ClinicRole  string `json:"clinic_role,omitempty"`
}

// Issuer mints and verifies HS256 access tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// TTL returns the configured access token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Mint issues an access token for the given user and active clinic.
// clinicID may be uuid.Nil for accounts without a membership (super_admin).
func (i *Issuer) Mint(userID uuid.UUID, accountRole string, clinicID uuid.UUID, clinicRole string, sessionID uuid.UUID) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID.String(),
			ID:        sessionID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		AccountRole: accountRole,
		ClinicRole:  clinicRole,
	}
	if clinicID != uuid.Nil {
		claims.ClinicID = clinicID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a token and returns its claims. Expired tokens return
// ErrExpired so the middleware can distinguish refreshable sessions from
// garbage tokens.
func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(i.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
