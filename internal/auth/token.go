package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/healthcare-booking/internal/catalog"
)

var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("token is invalid")
)

type bookingClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// TokenManager signs and validates HS256 bearer tokens carrying the caller's
// user id and role.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

func (m *TokenManager) Issue(actor Actor) (string, error) {
	if !actor.Role.Valid() {
		return "", fmt.Errorf("issue token: unknown role %q", actor.Role)
	}

	now := time.Now()
	claims := bookingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
		},
		Role: string(actor.Role),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (m *TokenManager) Parse(tokenString string) (Actor, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&bookingClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Actor{}, ErrTokenExpired
		}
		return Actor{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*bookingClaims)
	if !ok || !token.Valid {
		return Actor{}, ErrTokenInvalid
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Actor{}, ErrTokenInvalid
	}

	role := catalog.Role(claims.Role)
	if !role.Valid() {
		return Actor{}, ErrTokenInvalid
	}

	return Actor{ID: id, Role: role}, nil
}
