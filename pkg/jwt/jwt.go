package jwt

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "gig_marketplace/pkg/errors"
)

// Claims carried by access tokens issued by the identity platform.
type Claims struct {
	Email string `json:"email,omitempty"`
	gojwt.RegisteredClaims
}

// Manager validates HS256 access tokens. Issue exists for tests and local tooling;
// production tokens come from the identity platform.
type Manager struct {
	secret []byte
	issuer string
}

func NewManager(secret, issuer string) *Manager {
	return &Manager{secret: []byte(secret), issuer: issuer}
}

func (m *Manager) Issue(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    m.issuer,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify returns the user id from the token subject.
func (m *Manager) Verify(tokenString string) (uuid.UUID, error) {
	claims := &Claims{}
	_, err := gojwt.ParseWithClaims(tokenString, claims, func(t *gojwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, gojwt.WithIssuer(m.issuer), gojwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, gojwt.ErrTokenExpired) {
			return uuid.Nil, apperrors.ErrTokenExpired
		}
		return uuid.Nil, apperrors.ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperrors.ErrInvalidToken
	}
	return userID, nil
}
