// Package session issues and verifies the signed credential handed out after
// a successful password or face login.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/faceid"
)

var ErrInvalidToken = errors.New("invalid session token")

// Claims is the JWT payload of a session token.
type Claims struct {
	Method string `json:"method"`
	jwt.RegisteredClaims
}

// Issuer signs HS256 session tokens. Revocation is left to the token consumer.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("session secret must be at least 16 bytes")
	}
	return &Issuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Start binds a new session to identityID. It satisfies faceid.SessionStarter.
func (i *Issuer) Start(_ context.Context, identityID, method string) (*faceid.Session, error) {
	if identityID == "" {
		return nil, faceid.ErrEmptyIdentity
	}
	now := i.now().UTC().Truncate(time.Second)
	id := uuid.New()
	claims := Claims{
		Method: method,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			Subject:   identityID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	return &faceid.Session{
		ID:         id,
		Token:      token,
		IdentityID: identityID,
		Method:     method,
		IssuedAt:   now,
		ExpiresAt:  now.Add(i.ttl),
	}, nil
}

// Verify parses a token issued by Start and returns the session it encodes.
func (i *Issuer) Verify(token string) (*faceid.Session, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, i.key,
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	// reset tokens share the key but are not sessions
	if len(claims.Audience) > 0 {
		return nil, fmt.Errorf("%w: unexpected audience", ErrInvalidToken)
	}

	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad jti", ErrInvalidToken)
	}
	return &faceid.Session{
		ID:         id,
		Token:      token,
		IdentityID: claims.Subject,
		Method:     claims.Method,
		IssuedAt:   claims.IssuedAt.Time,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

func (i *Issuer) key(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return i.secret, nil
}
