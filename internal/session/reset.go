package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const resetAudience = "password-reset"

var ErrInvalidResetToken = errors.New("invalid or expired reset token")

// ResetClaims is the JWT payload of a password reset token. Fingerprint is
// derived from the password hash at issue time, so the token stops verifying
// once the password has been changed.
type ResetClaims struct {
	Fingerprint string `json:"pwf"`
	jwt.RegisteredClaims
}

// PasswordFingerprint is a short digest of a stored bcrypt hash.
func PasswordFingerprint(passwordHash []byte) string {
	sum := sha256.Sum256(passwordHash)
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

// IssueReset signs a single-use reset token for identityID valid for ttl.
func (i *Issuer) IssueReset(identityID uuid.UUID, passwordHash []byte, ttl time.Duration) (string, time.Time, error) {
	now := i.now().UTC().Truncate(time.Second)
	expires := now.Add(ttl)
	claims := ResetClaims{
		Fingerprint: PasswordFingerprint(passwordHash),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identityID.String(),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{resetAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign reset token: %w", err)
	}
	return token, expires, nil
}

// VerifyReset checks the token signature, audience and expiry and returns the
// identity it was issued for.
func (i *Issuer) VerifyReset(token string) (uuid.UUID, *ResetClaims, error) {
	claims := &ResetClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, i.key,
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(resetAudience),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return uuid.Nil, nil, fmt.Errorf("%w: %v", ErrInvalidResetToken, err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: bad subject", ErrInvalidResetToken)
	}
	return id, claims, nil
}

// MatchesPassword reports whether the token was issued for the current hash.
func (c *ResetClaims) MatchesPassword(passwordHash []byte) bool {
	want := PasswordFingerprint(passwordHash)
	return subtle.ConstantTimeCompare([]byte(c.Fingerprint), []byte(want)) == 1
}
