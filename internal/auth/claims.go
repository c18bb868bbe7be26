package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultPageTokenTTL applies when the configured TTL is not positive.
const DefaultPageTokenTTL = 60 * time.Minute

// PageClaims extends the registered claims with the page's origin.
type PageClaims struct {
	jwt.RegisteredClaims
	Origin string `json:"origin,omitempty"`
}

// PageID returns the page identifier carried in the subject.
func (c *PageClaims) PageID() string {
	return c.Subject
}

// GeneratePageToken creates a signed token for a new page. It returns the
// token and the page ID it was minted for.
func GeneratePageToken(origin, secret string, ttlMinutes int) (token, pageID string, err error) {
	if secret == "" {
		return "", "", ErrSecretMissing
	}

	ttl := time.Duration(ttlMinutes) * time.Minute
	if ttl <= 0 {
		ttl = DefaultPageTokenTTL
	}

	now := time.Now()
	pageID = uuid.NewString()
	claims := PageClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   pageID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Origin: origin,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", "", fmt.Errorf("signing page token: %w", err)
	}
	return signed, pageID, nil
}

// ParsePageToken validates signature and expiry and returns the claims.
// The subject must be a UUID.
func ParsePageToken(tokenString, secret string) (*PageClaims, error) {
	if secret == "" {
		return nil, ErrSecretMissing
	}

	token, err := jwt.ParseWithClaims(tokenString, &PageClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*PageClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("%w: subject is not a page id", ErrTokenInvalid)
	}

	return claims, nil
}
