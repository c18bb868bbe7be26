package auth

import "errors"

var (
	// ErrTokenInvalid covers bad signatures, expiry, and missing claims.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrSecretMissing is returned when signing or verifying without a secret.
	ErrSecretMissing = errors.New("auth: signing secret not configured")
)
