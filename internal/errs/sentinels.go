// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadySigned indicates an attempt to set signature data on an
	// invite that already carries a certificate.
	ErrAlreadySigned = errors.New("already signed")

	// ErrSigningClosed indicates the sign gate denied the operation
	// (signed, revoked or expired invite).
	ErrSigningClosed = errors.New("signing closed")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")
)
