package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrTokenNotFound       = errors.New("refresh token not found")
	ErrTokenExpired        = errors.New("refresh token is expired")
	ErrTokenAlreadyRevoked = errors.New("refresh token is revoked already")

	// Returned when an already rotated token is presented again.
	// By the time the caller sees it every token of the owning user is revoked.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	// Transient: a racing rotation or revocation won the row. Safe to retry.
	ErrConcurrentModification = errors.New("token was modified concurrently")

	// Too many attempts from one client inside the window
	ErrRateLimited = errors.New("rate limit exceeded")
)
