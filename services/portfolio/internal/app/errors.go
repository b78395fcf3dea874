package app

import "errors"

var (
	// ErrInvalidInput is wrapped by every request validation failure; the
	// wrapped message is safe to show to end users.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials is returned for any failed sign-in.
	// This message is shown to end users and must not enable account enumeration.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUnauthorized covers missing, invalid and expired tokens and tokens
	// whose account has no local profile.
	ErrUnauthorized = errors.New("unauthorized")

	ErrNotFound = errors.New("not found")

	ErrFileTooLarge         = errors.New("file too large")
	ErrUnsupportedMediaType = errors.New("unsupported file type")
)
