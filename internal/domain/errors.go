package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidRecord = errors.New("invalid source record")
	ErrLockHeld      = errors.New("lock already held")
	ErrNotConfigured = errors.New("not configured")
)
