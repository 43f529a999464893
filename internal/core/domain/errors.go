package domain

import "errors"

var (
	ErrFetch           = errors.New("estimate fetch failed")
	ErrStream          = errors.New("change stream failed")
	ErrPolicyViolation = errors.New("event outside authorized scope")
	ErrCacheCorruption = errors.New("cache entry has unexpected type")
	ErrDisconnected    = errors.New("change stream disconnected")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrNoSession       = errors.New("no active session")
	ErrForbidden       = errors.New("access forbidden")
	ErrUserNotFound    = errors.New("user not found")
	ErrNotFound        = errors.New("not found")
)

var ErrInvalidToken = errors.New("invalid session token")
