package domain

import "errors"

var (
	ErrGatheringNotFound = errors.New("gathering not found")
	ErrGatheringClosed   = errors.New("gathering is closed")
	ErrGatheringFull     = errors.New("gathering is full") // waitlist limit reached
	ErrDropNotFound      = errors.New("drop not found")

	ErrPassNotFound   = errors.New("pass not found")
	ErrAlreadyClaimed = errors.New("pass already claimed")

	ErrForbidden         = errors.New("forbidden")
	ErrAccountRestricted = errors.New("account restricted")

	ErrCacheMiss              = errors.New("cache miss")
	ErrIdempotencyKeyMismatch = errors.New("idempotency key reused with a different request")
)
