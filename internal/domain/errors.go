package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrLockHeld           = errors.New("lock already held")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrFeedAuthFailed     = errors.New("feed authentication failed")
	ErrFeedTransport      = errors.New("feed transport error")
	ErrFeedExhausted      = errors.New("feed reconnect attempts exhausted")
	ErrMalformedTick      = errors.New("malformed tick")
	ErrDispatchFailed     = errors.New("dispatch failed")
	ErrInvalidPosition    = errors.New("invalid position")
	ErrMalformedRecord    = errors.New("malformed position record")
	ErrInvalidSignal      = errors.New("invalid signal")
)
