package orchestrator

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrAlreadyConnected     = errors.New("session already connected")
	ErrRateLimited          = errors.New("rate limit exceeded")
)
