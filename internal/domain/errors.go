package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownTier    = errors.New("unknown tier")
	ErrAlreadyClaimed = errors.New("job already claimed")
	ErrJobTerminal    = errors.New("job already terminal")
)
