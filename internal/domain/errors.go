package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyTerminal     = errors.New("job already terminal")
	ErrExternalIDConflict  = errors.New("job already bound to a different external request")
	ErrInvalidTransition   = errors.New("invalid job transition")
	ErrInvalidJob          = errors.New("invalid job")
)
