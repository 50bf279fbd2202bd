package guildmodels

import "errors"

//Error classes shared by the engine, the storage backends and the platform adapter. Concrete errors wrap one of
//these with %w so callers can branch with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnresolvedReference = errors.New("unresolved reference")
	ErrMissingRequirement  = errors.New("missing requirement")
	ErrMissingPermissions  = errors.New("missing permissions")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)
