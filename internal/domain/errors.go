package domain

import "errors"

var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrDuplicateJob   = errors.New("duplicate job")
	ErrCircuitOpen    = errors.New("circuit open")
	ErrInfrastructure = errors.New("infrastructure error")
)
