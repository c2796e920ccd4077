package errs

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrNotEligible       = errors.New("not eligible")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrDuplicate         = errors.New("duplicate record")
	ErrInUse             = errors.New("still referenced")
	ErrPersistence       = errors.New("persistence failure")
)
