package apperrors

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidFilter = errors.New("invalid filter")
	ErrNoRange       = errors.New("no usable numeric range")
)
