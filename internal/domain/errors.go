package domain

import "github.com/cockroachdb/errors"

// Sentinel errors. Wrap with errors.Wrap to add context; test with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("resource conflict")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrDelivery            = errors.New("delivery failed")
)

// Validationf returns an ErrValidation carrying a caller-facing message.
func Validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}
