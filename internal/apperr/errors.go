// Package apperr defines the error taxonomy shared by the stores and the
// matching pipeline. Store operations surface Validation, Dimension and
// NotFound errors synchronously; everything else stays inside the pipeline
// and is logged, retried or skipped there.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks.
var (
	ErrValidation       = errors.New("validation failed")
	ErrDimension        = errors.New("embedding dimension mismatch")
	ErrNotFound         = errors.New("not found")
	ErrIndexUnavailable = errors.New("similarity index unavailable")
	ErrDispatchFailure  = errors.New("notification dispatch failed")
	ErrScoring          = errors.New("candidate scoring failed")
)

// Validationf returns a validation error with a formatted detail message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Dimensionf returns a dimension error describing the expected and actual
// vector lengths.
func Dimensionf(want, got int) error {
	return fmt.Errorf("%w: want %d components, got %d", ErrDimension, want, got)
}

// NotFoundf returns a not-found error naming the missing entity.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IndexUnavailable wraps an index error so callers can defer and retry the
// trigger instead of dropping it.
func IndexUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
}

// Dispatch wraps a delivery error.
func Dispatch(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrDispatchFailure, err)
}

// Scoringf returns a per-candidate scoring error. These are isolated by the
// matching engine and never abort the rest of the candidate set.
func Scoringf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrScoring, fmt.Sprintf(format, args...))
}
