package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

var (
	// ErrMediaSourceNotFound indicates the requested item has no matching media source.
	ErrMediaSourceNotFound = errors.New("media source not found")

	// ErrDeviceIDRequired indicates a session registry write without a device id.
	ErrDeviceIDRequired = errors.New("device_id is required")
)
