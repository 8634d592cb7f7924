package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrNoPublishedSchema = errors.New("no published schema")
	ErrInvalidInput      = errors.New("invalid input")
)

// RegistryError reports that no node in a classifier chain has a published schema.
type RegistryError struct {
	NodeID int64
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("no published schema found for node %d", e.NodeID)
}

// Unwrap lets callers match with errors.Is(err, ErrNoPublishedSchema).
func (e *RegistryError) Unwrap() error {
	return ErrNoPublishedSchema
}

// SchemaValidationError carries one message per violated schema constraint,
// each formatted as "<dot.path|root>: <reason>".
type SchemaValidationError struct {
	Errors []string
}

func (e *SchemaValidationError) Error() string {
	return strings.Join(e.Errors, "; ")
}

// LifecycleValidationError carries one message per violated lifecycle rule.
type LifecycleValidationError struct {
	Errors []string
}

func (e *LifecycleValidationError) Error() string {
	return strings.Join(e.Errors, "; ")
}

// ValidationMessages extracts the violation list from a schema or lifecycle
// validation error. Returns nil for any other error.
func ValidationMessages(err error) []string {
	var schemaErr *SchemaValidationError
	if errors.As(err, &schemaErr) {
		return schemaErr.Errors
	}
	var lifecycleErr *LifecycleValidationError
	if errors.As(err, &lifecycleErr) {
		return lifecycleErr.Errors
	}
	return nil
}
