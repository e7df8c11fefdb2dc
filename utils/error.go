package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

var (
	// ErrCacheUnavailable marks infrastructure faults of the cache backend.
	// It is logged and never returned to HTTP callers.
	ErrCacheUnavailable = errors.New("cache unavailable")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthorized     = errors.New("unauthorized")
)

// NotFoundError is a missing entity by id. errors.Is(err, ErrorRecordNotFound) holds.
type NotFoundError struct {
	Entity string
	ID     int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrorRecordNotFound
}

func NewNotFound(entity string, id int) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ValidationError carries field-keyed messages for a 422 response.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func NewValidationError(field, message string) error {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// ConflictError blocks a destructive operation because dependents exist.
type ConflictError struct {
	Reason         string
	DependentCount int64
}

func (e *ConflictError) Error() string {
	if e.DependentCount > 0 {
		return fmt.Sprintf("%s (%d)", e.Reason, e.DependentCount)
	}
	return e.Reason
}

// ConsistencyViolation means a Document's direction does not match the direction of
// its support process. It aborts the transaction.
type ConsistencyViolation struct {
	DocumentID         int
	DirectionID        int
	SupportProcessID   int
	ProcessDirectionID *int
}

func (e *ConsistencyViolation) Error() string {
	owner := "none"
	if e.ProcessDirectionID != nil {
		owner = fmt.Sprint(*e.ProcessDirectionID)
	}
	return fmt.Sprintf("direction %d does not own support process %d (owner: %s)", e.DirectionID, e.SupportProcessID, owner)
}
