package state

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

func notFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// TypeMismatchError rejects a write whose value kind differs from the kind of
// the existing value at the target path. The original value is left unchanged.
type TypeMismatchError struct {
	Path    string
	Current any
	Given   any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch at %s: have %s (%v), got %s (%v)",
		e.Path, kindOf(e.Current), e.Current, kindOf(e.Given), e.Given)
}

// ConflictError reports a duplicate instance_id detected at write time.
// Uniqueness across the whole experience is enforced here so that resolver
// lookups are never ambiguous.
type ConflictError struct {
	InstanceID   string
	ExistingPath string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("instance_id %q already exists at %s", e.InstanceID, e.ExistingPath)
}
