package core

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by stores when an insert violates a uniqueness
	// constraint, i.e. a concurrent writer created the record first.
	ErrConflict = errors.New("conflict")
)
