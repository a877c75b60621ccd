package model

import (
	"errors"
	"fmt"
)

var (
	// ErrDiscovery indicates a migration source could not be listed
	ErrDiscovery = errors.New("migration discovery failed")

	// ErrFormat indicates a filename whose key cannot be parsed
	ErrFormat = errors.New("invalid migration filename")

	// ErrApplication indicates a migration failed while being applied
	ErrApplication = errors.New("migration application failed")

	// ErrAlreadyInitialized indicates bootstrap found an existing watermark
	ErrAlreadyInitialized = errors.New("migration watermark already initialized")

	// ErrNotInitialized indicates a run was attempted before bootstrap
	ErrNotInitialized = errors.New("migration watermark not initialized")

	// ErrUnknownSource indicates a source name that is not configured
	ErrUnknownSource = errors.New("unknown migration source")
)

// DiscoveryError wraps a listing failure other than a missing directory
type DiscoveryError struct {
	Source string
	Path   string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovering migrations for %s in %s: %v", e.Source, e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Is matches ErrDiscovery as well as the wrapped error
func (e *DiscoveryError) Is(target error) bool {
	return target == ErrDiscovery
}

// FormatError reports a filename whose date or counter cannot be parsed
type FormatError struct {
	Filename string
	Reason   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid migration filename %q: %s", e.Filename, e.Reason)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// ApplicationError names the migration that failed. The owning source's
// watermark is left at the last migration that succeeded.
type ApplicationError struct {
	Source   string
	Filename string
	Err      error
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("migration %s (%s) failed: %v", e.Filename, e.Source, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

func (e *ApplicationError) Is(target error) bool {
	return target == ErrApplication
}

// AlreadyInitializedError is returned by bootstrap when a watermark for
// Service already exists.
type AlreadyInitializedError struct {
	Service string
}

func (e *AlreadyInitializedError) Error() string {
	return fmt.Sprintf("watermark for %s already exists", e.Service)
}

func (e *AlreadyInitializedError) Is(target error) bool {
	return target == ErrAlreadyInitialized
}
