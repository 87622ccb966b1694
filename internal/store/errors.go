package store

import "errors"

// Sentinel errors returned by the storage substrate. Containers wrap or
// re-export these as part of the public error taxonomy (see the root
// package's errors.go).
var (
	// ErrCorrupt indicates the file's header or directory failed validation.
	ErrCorrupt = errors.New("store: corrupt file")

	// ErrIncompatible indicates a format/version/shape mismatch on open.
	ErrIncompatible = errors.New("store: incompatible file")

	// ErrOutOfMemory indicates allocation failed even after growing the file.
	ErrOutOfMemory = errors.New("store: memory allocation failed")

	// ErrNotFound indicates a named region lookup found nothing.
	ErrNotFound = errors.New("store: region not found")

	// ErrInvalidArgument indicates a caller-supplied argument was invalid.
	ErrInvalidArgument = errors.New("store: invalid argument")

	// ErrClosed indicates an operation was attempted on a closed manager.
	ErrClosed = errors.New("store: closed")
)
