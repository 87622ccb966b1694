package fastcollection

import (
	"errors"
	"fmt"

	"github.com/ajsinha/fastcollection/internal/store"
)

// Sentinel errors returned by FastCollection operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, fastcollection.ErrNotFound) {
//	    // element absent or already expired
//	}
var (
	// ErrMemoryAllocationFailed indicates the heap could not satisfy an
	// allocation even after one grow attempt.
	//
	// Recovery: free space (Clear, RemoveExpired) or grow the backing file
	// out-of-band before retrying.
	ErrMemoryAllocationFailed = errors.New("fastcollection: memory allocation failed")

	// ErrFileCreationFailed indicates the backing file could not be
	// created or truncated to its initial size.
	ErrFileCreationFailed = errors.New("fastcollection: file creation failed")

	// ErrFileOpenFailed indicates an existing backing file could not be
	// opened, mapped, or validated (bad magic, version, or checksum).
	//
	// Recovery: delete and recreate the file if corruption is suspected.
	ErrFileOpenFailed = errors.New("fastcollection: file open failed")

	// ErrSerializationFailed indicates a value could not be encoded into
	// the record layout (for example, a payload exceeding the maximum
	// representable size).
	ErrSerializationFailed = errors.New("fastcollection: serialization failed")

	// ErrDeserializationFailed indicates a stored record's bytes could not
	// be decoded, usually signaling on-disk corruption.
	ErrDeserializationFailed = errors.New("fastcollection: deserialization failed")

	// ErrIndexOutOfBounds indicates a List index fell outside [0, size).
	ErrIndexOutOfBounds = errors.New("fastcollection: index out of bounds")

	// ErrKeyNotFound indicates a Map lookup found no live entry for the key.
	ErrKeyNotFound = errors.New("fastcollection: key not found")

	// ErrNotFound indicates a Set/Queue/Stack lookup found no matching
	// live element.
	ErrNotFound = errors.New("fastcollection: not found")

	// ErrCollectionFull indicates a bounded operation could not proceed
	// because the collection has reached a configured capacity limit.
	ErrCollectionFull = errors.New("fastcollection: collection full")

	// ErrLockTimeout indicates a blocking lock acquisition (interprocess
	// or polling) did not complete before its deadline.
	//
	// Recovery: retry with backoff, or diagnose a stuck holder.
	ErrLockTimeout = errors.New("fastcollection: lock timeout")

	// ErrInvalidArgument indicates a caller-supplied argument was invalid
	// (nil byte slice where one is required, negative TTL below -1, zero
	// capacity, etc). This is a programming error.
	ErrInvalidArgument = errors.New("fastcollection: invalid argument")

	// ErrInternalError indicates a consistency check inside the storage
	// substrate failed unexpectedly (corrupt link, bad state transition).
	// Recovery: treat the file as corrupt; delete and recreate.
	ErrInternalError = errors.New("fastcollection: internal error")

	// ErrTimeout indicates a blocking operation's deadline (Queue.Take,
	// Queue.Poll with timeout) elapsed with no element becoming available.
	ErrTimeout = errors.New("fastcollection: timeout")

	// ErrElementExpired indicates the requested element exists but its TTL
	// has elapsed; it is treated as absent by every read operation.
	ErrElementExpired = errors.New("fastcollection: element expired")

	// ErrClosed indicates the collection handle has already been closed.
	// This is a programming error.
	ErrClosed = errors.New("fastcollection: closed")
)

// translateStoreError maps a lower-level internal/store sentinel onto the
// public taxonomy above, preserving the original error via %w so
// [errors.Is] still matches both.
func translateStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrCorrupt):
		return fmt.Errorf("%w: %w", ErrFileOpenFailed, err)
	case errors.Is(err, store.ErrIncompatible):
		return fmt.Errorf("%w: %w", ErrFileOpenFailed, err)
	case errors.Is(err, store.ErrOutOfMemory):
		return fmt.Errorf("%w: %w", ErrMemoryAllocationFailed, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrInvalidArgument):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, store.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, store.ErrWouldBlock):
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrInternalError, err)
	}
}
