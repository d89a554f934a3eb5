package core

import "errors"

var (
	// ErrKeyNotFound is returned by KVStore implementations for missing keys.
	ErrKeyNotFound = errors.New("key not found")

	// ErrStorageUnavailable wraps any failure of the local storage engine.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrNotFound means the record does not exist (or is tombstoned).
	ErrNotFound = errors.New("record not found")

	// ErrNotFoundLocally means the record could not be served from the local
	// cache while the remote was unreachable.
	ErrNotFoundLocally = errors.New("record not found in local cache")

	// ErrDuplicateCreate is returned when a second Create is queued for a target.
	ErrDuplicateCreate = errors.New("create already queued for target")

	// ErrRemoteTransient marks a remote failure that may succeed on retry.
	ErrRemoteTransient = errors.New("transient remote failure")

	// ErrRemotePermanent marks a remote rejection that retrying cannot fix.
	ErrRemotePermanent = errors.New("remote rejected operation")

	// ErrRemoteNotFound is returned by Remote implementations for missing documents.
	ErrRemoteNotFound = errors.New("remote document not found")

	// ErrUnknownIndex is returned when listing by an index the collection does not declare.
	ErrUnknownIndex = errors.New("unknown index")

	// ErrDrainInProgress is returned when a drain is requested while one is running.
	ErrDrainInProgress = errors.New("drain already in progress")

	// ErrOffline is returned by operations that require connectivity.
	ErrOffline = errors.New("offline")

	// ErrClosed is returned after the owning component has been closed.
	ErrClosed = errors.New("closed")

	// ErrInvalidArgument is returned for empty collection names, ids and similar.
	ErrInvalidArgument = errors.New("invalid argument")
)
