package fileintegrity

import "errors"

var (
	// ErrCorruptedState is returned when a persisted State fails its integrity check.
	ErrCorruptedState = errors.New("corrupted state")

	// ErrStateNotFound is returned when the requested State number does not exist.
	ErrStateNotFound = errors.New("state not found")

	// ErrHashIncomplete is returned when a hash stream did not receive every byte
	// of its declared ranges. This indicates a range derivation defect.
	ErrHashIncomplete = errors.New("hash stream incomplete")

	// ErrQueueTimeout is returned when the scan queue stalls past its timeout.
	ErrQueueTimeout = errors.New("scan queue timeout")

	// ErrReconcileInvariant is returned when reconciliation leaves records unclassified.
	ErrReconcileInvariant = errors.New("reconciliation invariant violated")

	// ErrHashModeTooWeak is returned when an operation needs full hashing.
	ErrHashModeTooWeak = errors.New("hash mode too weak for operation")

	// ErrNotRepository is returned when no .fit directory can be found.
	ErrNotRepository = errors.New("not a fit repository")

	// ErrRepositoryExists is returned by Init on an already initialised root.
	ErrRepositoryExists = errors.New("repository already exists")
)
