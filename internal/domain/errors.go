package domain

import "errors"

var (
	// ErrInvalidPayload rejects a snapshot whose code payload is empty in
	// both the single-file and multi-file shapes.
	ErrInvalidPayload = errors.New("code payload is empty")

	// ErrAlreadyRunning rejects a run request while an execution record
	// for the same automation is still running. Requests fail fast; they
	// are never queued.
	ErrAlreadyRunning = errors.New("automation already has a running execution")

	// ErrConcurrentModification rejects a write carrying a stale
	// doc_version fence. The caller must re-read and retry.
	ErrConcurrentModification = errors.New("stale document version")

	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
)
