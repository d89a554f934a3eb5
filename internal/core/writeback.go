package core

import (
	"context"
	"time"
)

// OperationType represents the kind of queued mutation.
type OperationType string

const (
	// OperationCreate creates a document on the remote.
	OperationCreate OperationType = "CREATE"

	// OperationUpdate applies a partial patch to a remote document.
	OperationUpdate OperationType = "UPDATE"

	// OperationDelete removes a remote document.
	OperationDelete OperationType = "DELETE"
)

// Valid reports whether t is one of the known operation types.
func (t OperationType) Valid() bool {
	switch t {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// EntryStatus is the lifecycle state of a queue entry.
// Succeeded entries are deleted, so there is no succeeded status.
type EntryStatus string

const (
	StatusPending EntryStatus = "PENDING"
	StatusFailed  EntryStatus = "FAILED"
)

// QueueEntry is one durable unit of pending work for the remote.
type QueueEntry struct {
	// ID is a monotonically increasing sequence number. Insertion order is
	// processing order.
	ID uint64 `json:"id"`

	// Kind is the type of operation (CREATE, UPDATE, DELETE).
	Kind OperationType `json:"kind"`

	// Collection and TargetID identify the document the entry applies to.
	Collection string `json:"collection"`
	TargetID   string `json:"target_id"`

	// Payload is the full document for CREATE, the patch for UPDATE and
	// empty for DELETE.
	Payload *Fields `json:"payload,omitempty"`

	// EnqueuedAt is when the operation was originally performed.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// RetryCount tracks how many times this entry has failed.
	RetryCount int `json:"retry_count"`

	Status EntryStatus `json:"status"`

	// LastError is set once the entry is Failed.
	LastError string `json:"last_error,omitempty"`

	// NextAttemptAt gates scheduled drains while the entry backs off.
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`

	// IdempotencyKey is sent with CREATE so a replayed create is not duplicated.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// TargetKey returns the "{collection}/{targetId}" identity of the entry's target.
func (e *QueueEntry) TargetKey() string {
	return e.Collection + "/" + e.TargetID
}

// DrainError describes one entry that failed during a drain pass.
type DrainError struct {
	EntryID    uint64        `json:"entry_id"`
	Kind       OperationType `json:"kind"`
	Collection string        `json:"collection"`
	TargetID   string        `json:"target_id"`
	Error      string        `json:"error"`
	Permanent  bool          `json:"permanent"`
}

// DrainReport summarizes one drain pass.
type DrainReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Forced     bool      `json:"forced"`

	// Succeeded entries were applied remotely and removed from the queue.
	Succeeded int `json:"succeeded"`

	// Retrying entries failed but remain Pending with a backoff.
	Retrying int `json:"retrying"`

	// Failed entries reached the retry limit or were rejected permanently.
	Failed int `json:"failed"`

	// Deferred entries were skipped because their target is blocked or backing off.
	Deferred int `json:"deferred"`

	// Remaining is the number of Pending entries after the pass.
	Remaining int `json:"remaining"`

	Errors []DrainError `json:"errors,omitempty"`
}

// DrainObserver is notified after every drain pass.
type DrainObserver interface {
	OnDrainComplete(ctx context.Context, report DrainReport)
}

// DrainObserverFunc adapts a function to DrainObserver.
type DrainObserverFunc func(ctx context.Context, report DrainReport)

// OnDrainComplete calls fn.
func (fn DrainObserverFunc) OnDrainComplete(ctx context.Context, report DrainReport) {
	fn(ctx, report)
}
