package models

import (
	"time"

	"github.com/google/uuid"
)

// CompletionFunc receives the terminal outcome of a queued entry. Exactly one of result and
// err is non-nil.
type CompletionFunc func(entry *QueueEntry, result *TimestampResult, err error)

// QueueEntry wraps a validated request while it waits for dispatch capacity.
type QueueEntry struct {
	ID             string
	Request        *TimestampRequest
	TenantID       string
	IdempotencyKey string
	EnqueuedAt     time.Time
	Attempts       int
	State          RequestState

	onComplete CompletionFunc
}

// NewQueueEntry creates an entry in the Admitted state.
func NewQueueEntry(req *TimestampRequest, idempotencyKey string, onComplete CompletionFunc) *QueueEntry {
	return &QueueEntry{
		ID:             uuid.NewString(),
		Request:        req,
		TenantID:       req.TenantID(),
		IdempotencyKey: idempotencyKey,
		State:          StateAdmitted,
		onComplete:     onComplete,
	}
}

// Expired reports whether the entry has waited longer than ttl.
func (e *QueueEntry) Expired(now time.Time, ttl time.Duration) bool {
	return !e.EnqueuedAt.IsZero() && now.Sub(e.EnqueuedAt) > ttl
}

// Complete delivers the terminal outcome to the completion callback, if any.
func (e *QueueEntry) Complete(result *TimestampResult, err error) {
	if e.onComplete != nil {
		e.onComplete(e, result, err)
	}
}
