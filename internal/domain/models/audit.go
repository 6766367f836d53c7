package models

import (
	"time"

	"github.com/google/uuid"
)

// IssuanceOutcome names how a sign request ended.
type IssuanceOutcome string

const (
	OutcomeIssued    IssuanceOutcome = "issued"
	OutcomeQueued    IssuanceOutcome = "queued"
	OutcomeExhausted IssuanceOutcome = "exhausted"
	OutcomeRejected  IssuanceOutcome = "rejected"
	OutcomeExpired   IssuanceOutcome = "expired"
	OutcomeQueueFull IssuanceOutcome = "queue_full"
	OutcomeReplayed  IssuanceOutcome = "replayed"
	OutcomeError     IssuanceOutcome = "error"
)

// IssuanceEvent is the audit record published for each sign outcome.
type IssuanceEvent struct {
	EventID    string          `json:"event_id"`
	RequestID  string          `json:"request_id,omitempty"`
	TenantID   string          `json:"tenant_id"`
	Outcome    IssuanceOutcome `json:"outcome"`
	ProviderID string          `json:"tsa_id,omitempty"`
	HashAlg    string          `json:"hash_alg,omitempty"`
	PolicyOID  string          `json:"policy_oid,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Attempts   int             `json:"attempts,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewIssuanceEvent creates an event stamped with a fresh id and the current time.
func NewIssuanceEvent(tenantID string, outcome IssuanceOutcome) *IssuanceEvent {
	return &IssuanceEvent{
		EventID:   uuid.NewString(),
		TenantID:  tenantID,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	}
}
