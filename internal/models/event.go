package models

import (
	"time"

	"github.com/google/uuid"
)

type AuthOutcome string

const (
	OutcomeAuthenticated AuthOutcome = "authenticated"
	OutcomeRejected      AuthOutcome = "rejected"
)

// AuthEvent is published to NATS for every terminal authentication attempt
// and persisted by the audit worker.
type AuthEvent struct {
	ID                  uuid.UUID   `json:"id" db:"id"`
	AttemptID           uuid.UUID   `json:"attempt_id" db:"attempt_id"`
	Method              string      `json:"method" db:"method"`
	Outcome             AuthOutcome `json:"outcome" db:"outcome"`
	Reason              string      `json:"reason,omitempty" db:"reason"`
	IdentityID          *string     `json:"identity_id,omitempty" db:"identity_id"`
	Distance            float64     `json:"distance" db:"distance"`
	Threshold           float64     `json:"threshold" db:"threshold"`
	Scanned             int         `json:"scanned" db:"scanned"`
	MismatchedRecordIDs []uuid.UUID `json:"mismatched_record_ids,omitempty" db:"-"`
	Timestamp           time.Time   `json:"timestamp" db:"timestamp"`
	CreatedAt           time.Time   `json:"created_at" db:"created_at"`
}
