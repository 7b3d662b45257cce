package models

import (
	"time"

	"github.com/google/uuid"
)

// BillingEventOutcome records what a reconciliation handler did with an event.
type BillingEventOutcome string

const (
	OutcomeApplied BillingEventOutcome = "applied"
	OutcomeSkipped BillingEventOutcome = "skipped"
	OutcomeIgnored BillingEventOutcome = "ignored"
)

// BillingEvent is the audit row written for every verified webhook delivery
// that reached the dispatcher. It backs the Redis dedupe layer with a durable
// record and feeds the admin dashboard.
type BillingEvent struct {
	ID        uuid.UUID           `json:"id" db:"id"`
	EventID   string              `json:"event_id" db:"event_id"`
	EventType string              `json:"event_type" db:"event_type"`
	UserID    *uuid.UUID          `json:"user_id" db:"user_id"`
	Outcome   BillingEventOutcome `json:"outcome" db:"outcome"`
	Detail    *string             `json:"detail" db:"detail"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
}
