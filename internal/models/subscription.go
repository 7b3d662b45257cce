package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the lifecycle state of a user's subscription as
// maintained by the webhook reconciliation handlers. UI code only reads it.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	// StatusCancelled is terminal: late out-of-order events may not move a
	// record out of it unless they themselves reactivate the subscription.
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Terminal reports whether the status may only be left by a reactivating event.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusCancelled
}

// Reactivating reports whether an event carrying this status is allowed to
// overwrite a terminal record.
func (s SubscriptionStatus) Reactivating() bool {
	return s == StatusActive || s == StatusTrialing
}

// StatusFromStripe maps Stripe's subscription status vocabulary onto ours.
func StatusFromStripe(status string) SubscriptionStatus {
	switch status {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due", "unpaid":
		return StatusPastDue
	case "canceled", "incomplete_expired":
		return StatusCancelled
	default:
		return StatusNone
	}
}

const DefaultPlanType = "pro"

// Subscription is the per-user billing record reconciled from Stripe events.
// It is never hard-deleted; cancellation is a status value.
type Subscription struct {
	UserID                uuid.UUID          `json:"user_id" db:"user_id"`
	Status                SubscriptionStatus `json:"status" db:"status"`
	PlanType              string             `json:"plan_type" db:"plan_type"`
	CustomerID            *string            `json:"customer_id" db:"customer_id"`
	SubscriptionID        *string            `json:"subscription_id" db:"subscription_id"`
	SubscriptionStartDate *time.Time         `json:"subscription_start_date" db:"subscription_start_date"`
	SubscriptionEndDate   *time.Time         `json:"subscription_end_date" db:"subscription_end_date"`
	TrialEnd              *time.Time         `json:"trial_end" db:"trial_end"`
	LastPaymentDate       *time.Time         `json:"last_payment_date" db:"last_payment_date"`
	LastFailedPayment     *time.Time         `json:"last_failed_payment" db:"last_failed_payment"`
	CreatedAt             time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at" db:"updated_at"`
}

// SubscriptionUpdate is a partial update applied with merge semantics: nil
// fields leave the stored value untouched. ClearTrialEnd is the one explicit
// null-write the reconciliation handlers need (a paid subscription ends the
// trial outright).
type SubscriptionUpdate struct {
	Status                *SubscriptionStatus
	PlanType              *string
	CustomerID            *string
	SubscriptionID        *string
	SubscriptionStartDate *time.Time
	SubscriptionEndDate   *time.Time
	TrialEnd              *time.Time
	ClearTrialEnd         bool
	LastPaymentDate       *time.Time
	LastFailedPayment     *time.Time
}

// IsZero reports whether the update would write nothing.
func (u *SubscriptionUpdate) IsZero() bool {
	return u.Status == nil && u.PlanType == nil && u.CustomerID == nil &&
		u.SubscriptionID == nil && u.SubscriptionStartDate == nil &&
		u.SubscriptionEndDate == nil && u.TrialEnd == nil && !u.ClearTrialEnd &&
		u.LastPaymentDate == nil && u.LastFailedPayment == nil
}
