package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusFromStripe(t *testing.T) {
	cases := []struct {
		stripeStatus string
		expected     SubscriptionStatus
	}{
		{"active", StatusActive},
		{"trialing", StatusTrialing},
		{"past_due", StatusPastDue},
		{"unpaid", StatusPastDue},
		{"canceled", StatusCancelled},
		{"incomplete_expired", StatusCancelled},
		{"incomplete", StatusNone},
		{"paused", StatusNone},
		{"", StatusNone},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, StatusFromStripe(tc.stripeStatus), "status %q", tc.stripeStatus)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusPastDue.Terminal())
	assert.False(t, StatusNone.Terminal())
}

func TestStatusReactivating(t *testing.T) {
	assert.True(t, StatusActive.Reactivating())
	assert.True(t, StatusTrialing.Reactivating())
	assert.False(t, StatusPastDue.Reactivating())
	assert.False(t, StatusCancelled.Reactivating())
}

func TestSubscriptionUpdateIsZero(t *testing.T) {
	assert.True(t, (&SubscriptionUpdate{}).IsZero())

	status := StatusActive
	assert.False(t, (&SubscriptionUpdate{Status: &status}).IsZero())

	now := time.Now()
	assert.False(t, (&SubscriptionUpdate{LastPaymentDate: &now}).IsZero())
	assert.False(t, (&SubscriptionUpdate{ClearTrialEnd: true}).IsZero())
}

func TestAvailablePlansIsACopy(t *testing.T) {
	plans := AvailablePlans()
	assert.Contains(t, plans, "basic")
	assert.Contains(t, plans, "pro")
	assert.Contains(t, plans, "elite")

	delete(plans, "pro")
	assert.Contains(t, AvailablePlans(), "pro")
}
