package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"fitforge/internal/caching"
	"fitforge/internal/models"
	"fitforge/internal/repositories"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	stripe "github.com/stripe/stripe-go/v82"
)

// Event payloads are decoded once here, at the dispatcher boundary, into
// lightweight structs instead of picking loosely-typed fields off the raw
// JSON inside each handler. Expandable references (customer, subscription)
// arrive as plain id strings in webhook deliveries.
type checkoutSessionPayload struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type subscriptionPayload struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	TrialEnd int64             `json:"trial_end"`
	Metadata map[string]string `json:"metadata"`
}

type invoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

type customerPayload struct {
	ID string `json:"id"`
}

// ReconcilerService applies verified processor events to the subscription
// state store. ProcessEvent returns an error only for failures the transport
// should surface as a 500 so the processor redelivers; correlation misses are
// logged, audited and swallowed.
type ReconcilerService interface {
	ProcessEvent(ctx context.Context, event *stripe.Event) (*models.BillingEvent, error)
}

type reconcilerService struct {
	subscriptionRepo repositories.SubscriptionRepository
	eventRepo        repositories.BillingEventRepository
	processor        ProcessorService
	cacheSvc         caching.CacheService
	now              func() time.Time
}

// NewReconcilerService creates a new ReconcilerService instance.
func NewReconcilerService(
	subscriptionRepo repositories.SubscriptionRepository,
	eventRepo repositories.BillingEventRepository,
	processor ProcessorService,
	cacheSvc caching.CacheService,
) ReconcilerService {
	return &reconcilerService{
		subscriptionRepo: subscriptionRepo,
		eventRepo:        eventRepo,
		processor:        processor,
		cacheSvc:         cacheSvc,
		now:              time.Now,
	}
}

// applyResult is what a single handler produced: the affected user (if any),
// the audit outcome, and a short detail string for the audit row.
type applyResult struct {
	userID  *uuid.UUID
	outcome models.BillingEventOutcome
	detail  string
}

func (s *reconcilerService) ProcessEvent(ctx context.Context, event *stripe.Event) (*models.BillingEvent, error) {
	result, err := s.dispatch(ctx, event)
	if err != nil {
		return nil, err
	}

	audit := &models.BillingEvent{
		ID:        uuid.New(),
		EventID:   event.ID,
		EventType: string(event.Type),
		UserID:    result.userID,
		Outcome:   result.outcome,
	}
	if result.detail != "" {
		detail := result.detail
		audit.Detail = &detail
	}
	if err := s.eventRepo.Record(ctx, audit); err != nil {
		return nil, fmt.Errorf("record billing event: %w", err)
	}

	if result.outcome == models.OutcomeApplied && result.userID != nil {
		if cacheErr := s.cacheSvc.DeleteSubscription(ctx, *result.userID); cacheErr != nil {
			log.Printf("WARN: failed to invalidate subscription cache for %s: %v", *result.userID, cacheErr)
		}
	}

	return audit, nil
}

func (s *reconcilerService) dispatch(ctx context.Context, event *stripe.Event) (*applyResult, error) {
	switch event.Type {
	case "checkout.session.completed":
		var session checkoutSessionPayload
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		return s.handleCheckoutCompleted(ctx, event, session)

	case "customer.subscription.created":
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return s.handleSubscriptionCreated(ctx, event, sub)

	case "customer.subscription.updated":
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return s.handleSubscriptionUpdated(ctx, event, sub)

	case "customer.subscription.deleted":
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return s.handleSubscriptionDeleted(ctx, event, sub)

	case "invoice.payment_succeeded":
		var invoice invoicePayload
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		return s.handleInvoicePaymentSucceeded(ctx, event, invoice)

	case "invoice.payment_failed":
		var invoice invoicePayload
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		return s.handleInvoicePaymentFailed(ctx, event, invoice)

	case "customer.created":
		var cust customerPayload
		if err := json.Unmarshal(event.Data.Raw, &cust); err != nil {
			return nil, fmt.Errorf("decode customer: %w", err)
		}
		log.Printf("New processor customer created: %s", cust.ID)
		return &applyResult{outcome: models.OutcomeIgnored, detail: "customer created, no state change"}, nil

	case "invoice.upcoming":
		log.Printf("Upcoming invoice notification (event %s)", event.ID)
		return &applyResult{outcome: models.OutcomeIgnored, detail: "upcoming invoice, no state change"}, nil

	default:
		// Unknown and future event types must succeed, or the processor
		// retries them forever.
		log.Printf("Ignoring unhandled event type %q (event %s)", event.Type, event.ID)
		return &applyResult{outcome: models.OutcomeIgnored, detail: "unhandled event type"}, nil
	}
}

// eventTime anchors all handler-written timestamps to the event's own
// creation time, so redelivered events write identical values.
func (s *reconcilerService) eventTime(event *stripe.Event) time.Time {
	if event.Created > 0 {
		return time.Unix(event.Created, 0).UTC()
	}
	return s.now().UTC()
}

func (s *reconcilerService) handleCheckoutCompleted(ctx context.Context, event *stripe.Event, session checkoutSessionPayload) (*applyResult, error) {
	userID, ok := userIDFromMetadata(session.Metadata)
	if !ok {
		log.Printf("checkout.session.completed %s: no userId metadata, skipping", session.ID)
		return &applyResult{outcome: models.OutcomeSkipped, detail: "missing userId metadata"}, nil
	}

	now := s.eventTime(event)
	status := models.StatusActive
	planType := planTypeFromMetadata(session.Metadata)

	update := &models.SubscriptionUpdate{
		Status:                &status,
		PlanType:              &planType,
		SubscriptionStartDate: &now,
	}
	if session.Customer != "" {
		update.CustomerID = &session.Customer
	}
	if session.Subscription != "" {
		update.SubscriptionID = &session.Subscription
		update.ClearTrialEnd = true
	} else {
		trialEnd := now.Add(trialPeriodDays * 24 * time.Hour)
		update.TrialEnd = &trialEnd
	}

	if err := s.subscriptionRepo.Upsert(ctx, userID, update); err != nil {
		return nil, fmt.Errorf("apply checkout completion: %w", err)
	}
	return &applyResult{userID: &userID, outcome: models.OutcomeApplied, detail: "checkout completed"}, nil
}

func (s *reconcilerService) handleSubscriptionCreated(ctx context.Context, event *stripe.Event, sub subscriptionPayload) (*applyResult, error) {
	userID, ok := userIDFromMetadata(sub.Metadata)
	if !ok {
		log.Printf("customer.subscription.created %s: no userId metadata, skipping", sub.ID)
		return &applyResult{outcome: models.OutcomeSkipped, detail: "missing userId metadata"}, nil
	}

	status := models.StatusFromStripe(sub.Status)
	if stale, err := s.staleForTerminalRecord(ctx, userID, status); err != nil {
		return nil, err
	} else if stale {
		return skippedStale(userID, sub.ID), nil
	}

	planType := planTypeFromMetadata(sub.Metadata)
	update := &models.SubscriptionUpdate{
		Status:         &status,
		SubscriptionID: &sub.ID,
		PlanType:       &planType,
	}
	applyTrialEnd(update, sub.TrialEnd)

	if err := s.subscriptionRepo.Upsert(ctx, userID, update); err != nil {
		return nil, fmt.Errorf("apply subscription creation: %w", err)
	}
	return &applyResult{userID: &userID, outcome: models.OutcomeApplied, detail: "subscription created"}, nil
}

func (s *reconcilerService) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event, sub subscriptionPayload) (*applyResult, error) {
	userID, ok := userIDFromMetadata(sub.Metadata)
	if !ok {
		log.Printf("customer.subscription.updated %s: no userId metadata, skipping", sub.ID)
		return &applyResult{outcome: models.OutcomeSkipped, detail: "missing userId metadata"}, nil
	}

	status := models.StatusFromStripe(sub.Status)
	if stale, err := s.staleForTerminalRecord(ctx, userID, status); err != nil {
		return nil, err
	} else if stale {
		return skippedStale(userID, sub.ID), nil
	}

	planType := planTypeFromMetadata(sub.Metadata)
	update := &models.SubscriptionUpdate{
		Status:   &status,
		PlanType: &planType,
	}
	applyTrialEnd(update, sub.TrialEnd)

	if err := s.subscriptionRepo.Upsert(ctx, userID, update); err != nil {
		return nil, fmt.Errorf("apply subscription update: %w", err)
	}
	return &applyResult{userID: &userID, outcome: models.OutcomeApplied, detail: "subscription updated"}, nil
}

func (s *reconcilerService) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event, sub subscriptionPayload) (*applyResult, error) {
	userID, ok := userIDFromMetadata(sub.Metadata)
	if !ok {
		log.Printf("customer.subscription.deleted %s: no userId metadata, skipping", sub.ID)
		return &applyResult{outcome: models.OutcomeSkipped, detail: "missing userId metadata"}, nil
	}

	status := models.StatusCancelled
	endDate := s.eventTime(event)
	// subscription_id is kept on the record for audit; cancellation is a
	// status value, not removal.
	update := &models.SubscriptionUpdate{
		Status:              &status,
		SubscriptionEndDate: &endDate,
	}

	if err := s.subscriptionRepo.Upsert(ctx, userID, update); err != nil {
		return nil, fmt.Errorf("apply subscription deletion: %w", err)
	}
	return &applyResult{userID: &userID, outcome: models.OutcomeApplied, detail: "subscription cancelled"}, nil
}

func (s *reconcilerService) handleInvoicePaymentSucceeded(ctx context.Context, event *stripe.Event, invoice invoicePayload) (*applyResult, error) {
	userID, result := s.resolveInvoiceUser(ctx, invoice)
	if result != nil {
		return result, nil
	}

	// Invoice events never reactivate a cancelled record; a late payment
	// confirmation for a since-deleted subscription is stale.
	if terminal, err := s.recordIsTerminal(ctx, userID); err != nil {
		return nil, err
	} else if terminal {
		return skippedStale(userID, invoice.Subscription), nil
	}

	status := models.StatusActive
	paidAt := s.eventTime(event)
	// lastFailedPayment is deliberately left in place on recovery as a
	// visible trace of past billing trouble.
	update := &models.SubscriptionUpdate{
		Status:          &status,
		LastPaymentDate: &paidAt,
	}

	if err := s.subscriptionRepo.Upsert(ctx, userID, update); err != nil {
		return nil, fmt.Errorf("apply invoice payment: %w", err)
	}
	return &applyResult{userID: &userID, outcome: models.OutcomeApplied, detail: "invoice paid"}, nil
}

func (s *reconcilerService) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event, invoice invoicePayload) (*applyResult, error) {
	userID, result := s.resolveInvoiceUser(ctx, invoice)
	if result != nil {
		return result, nil
	}

	if terminal, err := s.recordIsTerminal(ctx, userID); err != nil {
		return nil, err
	} else if terminal {
		return skippedStale(userID, invoice.Subscription), nil
	}

	status := models.StatusPastDue
	failedAt := s.eventTime(event)
	update := &models.SubscriptionUpdate{
		Status:            &status,
		LastFailedPayment: &failedAt,
	}

	if err := s.subscriptionRepo.Upsert(ctx, userID, update); err != nil {
		return nil, fmt.Errorf("apply invoice failure: %w", err)
	}
	return &applyResult{userID: &userID, outcome: models.OutcomeApplied, detail: "invoice payment failed"}, nil
}

// resolveInvoiceUser maps an invoice to a user by fetching its subscription
// from the processor: invoices only carry a subscription reference, never
// user metadata. Any failure along the way is a correlation miss, not a
// transport failure; retrying a lookup that errored deterministically would
// block the processor's delivery stream for nothing.
func (s *reconcilerService) resolveInvoiceUser(ctx context.Context, invoice invoicePayload) (uuid.UUID, *applyResult) {
	if invoice.Subscription == "" {
		log.Printf("invoice %s: no subscription reference, skipping", invoice.ID)
		return uuid.Nil, &applyResult{outcome: models.OutcomeSkipped, detail: "invoice without subscription"}
	}

	rawUserID, err := s.processor.SubscriptionUserID(ctx, invoice.Subscription)
	if err != nil {
		log.Printf("invoice %s: subscription %s lookup failed: %v", invoice.ID, invoice.Subscription, err)
		return uuid.Nil, &applyResult{outcome: models.OutcomeSkipped, detail: "subscription lookup failed"}
	}

	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		log.Printf("invoice %s: subscription %s has no usable userId metadata", invoice.ID, invoice.Subscription)
		return uuid.Nil, &applyResult{outcome: models.OutcomeSkipped, detail: "missing userId metadata"}
	}

	return userID, nil
}

// staleForTerminalRecord guards against out-of-order redelivery: once a
// record is cancelled, only an event that itself reactivates the subscription
// may change its status again.
func (s *reconcilerService) staleForTerminalRecord(ctx context.Context, userID uuid.UUID, incoming models.SubscriptionStatus) (bool, error) {
	if incoming.Reactivating() {
		return false, nil
	}
	return s.recordIsTerminal(ctx, userID)
}

func (s *reconcilerService) recordIsTerminal(ctx context.Context, userID uuid.UUID) (bool, error) {
	record, err := s.subscriptionRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load subscription record: %w", err)
	}
	return record.Status.Terminal(), nil
}

func skippedStale(userID uuid.UUID, objectID string) *applyResult {
	log.Printf("stale event for cancelled record of user %s (object %s), skipping", userID, objectID)
	return &applyResult{userID: &userID, outcome: models.OutcomeSkipped, detail: "stale event for cancelled record"}
}

func userIDFromMetadata(metadata map[string]string) (uuid.UUID, bool) {
	raw, ok := metadata["userId"]
	if !ok || raw == "" {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

func planTypeFromMetadata(metadata map[string]string) string {
	if plan, ok := metadata["planType"]; ok && plan != "" {
		return plan
	}
	return models.DefaultPlanType
}

func applyTrialEnd(update *models.SubscriptionUpdate, trialEnd int64) {
	if trialEnd > 0 {
		t := time.Unix(trialEnd, 0).UTC()
		update.TrialEnd = &t
	} else {
		update.ClearTrialEnd = true
	}
}
