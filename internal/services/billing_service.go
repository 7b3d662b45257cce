package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fitforge/internal/caching"
	"fitforge/internal/models"
	"fitforge/internal/repositories"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	trialPeriodDays      = 14
	subscriptionCacheTTL = 5 * time.Minute
)

// CheckoutResult is returned to the UI after a checkout-session request. Demo
// marks the degraded no-processor path explicitly.
type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	Demo      bool   `json:"demo,omitempty"`
	Message   string `json:"message,omitempty"`
}

// PortalResult is returned after a billing-portal request.
type PortalResult struct {
	URL  string `json:"url"`
	Demo bool   `json:"demo,omitempty"`
}

// BillingService issues checkout and portal sessions against the payments
// processor and serves subscription reads for the UI.
type BillingService interface {
	CreateCheckoutSession(ctx context.Context, userID uuid.UUID, priceID, planType string) (*CheckoutResult, error)
	CreatePortalSession(ctx context.Context, customerID string) (*PortalResult, error)
	GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	AvailablePlans() map[string]models.PlanConfig
}

type billingService struct {
	subscriptionRepo repositories.SubscriptionRepository
	processor        ProcessorService
	cacheSvc         caching.CacheService
	baseURL          string
}

// NewBillingService creates a new BillingService instance.
func NewBillingService(
	subscriptionRepo repositories.SubscriptionRepository,
	processor ProcessorService,
	cacheSvc caching.CacheService,
	baseURL string,
) BillingService {
	return &billingService{
		subscriptionRepo: subscriptionRepo,
		processor:        processor,
		cacheSvc:         cacheSvc,
		baseURL:          baseURL,
	}
}

func (s *billingService) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, priceID, planType string) (*CheckoutResult, error) {
	if !s.processor.Configured() {
		return demoCheckoutResult("Demo mode - payment processor not configured"), nil
	}

	customerID, err := s.resolveCustomerID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.processor.ValidatePrice(ctx, priceID); err != nil {
		return nil, err
	}

	sessionID, err := s.processor.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		UserID:     userID.String(),
		PlanType:   planType,
		SuccessURL: fmt.Sprintf("%s/dashboard?session_id={CHECKOUT_SESSION_ID}&success=true", s.baseURL),
		CancelURL:  fmt.Sprintf("%s/dashboard?canceled=true", s.baseURL),
		TrialDays:  trialPeriodDays,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Created checkout session %s for user %s", sessionID, userID)
	return &CheckoutResult{SessionID: sessionID}, nil
}

// resolveCustomerID reuses the stored processor customer id when the user
// already has one and creates one otherwise, persisting it before any session
// is requested so a second call never creates a duplicate customer.
func (s *billingService) resolveCustomerID(ctx context.Context, userID uuid.UUID) (string, error) {
	record, err := s.subscriptionRepo.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	if record != nil && record.CustomerID != nil && *record.CustomerID != "" {
		return *record.CustomerID, nil
	}

	customerID, err := s.processor.CreateCustomer(ctx, userID.String())
	if err != nil {
		return "", fmt.Errorf("create processor customer: %w", err)
	}

	if err := s.subscriptionRepo.Upsert(ctx, userID, &models.SubscriptionUpdate{CustomerID: &customerID}); err != nil {
		return "", fmt.Errorf("persist customer id: %w", err)
	}
	if cacheErr := s.cacheSvc.DeleteSubscription(ctx, userID); cacheErr != nil {
		log.Printf("WARN: failed to invalidate subscription cache for %s: %v", userID, cacheErr)
	}

	log.Printf("Created processor customer %s for user %s", customerID, userID)
	return customerID, nil
}

func (s *billingService) CreatePortalSession(ctx context.Context, customerID string) (*PortalResult, error) {
	if !s.processor.Configured() {
		return &PortalResult{
			URL:  fmt.Sprintf("%s/dashboard?portal=demo", s.baseURL),
			Demo: true,
		}, nil
	}

	url, err := s.processor.CreatePortalSession(ctx, customerID, fmt.Sprintf("%s/dashboard", s.baseURL))
	if err != nil {
		return nil, err
	}
	return &PortalResult{URL: url}, nil
}

// GetSubscription reads the user's record through the cache. A user without a
// record yet gets a synthetic default rather than an error.
func (s *billingService) GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if cached, err := s.cacheSvc.GetSubscription(ctx, userID); err == nil && cached != nil {
		return cached, nil
	}

	record, err := s.subscriptionRepo.GetByUserID(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.Subscription{
			UserID:   userID,
			Status:   models.StatusNone,
			PlanType: models.DefaultPlanType,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if cacheErr := s.cacheSvc.SetSubscription(ctx, record, subscriptionCacheTTL); cacheErr != nil {
		log.Printf("WARN: failed to cache subscription for %s: %v", userID, cacheErr)
	}
	return record, nil
}

func (s *billingService) AvailablePlans() map[string]models.PlanConfig {
	return models.AvailablePlans()
}

func demoCheckoutResult(message string) *CheckoutResult {
	return &CheckoutResult{
		SessionID: fmt.Sprintf("demo_session_%d", time.Now().UnixMilli()),
		Demo:      true,
		Message:   message,
	}
}
