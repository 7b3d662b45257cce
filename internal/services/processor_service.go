package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var (
	// ErrProcessorNotConfigured marks the degraded path: the Stripe secret key
	// is absent or malformed, so callers should produce demo results instead
	// of contacting the processor.
	ErrProcessorNotConfigured = errors.New("payment processor not configured")

	ErrCustomerNotFound = errors.New("customer not found at processor")
	ErrInvalidPrice     = errors.New("invalid price id")
)

// CheckoutParams carries everything the processor needs to open a
// subscription-mode checkout session correlated back to a user.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	UserID     string
	PlanType   string
	SuccessURL string
	CancelURL  string
	TrialDays  int64
}

// ProcessorService wraps the Stripe API surface the billing core touches.
// The unconfigured variant is a separate implementation rather than a nil
// client checked at each call site.
type ProcessorService interface {
	Configured() bool
	CreateCustomer(ctx context.Context, userID string) (string, error)
	ValidatePrice(ctx context.Context, priceID string) error
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// SubscriptionUserID fetches a subscription from the processor and returns
	// its metadata.userId. Invoice events only reference a subscription id, so
	// the reconciliation handlers resolve the user through this call.
	SubscriptionUserID(ctx context.Context, subscriptionID string) (string, error)
}

type stripeProcessor struct {
	sc *client.API
}

type unconfiguredProcessor struct{}

// NewProcessorService returns the live Stripe-backed implementation when the
// secret key looks valid ("sk_" prefix), and the unconfigured variant
// otherwise. All outbound calls are bounded by the HTTP client timeout.
func NewProcessorService(secretKey string) ProcessorService {
	if !strings.HasPrefix(secretKey, "sk_") {
		return &unconfiguredProcessor{}
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	sc := &client.API{}
	sc.Init(secretKey, stripe.NewBackends(httpClient))
	return &stripeProcessor{sc: sc}
}

func (p *stripeProcessor) Configured() bool { return true }

func (p *stripeProcessor) CreateCustomer(ctx context.Context, userID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddMetadata("userId", userID)

	cust, err := p.sc.Customers.New(params)
	if err != nil {
		return "", err
	}
	return cust.ID, nil
}

func (p *stripeProcessor) ValidatePrice(ctx context.Context, priceID string) error {
	params := &stripe.PriceParams{}
	params.Context = ctx
	if _, err := p.sc.Prices.Get(priceID, params); err != nil {
		if isResourceMissing(err) {
			return ErrInvalidPrice
		}
		return err
	}
	return nil
}

func (p *stripeProcessor) CreateCheckoutSession(ctx context.Context, cp CheckoutParams) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(cp.CustomerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(cp.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(cp.SuccessURL),
		CancelURL:  stripe.String(cp.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(cp.TrialDays),
			Metadata: map[string]string{
				"userId":   cp.UserID,
				"planType": cp.PlanType,
			},
		},
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String("required"),
		CustomerUpdate: &stripe.CheckoutSessionCustomerUpdateParams{
			Address: stripe.String("auto"),
			Name:    stripe.String("auto"),
		},
	}
	params.Context = ctx
	params.AddMetadata("userId", cp.UserID)
	params.AddMetadata("planType", cp.PlanType)

	s, err := p.sc.CheckoutSessions.New(params)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

func (p *stripeProcessor) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	s, err := p.sc.BillingPortalSessions.New(params)
	if err != nil {
		if isResourceMissing(err) {
			return "", ErrCustomerNotFound
		}
		return "", err
	}
	return s.URL, nil
}

func (p *stripeProcessor) SubscriptionUserID(ctx context.Context, subscriptionID string) (string, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.sc.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return "", err
	}
	return sub.Metadata["userId"], nil
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

func (p *unconfiguredProcessor) Configured() bool { return false }

func (p *unconfiguredProcessor) CreateCustomer(ctx context.Context, userID string) (string, error) {
	return "", ErrProcessorNotConfigured
}

func (p *unconfiguredProcessor) ValidatePrice(ctx context.Context, priceID string) error {
	return ErrProcessorNotConfigured
}

func (p *unconfiguredProcessor) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error) {
	return "", ErrProcessorNotConfigured
}

func (p *unconfiguredProcessor) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return "", ErrProcessorNotConfigured
}

func (p *unconfiguredProcessor) SubscriptionUserID(ctx context.Context, subscriptionID string) (string, error) {
	return "", ErrProcessorNotConfigured
}
