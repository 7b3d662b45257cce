package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"fitforge/internal/common"
	"fitforge/internal/repositories"
	"fitforge/internal/services"

	"github.com/labstack/echo/v4"
)

// BillingHandlers handles the UI-facing billing endpoints: session creation,
// subscription reads and the processed-event audit listing.
type BillingHandlers struct {
	billingSvc services.BillingService
	eventRepo  repositories.BillingEventRepository
}

// NewBillingHandlers creates a new billing handlers instance
func NewBillingHandlers(billingSvc services.BillingService, eventRepo repositories.BillingEventRepository) *BillingHandlers {
	return &BillingHandlers{
		billingSvc: billingSvc,
		eventRepo:  eventRepo,
	}
}

type checkoutSessionRequest struct {
	PriceID  string `json:"priceId"`
	UserID   string `json:"userId"`
	PlanType string `json:"planType"`
}

type portalSessionRequest struct {
	CustomerID string `json:"customerId"`
}

// CreateCheckoutSession handles POST /v1/billing/checkout-session
func (h *BillingHandlers) CreateCheckoutSession(c echo.Context) error {
	var req checkoutSessionRequest
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request body")
	}

	if req.PriceID == "" || req.UserID == "" || req.PlanType == "" {
		return common.SendClientError(c, "priceId, userId and planType are required")
	}

	userID, err := common.ValidateUUID(req.UserID, "userId")
	if err != nil {
		return common.SendValidationError(c, "userId", err.Error())
	}

	// The body-supplied user must be the authenticated caller; a mismatch
	// means the caller has no profile it may start checkout for.
	authUserID, ok := common.GetUserIDFromContext(c.Request().Context())
	if !ok || authUserID != userID {
		return common.SendNotFoundError(c, "User")
	}

	result, err := h.billingSvc.CreateCheckoutSession(c.Request().Context(), userID, req.PriceID, req.PlanType)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPrice) {
			return common.SendClientError(c, "Invalid price ID")
		}
		log.Printf("ERROR: checkout session for user %s failed: %v", userID, err)
		return common.SendServerError(c, "Failed to create checkout session")
	}

	return c.JSON(http.StatusOK, result)
}

// CreatePortalSession handles POST /v1/billing/portal-session
func (h *BillingHandlers) CreatePortalSession(c echo.Context) error {
	var req portalSessionRequest
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request body")
	}

	if req.CustomerID == "" {
		return common.SendClientError(c, "customerId is required")
	}

	result, err := h.billingSvc.CreatePortalSession(c.Request().Context(), req.CustomerID)
	if err != nil {
		if errors.Is(err, services.ErrCustomerNotFound) {
			return common.SendNotFoundError(c, "Customer")
		}
		log.Printf("ERROR: portal session for customer %s failed: %v", req.CustomerID, err)
		return common.SendServerError(c, "Failed to create portal session")
	}

	return c.JSON(http.StatusOK, result)
}

// GetSubscription handles GET /v1/billing/subscription
func (h *BillingHandlers) GetSubscription(c echo.Context) error {
	userID, ok := common.GetUserIDFromContext(c.Request().Context())
	if !ok {
		return common.SendUnauthorizedError(c)
	}

	sub, err := h.billingSvc.GetSubscription(c.Request().Context(), userID)
	if err != nil {
		log.Printf("ERROR: subscription read for user %s failed: %v", userID, err)
		return common.SendServerError(c, "Failed to fetch subscription")
	}

	return c.JSON(http.StatusOK, sub)
}

// ListPlans handles GET /v1/billing/plans
func (h *BillingHandlers) ListPlans(c echo.Context) error {
	return c.JSON(http.StatusOK, h.billingSvc.AvailablePlans())
}

// ListBillingEvents handles GET /v1/billing/events
func (h *BillingHandlers) ListBillingEvents(c echo.Context) error {
	rawLimit, _ := strconv.Atoi(c.QueryParam("limit"))
	rawOffset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, offset, err := common.ValidatePaginationParams(rawLimit, rawOffset)
	if err != nil {
		return common.SendClientError(c, err.Error())
	}

	events, err := h.eventRepo.ListRecent(c.Request().Context(), limit, offset)
	if err != nil {
		log.Printf("ERROR: billing event listing failed: %v", err)
		return common.SendServerError(c, "Failed to fetch billing events")
	}

	return c.JSON(http.StatusOK, events)
}
