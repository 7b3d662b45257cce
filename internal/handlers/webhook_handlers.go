package handlers

import (
	"io"
	"log"
	"net/http"
	"time"

	"fitforge/internal/caching"
	"fitforge/internal/repositories"
	"fitforge/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	maxWebhookBodyBytes = int64(65536)
	// Processor redelivery window; a claimed event id blocks duplicates for
	// this long before the durable audit log takes over.
	eventDedupeTTL = 24 * time.Hour
)

// WebhookHandlers handles the inbound processor event stream. The signature
// check is the authentication mechanism for this endpoint and must run before
// any business field is parsed.
type WebhookHandlers struct {
	reconciler    services.ReconcilerService
	archiveSvc    services.ArchiveService
	cacheSvc      caching.CacheService
	eventRepo     repositories.BillingEventRepository
	webhookSecret string
}

// NewWebhookHandlers creates a new webhook handlers instance
func NewWebhookHandlers(
	reconciler services.ReconcilerService,
	archiveSvc services.ArchiveService,
	cacheSvc caching.CacheService,
	eventRepo repositories.BillingEventRepository,
	webhookSecret string,
) *WebhookHandlers {
	return &WebhookHandlers{
		reconciler:    reconciler,
		archiveSvc:    archiveSvc,
		cacheSvc:      cacheSvc,
		eventRepo:     eventRepo,
		webhookSecret: webhookSecret,
	}
}

// StripeWebhook handles POST /webhooks/stripe
func (h *WebhookHandlers) StripeWebhook(c echo.Context) error {
	// Without a signing secret nothing can be verified, so nothing may be
	// processed at all.
	if h.webhookSecret == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Webhook secret not configured")
	}

	c.Request().Body = http.MaxBytesReader(c.Response().Writer, c.Request().Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read request body")
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if signature == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing Stripe signature")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, h.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid Stripe signature")
	}

	if h.archiveSvc != nil {
		if archiveErr := h.archiveSvc.ArchiveEvent(c.Request().Context(), event.ID, payload); archiveErr != nil {
			log.Printf("WARN: failed to archive event %s: %v", event.ID, archiveErr)
		}
	}

	// Redelivery short-circuit: first a fast Redis claim, then the durable
	// audit log as backstop. Handlers are idempotent regardless, so a dedupe
	// layer failure degrades to extra work, not corruption.
	claimed, err := h.cacheSvc.MarkEventProcessing(c.Request().Context(), event.ID, eventDedupeTTL)
	if err != nil {
		log.Printf("WARN: event dedupe claim failed for %s: %v", event.ID, err)
		claimed = true
	}
	if !claimed {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"received": true,
			"status":   "duplicate",
		})
	}
	if processed, err := h.eventRepo.WasProcessed(c.Request().Context(), event.ID); err == nil && processed {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"received": true,
			"status":   "duplicate",
		})
	}

	if _, err := h.reconciler.ProcessEvent(c.Request().Context(), &event); err != nil {
		// Release the claim so the processor's retry is not treated as a
		// duplicate of this failed attempt.
		if releaseErr := h.cacheSvc.ReleaseEvent(c.Request().Context(), event.ID); releaseErr != nil {
			log.Printf("WARN: failed to release event claim %s: %v", event.ID, releaseErr)
		}
		log.Printf("ERROR: processing event %s (%s) failed: %v", event.ID, event.Type, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Webhook processing failed")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"received": true,
	})
}
