package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fitforge/internal/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	stripe "github.com/stripe/stripe-go/v82"
)

const testWebhookSecret = "whsec_test_secret"

type stubReconciler struct {
	calls   int
	lastEvt *stripe.Event
	err     error
}

func (s *stubReconciler) ProcessEvent(ctx context.Context, event *stripe.Event) (*models.BillingEvent, error) {
	s.calls++
	s.lastEvt = event
	if s.err != nil {
		return nil, s.err
	}
	return &models.BillingEvent{ID: uuid.New(), EventID: event.ID, Outcome: models.OutcomeApplied}, nil
}

type stubArchive struct {
	archived []string
}

func (s *stubArchive) ArchiveEvent(ctx context.Context, eventID string, payload []byte) error {
	s.archived = append(s.archived, eventID)
	return nil
}

func (s *stubArchive) EnsureBucketExists(ctx context.Context) error { return nil }

type stubCache struct {
	claimResult bool
	claimErr    error
	released    []string
}

func (s *stubCache) GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return nil, nil
}
func (s *stubCache) SetSubscription(ctx context.Context, sub *models.Subscription, ttl time.Duration) error {
	return nil
}
func (s *stubCache) DeleteSubscription(ctx context.Context, userID uuid.UUID) error { return nil }
func (s *stubCache) MarkEventProcessing(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return s.claimResult, s.claimErr
}
func (s *stubCache) ReleaseEvent(ctx context.Context, eventID string) error {
	s.released = append(s.released, eventID)
	return nil
}
func (s *stubCache) Ping(ctx context.Context) error { return nil }

type stubEventRepo struct {
	processed map[string]bool
}

func (s *stubEventRepo) Record(ctx context.Context, event *models.BillingEvent) error { return nil }
func (s *stubEventRepo) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	return s.processed[eventID], nil
}
func (s *stubEventRepo) ListRecent(ctx context.Context, limit, offset int) ([]*models.BillingEvent, error) {
	return nil, nil
}
func (s *stubEventRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type WebhookHandlersTestSuite struct {
	suite.Suite
	echo       *echo.Echo
	reconciler *stubReconciler
	archive    *stubArchive
	cache      *stubCache
	eventRepo  *stubEventRepo
	handlers   *WebhookHandlers
}

func (s *WebhookHandlersTestSuite) SetupTest() {
	s.echo = echo.New()
	s.reconciler = &stubReconciler{}
	s.archive = &stubArchive{}
	s.cache = &stubCache{claimResult: true}
	s.eventRepo = &stubEventRepo{processed: make(map[string]bool)}
	s.handlers = NewWebhookHandlers(s.reconciler, s.archive, s.cache, s.eventRepo, testWebhookSecret)
}

func TestWebhookHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(WebhookHandlersTestSuite))
}

// signPayload builds a Stripe-Signature header the same way the processor
// does: HMAC-SHA256 over "<timestamp>.<payload>" with the signing secret.
func signPayload(secret string, payload []byte, ts time.Time) string {
	signed := fmt.Sprintf("%d.%s", ts.Unix(), payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func (s *WebhookHandlersTestSuite) postWebhook(payload []byte, signature string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(payload)))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	return rec, s.handlers.StripeWebhook(c)
}

func eventPayload(eventID, eventType string) []byte {
	return []byte(fmt.Sprintf(`{"id": %q, "type": %q, "created": %d, "data": {"object": {"id": "obj_1"}}}`,
		eventID, eventType, time.Now().Unix()))
}

func (s *WebhookHandlersTestSuite) TestValidSignatureIsProcessed() {
	payload := eventPayload("evt_1", "checkout.session.completed")
	signature := signPayload(testWebhookSecret, payload, time.Now())

	rec, err := s.postWebhook(payload, signature)

	assert.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)
	assert.Contains(s.T(), rec.Body.String(), `"received":true`)
	assert.Equal(s.T(), 1, s.reconciler.calls)
	assert.Equal(s.T(), "evt_1", s.reconciler.lastEvt.ID)
	assert.Equal(s.T(), []string{"evt_1"}, s.archive.archived)
}

func (s *WebhookHandlersTestSuite) TestTamperedBodyIsRejected() {
	payload := eventPayload("evt_1", "checkout.session.completed")
	signature := signPayload(testWebhookSecret, payload, time.Now())
	tampered := []byte(strings.Replace(string(payload), "evt_1", "evt_evil", 1))

	_, err := s.postWebhook(tampered, signature)

	httpErr := &echo.HTTPError{}
	assert.ErrorAs(s.T(), err, &httpErr)
	assert.Equal(s.T(), http.StatusBadRequest, httpErr.Code)
	assert.Equal(s.T(), 0, s.reconciler.calls)
	assert.Empty(s.T(), s.archive.archived)
}

func (s *WebhookHandlersTestSuite) TestWrongSecretIsRejected() {
	payload := eventPayload("evt_1", "checkout.session.completed")
	signature := signPayload("whsec_other", payload, time.Now())

	_, err := s.postWebhook(payload, signature)

	httpErr := &echo.HTTPError{}
	assert.ErrorAs(s.T(), err, &httpErr)
	assert.Equal(s.T(), http.StatusBadRequest, httpErr.Code)
	assert.Equal(s.T(), 0, s.reconciler.calls)
}

func (s *WebhookHandlersTestSuite) TestMissingSignatureIsRejected() {
	payload := eventPayload("evt_1", "checkout.session.completed")

	_, err := s.postWebhook(payload, "")

	httpErr := &echo.HTTPError{}
	assert.ErrorAs(s.T(), err, &httpErr)
	assert.Equal(s.T(), http.StatusBadRequest, httpErr.Code)
	assert.Equal(s.T(), 0, s.reconciler.calls)
}

func (s *WebhookHandlersTestSuite) TestMissingSecretReturnsServiceUnavailable() {
	s.handlers = NewWebhookHandlers(s.reconciler, s.archive, s.cache, s.eventRepo, "")
	payload := eventPayload("evt_1", "checkout.session.completed")
	signature := signPayload(testWebhookSecret, payload, time.Now())

	_, err := s.postWebhook(payload, signature)

	httpErr := &echo.HTTPError{}
	assert.ErrorAs(s.T(), err, &httpErr)
	assert.Equal(s.T(), http.StatusServiceUnavailable, httpErr.Code)
	assert.Equal(s.T(), 0, s.reconciler.calls)
}

func (s *WebhookHandlersTestSuite) TestDuplicateClaimShortCircuits() {
	s.cache.claimResult = false
	payload := eventPayload("evt_dup", "checkout.session.completed")
	signature := signPayload(testWebhookSecret, payload, time.Now())

	rec, err := s.postWebhook(payload, signature)

	assert.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)
	assert.Contains(s.T(), rec.Body.String(), `"status":"duplicate"`)
	assert.Equal(s.T(), 0, s.reconciler.calls)
}

func (s *WebhookHandlersTestSuite) TestDurableDuplicateShortCircuits() {
	s.eventRepo.processed["evt_seen"] = true
	payload := eventPayload("evt_seen", "checkout.session.completed")
	signature := signPayload(testWebhookSecret, payload, time.Now())

	rec, err := s.postWebhook(payload, signature)

	assert.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)
	assert.Contains(s.T(), rec.Body.String(), `"status":"duplicate"`)
	assert.Equal(s.T(), 0, s.reconciler.calls)
}

func (s *WebhookHandlersTestSuite) TestClaimFailureStillProcesses() {
	s.cache.claimErr = errors.New("redis down")
	payload := eventPayload("evt_1", "checkout.session.completed")
	signature := signPayload(testWebhookSecret, payload, time.Now())

	rec, err := s.postWebhook(payload, signature)

	assert.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)
	assert.Equal(s.T(), 1, s.reconciler.calls)
}

func (s *WebhookHandlersTestSuite) TestProcessingFailureReleasesClaim() {
	s.reconciler.err = errors.New("store unavailable")
	payload := eventPayload("evt_fail", "checkout.session.completed")
	signature := signPayload(testWebhookSecret, payload, time.Now())

	_, err := s.postWebhook(payload, signature)

	httpErr := &echo.HTTPError{}
	assert.ErrorAs(s.T(), err, &httpErr)
	assert.Equal(s.T(), http.StatusInternalServerError, httpErr.Code)
	assert.Equal(s.T(), []string{"evt_fail"}, s.cache.released)
}
