package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fitforge/internal/common"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

const testJWTSecret = "test-secret"

func signedToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)
	return signed
}

func runMiddleware(authHeader string) (uuid.UUID, bool, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/billing/subscription", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var capturedID uuid.UUID
	var captured bool
	handler := JWTMiddleware(testJWTSecret)(func(c echo.Context) error {
		capturedID, captured = common.GetUserIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	return capturedID, captured, handler(c)
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	userID := uuid.New()
	token := signedToken(t, testJWTSecret, userID.String())

	capturedID, captured, err := runMiddleware("Bearer " + token)

	assert.NoError(t, err)
	assert.True(t, captured)
	assert.Equal(t, userID, capturedID)
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, captured, err := runMiddleware("")

	assert.False(t, captured)
	httpErr := &echo.HTTPError{}
	assert.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestJWTMiddleware_NotBearer(t *testing.T) {
	_, _, err := runMiddleware("Basic abc123")

	httpErr := &echo.HTTPError{}
	assert.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestJWTMiddleware_WrongSecret(t *testing.T) {
	token := signedToken(t, "other-secret", uuid.NewString())

	_, _, err := runMiddleware("Bearer " + token)

	httpErr := &echo.HTTPError{}
	assert.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestJWTMiddleware_NonUUIDSubject(t *testing.T) {
	token := signedToken(t, testJWTSecret, "user-42")

	_, _, err := runMiddleware("Bearer " + token)

	httpErr := &echo.HTTPError{}
	assert.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	assert.NoError(t, err)

	_, _, runErr := runMiddleware("Bearer " + signed)

	httpErr := &echo.HTTPError{}
	assert.ErrorAs(t, runErr, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}
