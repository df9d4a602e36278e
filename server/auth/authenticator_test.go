package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/hrygo/lumichat/server/internal/errors"
)

const testCookie = "lumichat.session-token"

func TestAuthenticate(t *testing.T) {
	a := NewAuthenticator("secret", testCookie)
	token, err := GenerateSessionToken("user-1", "", time.Now().Add(time.Hour), []byte("secret"))
	require.NoError(t, err)

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: testCookie, Value: token})
		identity, err := a.Authenticate(req)
		require.NoError(t, err)
		assert.Equal(t, "user-1", identity.UserID)
	})

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		identity, err := a.Authenticate(req)
		require.NoError(t, err)
		assert.Equal(t, "user-1", identity.UserID)
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := a.Authenticate(req)
		assert.Error(t, err)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc")
		req.AddCookie(&http.Cookie{Name: testCookie, Value: token})
		_, err := a.Authenticate(req)
		assert.Error(t, err)
	})
}

func TestMiddleware(t *testing.T) {
	e := echo.New()
	a := NewAuthenticator("secret", testCookie)
	var seen string
	handler := a.Middleware()(func(c echo.Context) error {
		seen = UserIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	err := handler(e.NewContext(req, httptest.NewRecorder()))
	require.Error(t, err)
	assert.True(t, apierrors.IsCode(err, apierrors.ErrCodeUnauthorized))
	assert.Empty(t, seen)

	token, err := GenerateSessionToken("user-2", "", time.Time{}, []byte("secret"))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	require.NoError(t, handler(e.NewContext(req, httptest.NewRecorder())))
	assert.Equal(t, "user-2", seen)
}
