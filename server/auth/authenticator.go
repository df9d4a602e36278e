package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	apierrors "github.com/hrygo/lumichat/server/internal/errors"
)

// Authenticator resolves the caller from the session cookie or a bearer token.
type Authenticator struct {
	secret     []byte
	cookieName string
}

func NewAuthenticator(secret, cookieName string) *Authenticator {
	return &Authenticator{
		secret:     []byte(secret),
		cookieName: cookieName,
	}
}

// Authenticate returns the identity carried by r.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	token := a.extractToken(r)
	if token == "" {
		return nil, errors.New("no session token")
	}
	claims, err := ParseSessionToken(token, a.secret)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: claims.Subject, Name: claims.Name}, nil
}

// The Authorization header wins over the cookie.
func (a *Authenticator) extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	if cookie, err := r.Cookie(a.cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// Middleware rejects unauthenticated requests with UNAUTHORIZED and stores the
// identity in the request context otherwise.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, err := a.Authenticate(c.Request())
			if err != nil {
				return apierrors.Unauthorized("authentication required")
			}
			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), identity)))
			return next(c)
		}
	}
}
