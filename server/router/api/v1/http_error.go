package v1

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	apierrors "github.com/hrygo/lumichat/server/internal/errors"
	"github.com/hrygo/lumichat/server/internal/observability"
)

var errUnauthenticated = apierrors.Unauthorized("authentication required")

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Code  apierrors.ErrorCode `json:"code"`
	Error string              `json:"error"`
}

// HTTPErrorHandler writes err as an ErrorResponse. Internal details are logged, never returned.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := errorResponse(err)
	if body.Code == apierrors.ErrCodeInternal || body.Code == apierrors.ErrCodeConfiguration {
		logger := observability.RequestFromContext(c.Request().Context(), c.Request().Method+" "+c.Path(), "")
		logger.Error("request failed", err, slog.String(observability.LogFieldErrorCode, string(body.Code)))
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, body)
	}
	if writeErr != nil {
		slog.Warn("failed to write error response", slog.Any("error", writeErr))
	}
}

func errorResponse(err error) (int, ErrorResponse) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message := http.StatusText(httpErr.Code)
		if httpErr.Message != nil {
			message = fmt.Sprint(httpErr.Message)
		}
		code := codeForStatus(httpErr.Code)
		if code == apierrors.ErrCodeInternal {
			message = apierrors.InternalMessage
		}
		return httpErr.Code, ErrorResponse{Code: code, Error: message}
	}

	apiErr := apierrors.FromError(err)
	return apiErr.HTTPStatus(), ErrorResponse{Code: apiErr.Code, Error: apiErr.PublicMessage()}
}

func codeForStatus(status int) apierrors.ErrorCode {
	switch status {
	case http.StatusUnauthorized:
		return apierrors.ErrCodeUnauthorized
	case http.StatusNotFound:
		return apierrors.ErrCodeNotFound
	case http.StatusTooManyRequests:
		return apierrors.ErrCodeRateLimitExceeded
	default:
		if status >= 400 && status < 500 {
			return apierrors.ErrCodeInvalidArgument
		}
		return apierrors.ErrCodeInternal
	}
}
