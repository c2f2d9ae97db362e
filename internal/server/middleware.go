package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/teamhubhq/chat-core/internal/repo/identity"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func errorHandler() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
				he = &echo.HTTPError{
					Code:    httpStatusFromCode(st.Code()),
					Message: st.Message(),
				}
			} else {
				he = &echo.HTTPError{
					Code:    http.StatusInternalServerError,
					Message: http.StatusText(http.StatusInternalServerError),
				}
			}
		} else {
			c.Logger().Error(err)
		}

		if !c.Response().Committed {
			if c.Request().Method == http.MethodHead {
				err = c.NoContent(he.Code)
			} else {
				err = c.JSON(he.Code, he)
			}
			if err != nil {
				c.Logger().Error(err)
			}
		}
	}
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// identityMiddleware stamps the authenticated identity forwarded by the
// edge proxy onto the request context. Requests without one are rejected
// before they reach a handler.
func identityMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := c.Request().Header.Get("X-User-ID")
			if userID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing identity header")
			}
			ctx := identity.WithUser(c.Request().Context(), userID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("user_id", userID)
			return next(c)
		}
	}
}
