package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/urgencias/internal/platform/audit"
	"github.com/ehr/urgencias/internal/platform/auth"
)

// Audit attaches the caller's IP, user agent and request id to the request
// context so audit entries written by services carry them, and logs every
// mutating /api/v1 call.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			ctx := audit.WithRequestMeta(req.Context(), audit.RequestMeta{
				IPAddress: c.RealIP(),
				UserAgent: req.UserAgent(),
				RequestID: rid,
			})
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			if !isAuditablePath(req.URL.Path) || !isMutating(req.Method) {
				return err
			}
			logger.Info().
				Str("type", "api_audit").
				Str("request_id", rid).
				Str("user_id", auth.UserIDFromContext(c.Request().Context())).
				Strs("user_roles", auth.RolesFromContext(c.Request().Context())).
				Str("resource_type", extractResourceType(req.URL.Path)).
				Str("action", httpMethodToAction(req.Method)).
				Str("path", req.URL.Path).
				Str("remote_ip", c.RealIP()).
				Int("status", responseStatus(c, err)).
				Msg("mutation")
			return err
		}
	}
}

// responseStatus reports the status the error handler will write for err.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return http.StatusInternalServerError
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

func isMutating(method string) bool {
	return method != http.MethodGet && method != http.MethodHead && method != http.MethodOptions
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResourceType returns the first segment under /api/v1/,
// e.g. /api/v1/beds/123/assign -> beds.
func extractResourceType(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}
