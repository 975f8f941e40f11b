package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleDoctor  = "Doctor"
	RolePatient = "Patient"
)

// ValidRole reports whether role is one of the account types.
func ValidRole(role string) bool {
	return role == RoleDoctor || role == RolePatient
}

// RequireRole returns middleware that checks the session role is one of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			has := RoleFromContext(c.Request().Context())
			for _, required := range roles {
				if has == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireSelf rejects requests whose path parameter param is not the
// authenticated user's id.
func RequireSelf(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Param(param) != UserIDFromContext(c.Request().Context()) {
				return echo.NewHTTPError(http.StatusForbidden, "can only modify your own profile")
			}
			return next(c)
		}
	}
}
