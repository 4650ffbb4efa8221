package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// StaffRoles are the roles that act on behalf of the clinic.
var StaffRoles = []string{RoleAdmin, RoleReceptionist, RoleDentist}

// AllRoles adds patients to StaffRoles.
var AllRoles = []string{RoleAdmin, RoleReceptionist, RoleDentist, RoleClient}

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. admin passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether the caller holds one of roles, or admin.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

// IsClientOnly reports whether the caller acts only as a patient.
func IsClientOnly(ctx context.Context) bool {
	return HasRole(ctx, RoleClient) && !HasRole(ctx, StaffRoles...)
}
