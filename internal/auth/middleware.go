package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/pkg/logger"
)

const (
	CookieName = "fieldsales_token"
	localsUser = "user"
)

// RoleDenied is called for signed-in web users who lack the required role.
type RoleDenied func(c *fiber.Ctx) error

// IsAPIRequest reports whether the path answers in JSON rather than HTML.
func IsAPIRequest(c *fiber.Ctx) bool {
	p := c.Path()
	return strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/ws/")
}

func tokenFrom(c *fiber.Ctx) string {
	if token := c.Cookies(CookieName); token != "" {
		return token
	}
	header := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

// Middleware loads the signed-in user into the request. Anonymous requests to API paths
// get 401; web paths are redirected to the login page.
func (s *Service) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := tokenFrom(c)
		if token == "" {
			return unauthenticated(c)
		}

		u, err := s.CurrentUser(c.UserContext(), token)
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrInactive) {
				logger.Error("Failed to resolve session user", zap.Error(err))
			}
			c.ClearCookie(CookieName)
			return unauthenticated(c)
		}

		c.Locals(localsUser, u)
		return c.Next()
	}
}

func unauthenticated(c *fiber.Ctx) error {
	if IsAPIRequest(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication required"})
	}
	return c.Redirect("/login", fiber.StatusFound)
}

// RequireRole must run after Middleware.
func RequireRole(denied RoleDenied, roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u := CurrentUser(c)
		if u == nil {
			return unauthenticated(c)
		}
		for _, role := range roles {
			if u.Role == role {
				return c.Next()
			}
		}

		logger.Warn("Role check failed",
			zap.String("username", u.Username),
			zap.String("role", u.Role),
			zap.String("path", c.Path()),
		)
		if IsAPIRequest(c) || denied == nil {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "access denied"})
		}
		return denied(c)
	}
}

func CurrentUser(c *fiber.Ctx) *models.User {
	u, _ := c.Locals(localsUser).(*models.User)
	return u
}

// HomePath is the landing page of each role.
func HomePath(role string) string {
	switch role {
	case models.RoleAdmin:
		return "/admin"
	case models.RoleMarketer:
		return "/marketer"
	case models.RoleObserver:
		return "/observer"
	}
	return "/login"
}
