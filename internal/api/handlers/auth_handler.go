package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/auth"
	"github.com/fieldsales/backend/internal/flash"
	"github.com/fieldsales/backend/internal/metrics"
	"github.com/fieldsales/backend/internal/middleware/validation"
	"github.com/fieldsales/backend/pkg/logger"
)

type AuthHandler struct {
	auth         *auth.Service
	view         *View
	cookieSecure bool
}

func NewAuthHandler(authService *auth.Service, view *View, cookieSecure bool) *AuthHandler {
	return &AuthHandler{
		auth:         authService,
		view:         view,
		cookieSecure: cookieSecure,
	}
}

type loginForm struct {
	Username string `form:"username" validate:"notblank"`
	Password string `form:"password" validate:"required"`
}

func (h *AuthHandler) LoginPage(c *fiber.Ctx) error {
	return h.view.Render(c, "login", "Sign in", nil)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var form loginForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, "/login", flash.Danger, "Username and password are required.")
	}

	u, err := h.auth.Authenticate(c.UserContext(), form.Username, form.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		return h.view.Redirect(c, "/login", flash.Danger, "Invalid username or password.")
	case errors.Is(err, auth.ErrInactive):
		metrics.LoginAttempts.WithLabelValues("inactive").Inc()
		return h.view.Redirect(c, "/login", flash.Danger, "This account has been disabled.")
	case err != nil:
		return err
	}

	token, err := h.auth.IssueToken(u)
	if err != nil {
		return err
	}

	c.Cookie(&fiber.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(h.auth.TTL()),
		HTTPOnly: true,
		Secure:   h.cookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	logger.Info("User signed in", zap.String("username", u.Username), zap.String("role", u.Role))

	return h.view.Redirect(c, auth.HomePath(u.Role), flash.Success, "Welcome, "+u.DisplayName()+".")
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   h.cookieSecure,
	})
	return h.view.Redirect(c, "/login", flash.Info, "You have been signed out.")
}

// Home sends each role to its landing page.
func (h *AuthHandler) Home(c *fiber.Ctx) error {
	u := auth.CurrentUser(c)
	if u == nil {
		return c.Redirect("/login", fiber.StatusFound)
	}
	return c.Redirect(auth.HomePath(u.Role), fiber.StatusFound)
}

// LoginLimited is shown when the login limiter trips.
func (h *AuthHandler) LoginLimited(c *fiber.Ctx) error {
	metrics.LoginAttempts.WithLabelValues("limited").Inc()
	c.Status(fiber.StatusTooManyRequests)
	return h.view.Render(c, "login", "Sign in", fiber.Map{
		"Error": "Too many sign-in attempts. Please wait a minute and try again.",
	})
}
