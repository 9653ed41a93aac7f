package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/auth"
	"github.com/fieldsales/backend/internal/flash"
	"github.com/fieldsales/backend/internal/middleware/validation"
	"github.com/fieldsales/backend/internal/storage"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/internal/storage/sqlite"
	"github.com/fieldsales/backend/pkg/logger"
)

type UsersHandler struct {
	db   *sqlite.Client
	view *View
}

func NewUsersHandler(db *sqlite.Client, view *View) *UsersHandler {
	return &UsersHandler{db: db, view: view}
}

type userForm struct {
	Username string `form:"username" validate:"notblank,max=80"`
	Email    string `form:"email" validate:"omitempty,email,max=120"`
	FullName string `form:"full_name" validate:"max=120"`
	Role     string `form:"role" validate:"role"`
	Password string `form:"password" validate:"omitempty,min=6"`
	IsActive string `form:"is_active"`
}

func (f *userForm) active() bool {
	return f.IsActive == "on" || f.IsActive == "true" || f.IsActive == "1"
}

// Dashboard is the admin landing page.
func (h *UsersHandler) Dashboard(c *fiber.Ctx) error {
	ctx := c.UserContext()

	roles, err := h.db.CountUsersByRole(ctx)
	if err != nil {
		return err
	}
	grades, err := h.db.CountAllCustomersByGrade(ctx)
	if err != nil {
		return err
	}
	routes, err := h.db.ListRoutes(ctx)
	if err != nil {
		return err
	}

	customers := 0
	for _, n := range grades {
		customers += n
	}

	return h.view.Render(c, "admin/dashboard", "Dashboard", fiber.Map{
		"RoleCounts":  roles,
		"GradeCounts": grades,
		"Customers":   customers,
		"Routes":      len(routes),
	})
}

func (h *UsersHandler) List(c *fiber.Ctx) error {
	ctx := c.UserContext()
	search := c.Query("q")

	users, err := h.db.ListUsers(ctx, search)
	if err != nil {
		return err
	}
	counts, err := h.db.CountUsersByRole(ctx)
	if err != nil {
		return err
	}

	return h.view.Render(c, "admin/users", "Users", fiber.Map{
		"Users":      users,
		"Search":     search,
		"RoleCounts": counts,
		"Roles":      []string{models.RoleAdmin, models.RoleMarketer, models.RoleObserver},
	})
}

func (h *UsersHandler) Create(c *fiber.Ctx) error {
	var form userForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, "/admin/users", flash.Danger, formError(err))
	}
	if form.Password == "" {
		return h.view.Redirect(c, "/admin/users", flash.Danger, "password: this field is required")
	}

	hash, err := auth.HashPassword(form.Password)
	if err != nil {
		return err
	}
	u := &models.User{
		Username:     strings.TrimSpace(form.Username),
		Email:        strings.TrimSpace(form.Email),
		FullName:     strings.TrimSpace(form.FullName),
		Role:         form.Role,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := h.db.CreateUser(c.UserContext(), u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return h.view.Redirect(c, "/admin/users", flash.Danger, "Username or email is already in use.")
		}
		return err
	}

	logger.Info("User created", zap.String("username", u.Username), zap.String("role", u.Role))
	return h.view.Redirect(c, "/admin/users", flash.Success, "User "+u.Username+" created.")
}

func (h *UsersHandler) EditPage(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	u, err := h.db.GetUser(c.UserContext(), id)
	if err != nil {
		return err
	}
	return h.view.Render(c, "admin/user_edit", "Edit user", fiber.Map{
		"Edit":  u,
		"Roles": []string{models.RoleAdmin, models.RoleMarketer, models.RoleObserver},
	})
}

func (h *UsersHandler) Update(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	back := "/admin/users/" + c.Params("id") + "/edit"

	var form userForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, back, flash.Danger, formError(err))
	}

	u, err := h.db.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.Username == auth.AdminUsername && (form.Role != models.RoleAdmin || !form.active()) {
		return h.view.Redirect(c, back, flash.Danger, "The admin account must stay an active admin.")
	}

	u.Username = strings.TrimSpace(form.Username)
	u.Email = strings.TrimSpace(form.Email)
	u.FullName = strings.TrimSpace(form.FullName)
	u.Role = form.Role
	u.IsActive = form.active()
	u.PasswordHash = ""
	if form.Password != "" {
		if u.PasswordHash, err = auth.HashPassword(form.Password); err != nil {
			return err
		}
	}

	if err := h.db.UpdateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return h.view.Redirect(c, back, flash.Danger, "Username or email is already in use.")
		}
		return err
	}
	return h.view.Redirect(c, "/admin/users", flash.Success, "User "+u.Username+" updated.")
}

func (h *UsersHandler) Delete(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	u, err := h.db.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.Username == auth.AdminUsername {
		return h.view.Redirect(c, "/admin/users", flash.Danger, "The admin account cannot be deleted.")
	}
	if err := h.db.DeleteUser(ctx, id); err != nil {
		return err
	}

	logger.Info("User deleted", zap.String("username", u.Username))
	return h.view.Redirect(c, "/admin/users", flash.Success, "User "+u.Username+" deleted.")
}
