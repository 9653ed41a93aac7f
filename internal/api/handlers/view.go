package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/auth"
	"github.com/fieldsales/backend/internal/flash"
	"github.com/fieldsales/backend/internal/middleware/validation"
	"github.com/fieldsales/backend/internal/storage"
	"github.com/fieldsales/backend/pkg/logger"
)

const layout = "layouts/main"

// View renders pages inside the main layout and carries flash messages across redirects.
type View struct {
	flash *flash.Flasher
}

func NewView(flasher *flash.Flasher) *View {
	return &View{flash: flasher}
}

func (v *View) Render(c *fiber.Ctx, name, title string, data fiber.Map) error {
	if data == nil {
		data = fiber.Map{}
	}
	data["Title"] = title
	data["User"] = auth.CurrentUser(c)
	data["Flashes"] = v.flash.Pop(c)
	return c.Render(name, data, layout)
}

func (v *View) Flash(c *fiber.Ctx, category, text string) {
	v.flash.Add(c, category, text)
}

// Redirect flashes text and sends the browser to path.
func (v *View) Redirect(c *fiber.Ctx, path, category, text string) error {
	if text != "" {
		v.flash.Add(c, category, text)
	}
	return c.Redirect(path, fiber.StatusFound)
}

// Denied sends signed-in users without the required role back to their home page.
func (v *View) Denied(c *fiber.Ctx) error {
	return v.Redirect(c, "/", flash.Danger, "You do not have access to that page.")
}

// ErrorHandler answers JSON on API paths and renders the error page elsewhere.
func (v *View) ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Something went wrong."

	var fe *fiber.Error
	var formErr *validation.FormError
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		message = fe.Message
	case errors.Is(err, storage.ErrNotFound):
		code = fiber.StatusNotFound
		message = "Not found."
	case errors.Is(err, storage.ErrConflict):
		code = fiber.StatusConflict
		message = "That record already exists."
	case errors.As(err, &formErr):
		code = fiber.StatusBadRequest
		message = formErr.Error()
	}

	if code >= fiber.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	if auth.IsAPIRequest(c) {
		return c.Status(code).JSON(fiber.Map{"error": message})
	}

	c.Status(code)
	if rerr := c.Render("error", fiber.Map{
		"Title":   "Error",
		"Code":    code,
		"Message": message,
		"User":    auth.CurrentUser(c),
	}, layout); rerr != nil {
		logger.Error("Failed to render error page", zap.Error(rerr))
		return c.Status(code).SendString(message)
	}
	return nil
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusNotFound, "Not found.")
	}
	return id, nil
}

// optionalFloat parses a form value; blank means nil.
func optionalFloat(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// optionalCoordinates parses a blank-or-valid latitude/longitude pair.
func optionalCoordinates(latRaw, lngRaw string) (lat, lng *float64, ok bool) {
	lat, errLat := optionalFloat(latRaw)
	lng, errLng := optionalFloat(lngRaw)
	if errLat != nil || errLng != nil {
		return nil, nil, false
	}
	if (lat != nil && (*lat < -90 || *lat > 90)) || (lng != nil && (*lng < -180 || *lng > 180)) {
		return nil, nil, false
	}
	return lat, lng, true
}

func formError(err error) string {
	var fe *validation.FormError
	if errors.As(err, &fe) {
		return fe.Error()
	}
	return err.Error()
}
