package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/flash"
	"github.com/fieldsales/backend/internal/middleware/validation"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/internal/storage/sqlite"
	"github.com/fieldsales/backend/pkg/logger"
)

// RoutesHandler manages routes, their points and stores.
type RoutesHandler struct {
	db   *sqlite.Client
	view *View
}

func NewRoutesHandler(db *sqlite.Client, view *View) *RoutesHandler {
	return &RoutesHandler{db: db, view: view}
}

type routeForm struct {
	Name        string  `form:"name" validate:"notblank,max=100"`
	Description string  `form:"description" validate:"max=2000"`
	MarketerIDs []int64 `form:"marketer_ids"`
}

type pointForm struct {
	Name      string   `form:"name" validate:"max=100"`
	Latitude  *float64 `form:"latitude" validate:"required,latitude"`
	Longitude *float64 `form:"longitude" validate:"required,longitude"`
	Address   string   `form:"address" validate:"max=200"`
	Order     int      `form:"order" validate:"min=0"`
}

type storeForm struct {
	Name string `form:"name" validate:"notblank,max=100"`
	Lat  string `form:"lat"`
	Lng  string `form:"lng"`
}

func (h *RoutesHandler) List(c *fiber.Ctx) error {
	ctx := c.UserContext()
	routes, err := h.db.ListRoutes(ctx)
	if err != nil {
		return err
	}
	marketers, err := h.db.ListMarketers(ctx, true)
	if err != nil {
		return err
	}
	return h.view.Render(c, "admin/routes", "Routes", fiber.Map{
		"Routes":    routes,
		"Marketers": marketers,
	})
}

func (h *RoutesHandler) Create(c *fiber.Ctx) error {
	var form routeForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, "/admin/routes", flash.Danger, formError(err))
	}

	r := &models.Route{
		Name:        strings.TrimSpace(form.Name),
		Description: strings.TrimSpace(form.Description),
		IsActive:    true,
		MarketerIDs: form.MarketerIDs,
	}
	if err := h.db.CreateRoute(c.UserContext(), r); err != nil {
		return err
	}

	logger.Info("Route created", zap.Int64("route_id", r.ID), zap.Int("marketers", len(r.MarketerIDs)))
	return h.view.Redirect(c, "/admin/routes/"+itoa(r.ID), flash.Success, "Route created.")
}

func (h *RoutesHandler) Detail(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	r, err := h.db.GetRoute(ctx, id)
	if err != nil {
		return err
	}
	marketers, err := h.db.ListMarketers(ctx, false)
	if err != nil {
		return err
	}

	assigned := make(map[int64]bool, len(r.MarketerIDs))
	for _, mid := range r.MarketerIDs {
		assigned[mid] = true
	}
	var names []string
	for _, m := range marketers {
		if assigned[m.ID] {
			names = append(names, m.DisplayName())
		}
	}

	return h.view.Render(c, "admin/route_detail", r.Name, fiber.Map{
		"Route":     r,
		"Marketers": names,
		"NextOrder": len(r.Points) + 1,
	})
}

func (h *RoutesHandler) AddPoint(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	back := "/admin/routes/" + itoa(id)

	if _, err := h.db.GetRoute(ctx, id); err != nil {
		return err
	}

	var form pointForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, back, flash.Danger, formError(err))
	}

	p := &models.RoutePoint{
		RouteID:   id,
		Name:      strings.TrimSpace(form.Name),
		Latitude:  *form.Latitude,
		Longitude: *form.Longitude,
		Address:   strings.TrimSpace(form.Address),
		Order:     form.Order,
	}
	if err := h.db.AddRoutePoint(ctx, p); err != nil {
		return err
	}
	return h.view.Redirect(c, back, flash.Success, "Point added.")
}

// DeletePoint answers JSON for DELETE requests and redirects for form posts.
func (h *RoutesHandler) DeletePoint(c *fiber.Ctx) error {
	routeID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	pointID, err := paramID(c, "pointID")
	if err != nil {
		return err
	}

	if err := h.db.DeleteRoutePoint(c.UserContext(), routeID, pointID); err != nil {
		return err
	}

	if c.Method() == fiber.MethodDelete {
		return c.JSON(fiber.Map{"success": true})
	}
	return h.view.Redirect(c, "/admin/routes/"+itoa(routeID), flash.Success, "Point removed.")
}

// Stores lists stores together with their evaluations and the parameters they are scored on.
func (h *RoutesHandler) Stores(c *fiber.Ctx) error {
	ctx := c.UserContext()
	stores, err := h.db.ListStores(ctx)
	if err != nil {
		return err
	}
	evaluations, err := h.db.ListStoreEvaluations(ctx)
	if err != nil {
		return err
	}
	params, err := h.db.ListParameters(ctx)
	if err != nil {
		return err
	}
	return h.view.Render(c, "admin/stores", "Stores", fiber.Map{
		"Stores":      stores,
		"Evaluations": evaluations,
		"Parameters":  params,
	})
}

func (h *RoutesHandler) CreateStore(c *fiber.Ctx) error {
	var form storeForm
	if err := validation.Bind(c, &form); err != nil {
		return h.view.Redirect(c, "/admin/stores", flash.Danger, formError(err))
	}

	lat, lng, ok := optionalCoordinates(form.Lat, form.Lng)
	if !ok {
		return h.view.Redirect(c, "/admin/stores", flash.Danger, "Invalid coordinates.")
	}

	s := &models.Store{Name: strings.TrimSpace(form.Name), Lat: lat, Lng: lng}
	if err := h.db.CreateStore(c.UserContext(), s); err != nil {
		return err
	}
	return h.view.Redirect(c, "/admin/stores", flash.Success, "Store "+s.Name+" added.")
}
