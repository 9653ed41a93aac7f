package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/auth"
	"github.com/fieldsales/backend/internal/metrics"
	"github.com/fieldsales/backend/internal/middleware/validation"
	"github.com/fieldsales/backend/internal/storage"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/internal/storage/sqlite"
	"github.com/fieldsales/backend/internal/tracking"
	"github.com/fieldsales/backend/pkg/logger"
)

const pingInterval = 30 * time.Second

// WebSocketHandler serves the marketer field API and the observer live location feed.
type WebSocketHandler struct {
	db   *sqlite.Client
	hub  *tracking.Hub
	view *View
	now  func() time.Time
}

func NewWebSocketHandler(db *sqlite.Client, hub *tracking.Hub, view *View) *WebSocketHandler {
	return &WebSocketHandler{
		db:   db,
		hub:  hub,
		view: view,
		now:  time.Now,
	}
}

func (h *WebSocketHandler) MarketerPage(c *fiber.Ctx) error {
	return h.view.Render(c, "marketer/index", "My routes", nil)
}

func (h *WebSocketHandler) ObserverPage(c *fiber.Ctx) error {
	return h.view.Render(c, "observer/index", "Live locations", nil)
}

type pointJSON struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
	Order   int     `json:"order"`
}

type routeJSON struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Completed   bool        `json:"completed"`
	Points      []pointJSON `json:"points"`
}

// AssignedRoutes lists the caller's active routes with points in visiting order.
func (h *WebSocketHandler) AssignedRoutes(c *fiber.Ctx) error {
	u := auth.CurrentUser(c)
	routes, assignments, err := h.db.ListAssignedRoutes(c.UserContext(), u.ID)
	if err != nil {
		return err
	}

	out := make([]routeJSON, 0, len(routes))
	for i, r := range routes {
		points := make([]pointJSON, 0, len(r.Points))
		for _, p := range r.Points {
			points = append(points, pointJSON{
				ID:      p.ID,
				Name:    p.Name,
				Lat:     p.Latitude,
				Lng:     p.Longitude,
				Address: p.Address,
				Order:   p.Order,
			})
		}
		out = append(out, routeJSON{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Completed:   assignments[i].Completed,
			Points:      points,
		})
	}
	return c.JSON(out)
}

func (h *WebSocketHandler) CompleteRoute(c *fiber.Ctx) error {
	routeID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	u := auth.CurrentUser(c)

	err = h.db.CompleteAssignment(c.UserContext(), routeID, u.ID, h.now())
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Route not assigned"})
	}
	if err != nil {
		return err
	}

	logger.Info("Route completed", zap.Int64("route_id", routeID), zap.String("marketer", u.Username))
	return c.JSON(fiber.Map{"success": true})
}

// UpdateLocation stores the caller's position and pushes it to live subscribers.
func (h *WebSocketHandler) UpdateLocation(c *fiber.Ctx) error {
	var body validation.Coordinates
	if err := validation.Bind(c, &body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid coordinates"})
	}

	u := auth.CurrentUser(c)
	at := h.now()
	if err := h.db.UpdateLocation(c.UserContext(), u.ID, *body.Latitude, *body.Longitude, at); err != nil {
		return err
	}

	metrics.LocationUpdates.Inc()
	h.hub.Publish(tracking.Location{
		ID:         u.ID,
		Name:       u.DisplayName(),
		Lat:        *body.Latitude,
		Lng:        *body.Longitude,
		LastUpdate: at,
	})
	return c.JSON(fiber.Map{"success": true})
}

func locationOf(m *models.User) (tracking.Location, bool) {
	if m.CurrentLat == nil || m.CurrentLng == nil {
		return tracking.Location{}, false
	}
	loc := tracking.Location{
		ID:   m.ID,
		Name: m.DisplayName(),
		Lat:  *m.CurrentLat,
		Lng:  *m.CurrentLng,
	}
	if m.LastLocationUpdate != nil {
		loc.LastUpdate = *m.LastLocationUpdate
	}
	return loc, true
}

// MarketerLocations lists active marketers with a known position.
func (h *WebSocketHandler) MarketerLocations(c *fiber.Ctx) error {
	marketers, err := h.db.ListMarketers(c.UserContext(), true)
	if err != nil {
		return err
	}

	out := make([]tracking.Location, 0, len(marketers))
	for _, m := range marketers {
		if loc, ok := locationOf(m); ok {
			out = append(out, loc)
		}
	}
	return c.JSON(out)
}

// Upgrade rejects plain HTTP requests to the feed.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleConnection streams location updates until the client goes away.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	logger.Info("Location feed connected")

	updates, unsubscribe := h.hub.Subscribe(ctx)
	defer func() {
		cancel()
		unsubscribe()
		c.Close()
		logger.Info("Location feed closed")
	}()

	// Reads only detect the client closing the socket.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case loc, ok := <-updates:
			if !ok {
				return
			}
			if err := c.WriteJSON(fiber.Map{"type": "location", "location": loc}); err != nil {
				logger.Debug("Failed to write location update", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
