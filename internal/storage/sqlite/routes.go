package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fieldsales/backend/internal/storage/models"
)

// CreateRoute inserts the route and its marketer assignments together.
func (c *Client) CreateRoute(ctx context.Context, r *models.Route) error {
	now := time.Now().Unix()
	return c.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO routes (name, description, is_active, created_at) VALUES (?, ?, ?, ?)`,
			r.Name, r.Description, boolToInt(r.IsActive), now)
		if err != nil {
			return mapError(err, "create route")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read route id: %w", err)
		}

		for _, marketerID := range r.MarketerIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO route_assignments (route_id, marketer_id, assigned_at) VALUES (?, ?, ?)`,
				id, marketerID, now); err != nil {
				return mapError(err, "assign route")
			}
		}

		r.ID = id
		r.CreatedAt = time.Unix(now, 0)
		return nil
	})
}

func (c *Client) GetRoute(ctx context.Context, id int64) (*models.Route, error) {
	var (
		r         models.Route
		isActive  int
		createdAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, description, is_active, created_at FROM routes WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.Description, &isActive, &createdAt)
	if err != nil {
		return nil, mapError(err, "get route")
	}
	r.IsActive = isActive == 1
	r.CreatedAt = time.Unix(createdAt, 0)

	if r.Points, err = c.listPoints(ctx, id); err != nil {
		return nil, err
	}
	if r.MarketerIDs, err = c.listAssignedMarketers(ctx, id); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ListRoutes(ctx context.Context) ([]*models.Route, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, description, is_active, created_at FROM routes ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var routes []*models.Route
	for rows.Next() {
		var (
			r         models.Route
			isActive  int
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &isActive, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		r.IsActive = isActive == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		routes = append(routes, &r)
	}
	return routes, rows.Err()
}

func (c *Client) listPoints(ctx context.Context, routeID int64) ([]models.RoutePoint, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, route_id, name, latitude, longitude, address, point_order, created_at
		FROM route_points WHERE route_id = ? ORDER BY point_order, id`, routeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query route points: %w", err)
	}
	defer rows.Close()

	var points []models.RoutePoint
	for rows.Next() {
		var (
			p         models.RoutePoint
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.RouteID, &p.Name, &p.Latitude, &p.Longitude, &p.Address,
			&p.Order, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan route point: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (c *Client) listAssignedMarketers(ctx context.Context, routeID int64) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT marketer_id FROM route_assignments WHERE route_id = ? AND is_active = 1 ORDER BY marketer_id`,
		routeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *Client) AddRoutePoint(ctx context.Context, p *models.RoutePoint) error {
	now := time.Now().Unix()
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO route_points (route_id, name, latitude, longitude, address, point_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.RouteID, p.Name, p.Latitude, p.Longitude, p.Address, p.Order, now)
	if err != nil {
		return mapError(err, "add route point")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read point id: %w", err)
	}
	p.ID = id
	p.CreatedAt = time.Unix(now, 0)
	return nil
}

// DeleteRoutePoint removes a point only when it belongs to routeID.
func (c *Client) DeleteRoutePoint(ctx context.Context, routeID, pointID int64) error {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM route_points WHERE id = ? AND route_id = ?`, pointID, routeID)
	if err != nil {
		return mapError(err, "delete route point")
	}
	return expectAffected(res)
}

// ListAssignedRoutes returns the active routes currently assigned to a marketer,
// with points ordered and the completion flag of the assignment.
func (c *Client) ListAssignedRoutes(ctx context.Context, marketerID int64) ([]*models.Route, []models.RouteAssignment, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT ra.id, ra.route_id, ra.marketer_id, ra.assigned_at, ra.is_active, ra.completed, ra.completed_at
		FROM route_assignments ra
		JOIN routes r ON r.id = ra.route_id
		WHERE ra.marketer_id = ? AND ra.is_active = 1 AND r.is_active = 1
		ORDER BY ra.assigned_at, ra.id`, marketerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query assigned routes: %w", err)
	}

	var assignments []models.RouteAssignment
	for rows.Next() {
		var (
			a           models.RouteAssignment
			assignedAt  int64
			isActive    int
			completed   int
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.RouteID, &a.MarketerID, &assignedAt, &isActive, &completed, &completedAt); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.AssignedAt = time.Unix(assignedAt, 0)
		a.IsActive = isActive == 1
		a.Completed = completed == 1
		a.CompletedAt = timeFromNull(completedAt)
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}
	rows.Close()

	routes := make([]*models.Route, 0, len(assignments))
	for _, a := range assignments {
		r, err := c.GetRoute(ctx, a.RouteID)
		if err != nil {
			return nil, nil, err
		}
		routes = append(routes, r)
	}
	return routes, assignments, nil
}

func (c *Client) CompleteAssignment(ctx context.Context, routeID, marketerID int64, at time.Time) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE route_assignments SET completed = 1, completed_at = ?
		WHERE route_id = ? AND marketer_id = ? AND is_active = 1`,
		unixOrNil(&at), routeID, marketerID)
	if err != nil {
		return mapError(err, "complete route")
	}
	return expectAffected(res)
}
