package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fieldsales/backend/internal/storage/models"
)

const userColumns = `id, username, password_hash, role, email, full_name, is_active,
	current_lat, current_lng, last_location_update, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u          models.User
		email      sql.NullString
		isActive   int
		lat, lng   sql.NullFloat64
		lastUpdate sql.NullInt64
		createdAt  int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &email, &u.FullName, &isActive,
		&lat, &lng, &lastUpdate, &createdAt)
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.IsActive = isActive == 1
	u.CurrentLat = floatFromNull(lat)
	u.CurrentLng = floatFromNull(lng)
	u.LastLocationUpdate = timeFromNull(lastUpdate)
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

func nullableString(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func (c *Client) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now()
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, email, full_name, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.Role, nullableString(u.Email), u.FullName,
		boolToInt(u.IsActive), now.Unix())
	if err != nil {
		return mapError(err, "create user")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}
	u.ID = id
	u.CreatedAt = time.Unix(now.Unix(), 0)
	return nil
}

// UpdateUser writes the profile fields. An empty PasswordHash keeps the stored one.
func (c *Client) UpdateUser(ctx context.Context, u *models.User) error {
	query := `UPDATE users SET username = ?, role = ?, email = ?, full_name = ?, is_active = ?`
	args := []interface{}{u.Username, u.Role, nullableString(u.Email), u.FullName, boolToInt(u.IsActive)}
	if u.PasswordHash != "" {
		query += `, password_hash = ?`
		args = append(args, u.PasswordHash)
	}
	query += ` WHERE id = ?`
	args = append(args, u.ID)

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err, "update user")
	}
	return expectAffected(res)
}

func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "delete user")
	}
	return expectAffected(res)
}

func (c *Client) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err, "get user")
	}
	return u, nil
}

func (c *Client) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err, "get user")
	}
	return u, nil
}

// ListUsers returns users whose username or email contains search, ignoring case.
func (c *Client) ListUsers(ctx context.Context, search string) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []interface{}
	if s := strings.TrimSpace(search); s != "" {
		query += ` WHERE username LIKE ? COLLATE NOCASE OR email LIKE ? COLLATE NOCASE`
		pattern := "%" + s + "%"
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY id`
	return c.queryUsers(ctx, query, args...)
}

func (c *Client) ListMarketers(ctx context.Context, activeOnly bool) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY username`
	return c.queryUsers(ctx, query, models.RoleMarketer)
}

func (c *Client) queryUsers(ctx context.Context, query string, args ...interface{}) ([]*models.User, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (c *Client) CountUsersByRole(ctx context.Context) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{
		models.RoleAdmin:    0,
		models.RoleMarketer: 0,
		models.RoleObserver: 0,
	}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("failed to scan role count: %w", err)
		}
		counts[role] = n
	}
	return counts, rows.Err()
}

func (c *Client) UpdateLocation(ctx context.Context, userID int64, lat, lng float64, at time.Time) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE users SET current_lat = ?, current_lng = ?, last_location_update = ? WHERE id = ?`,
		lat, lng, at.Unix(), userID)
	if err != nil {
		return mapError(err, "update location")
	}
	return expectAffected(res)
}
