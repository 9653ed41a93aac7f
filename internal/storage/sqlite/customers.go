package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fieldsales/backend/internal/storage"
	"github.com/fieldsales/backend/internal/storage/models"
)

const customerColumns = `id, number, name, branch_name, caption, province, city, address, phone,
	latitude, longitude, grade, created_at`

func scanCustomer(row rowScanner) (*models.Customer, error) {
	var (
		cu        models.Customer
		lat, lng  sql.NullFloat64
		createdAt int64
	)
	err := row.Scan(&cu.ID, &cu.Number, &cu.Name, &cu.BranchName, &cu.Caption, &cu.Province, &cu.City,
		&cu.Address, &cu.Phone, &lat, &lng, &cu.Grade, &createdAt)
	if err != nil {
		return nil, err
	}
	cu.Latitude = floatFromNull(lat)
	cu.Longitude = floatFromNull(lng)
	cu.CreatedAt = time.Unix(createdAt, 0)
	return &cu, nil
}

// InsertCustomers stores an imported sheet in one transaction.
func (c *Client) InsertCustomers(ctx context.Context, customers []*models.Customer) error {
	now := time.Now().Unix()
	return c.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO customers (number, name, branch_name, caption, province, city, address, phone,
			latitude, longitude, grade, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare customer insert: %w", err)
		}
		defer stmt.Close()

		for _, cu := range customers {
			res, err := stmt.ExecContext(ctx, cu.Number, cu.Name, cu.BranchName, cu.Caption, cu.Province,
				cu.City, cu.Address, cu.Phone, floatOrNil(cu.Latitude), floatOrNil(cu.Longitude), cu.Grade, now)
			if err != nil {
				return mapError(err, "insert customer")
			}
			if cu.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to read customer id: %w", err)
			}
			cu.CreatedAt = time.Unix(now, 0)
		}
		return nil
	})
}

func (c *Client) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	cu, err := scanCustomer(row)
	if err != nil {
		return nil, mapError(err, "get customer")
	}
	return cu, nil
}

// FindCustomerByNumber returns the oldest customer carrying number.
func (c *Client) FindCustomerByNumber(ctx context.Context, number string) (*models.Customer, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, storage.ErrNotFound
	}
	row := c.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE number = ? ORDER BY id LIMIT 1`, number)
	cu, err := scanCustomer(row)
	if err != nil {
		return nil, mapError(err, "find customer")
	}
	return cu, nil
}

func (c *Client) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		cu, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, cu)
	}
	return customers, rows.Err()
}

func (c *Client) UpdateCustomer(ctx context.Context, cu *models.Customer) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE customers SET number = ?, name = ?, branch_name = ?, caption = ?, province = ?, city = ?,
		address = ?, phone = ?, latitude = ?, longitude = ? WHERE id = ?`,
		cu.Number, cu.Name, cu.BranchName, cu.Caption, cu.Province, cu.City, cu.Address, cu.Phone,
		floatOrNil(cu.Latitude), floatOrNil(cu.Longitude), cu.ID)
	if err != nil {
		return mapError(err, "update customer")
	}
	return expectAffected(res)
}

func (c *Client) DeleteCustomer(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "delete customer")
	}
	return expectAffected(res)
}

func (c *Client) SetCustomerGrade(ctx context.Context, id int64, grade string) error {
	res, err := c.db.ExecContext(ctx, `UPDATE customers SET grade = ? WHERE id = ?`, grade, id)
	if err != nil {
		return mapError(err, "set customer grade")
	}
	return expectAffected(res)
}

// CountCustomersByGrade counts customers of a province per cached grade, matching the
// province name case-insensitively and ignoring surrounding blanks. Customers never
// evaluated carry an empty grade and are counted as ungraded.
func (c *Client) CountCustomersByGrade(ctx context.Context, province string) (map[string]int, error) {
	return c.countGrades(ctx,
		`SELECT grade, COUNT(*) FROM customers WHERE lower(trim(province)) = lower(trim(?)) GROUP BY grade`,
		province)
}

// CountAllCustomersByGrade is CountCustomersByGrade across every province.
func (c *Client) CountAllCustomersByGrade(ctx context.Context) (map[string]int, error) {
	return c.countGrades(ctx, `SELECT grade, COUNT(*) FROM customers GROUP BY grade`)
}

func (c *Client) countGrades(ctx context.Context, query string, args ...interface{}) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count customers: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var grade string
		var n int
		if err := rows.Scan(&grade, &n); err != nil {
			return nil, fmt.Errorf("failed to scan grade count: %w", err)
		}
		if grade == "" {
			grade = models.Ungraded
		}
		counts[grade] += n
	}
	return counts, rows.Err()
}

func (c *Client) InsertRouteReports(ctx context.Context, reports []*models.RouteReport) error {
	now := time.Now().Unix()
	return c.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO route_reports (route_number, route_name, number_of_customers, employee_intermediary,
			sales_center, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare route report insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range reports {
			var n interface{}
			if r.NumberOfCustomers != nil {
				n = *r.NumberOfCustomers
			}
			res, err := stmt.ExecContext(ctx, r.RouteNumber, r.RouteName, n, r.EmployeeIntermediary,
				r.SalesCenter, now)
			if err != nil {
				return mapError(err, "insert route report")
			}
			if r.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to read route report id: %w", err)
			}
			r.CreatedAt = time.Unix(now, 0)
		}
		return nil
	})
}

func (c *Client) ListRouteReports(ctx context.Context) ([]*models.RouteReport, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, route_number, route_name, number_of_customers, employee_intermediary, sales_center, created_at
		FROM route_reports ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query route reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.RouteReport
	for rows.Next() {
		var (
			r         models.RouteReport
			n         sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.RouteNumber, &r.RouteName, &n, &r.EmployeeIntermediary,
			&r.SalesCenter, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan route report: %w", err)
		}
		if n.Valid {
			v := int(n.Int64)
			r.NumberOfCustomers = &v
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		reports = append(reports, &r)
	}
	return reports, rows.Err()
}

func (c *Client) DeleteRouteReport(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM route_reports WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "delete route report")
	}
	return expectAffected(res)
}
