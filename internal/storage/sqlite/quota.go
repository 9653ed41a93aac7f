package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fieldsales/backend/internal/storage/models"
)

// UpsertProvinces inserts provinces by name, refreshing the population of existing ones.
func (c *Client) UpsertProvinces(ctx context.Context, provinces []models.Province) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range provinces {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO provinces (name, population) VALUES (?, ?)
				ON CONFLICT(name) DO UPDATE SET population = excluded.population`,
				p.Name, p.Population); err != nil {
				return mapError(err, "upsert province")
			}
		}
		return nil
	})
}

func (c *Client) ListProvinces(ctx context.Context) ([]models.Province, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, population FROM provinces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query provinces: %w", err)
	}
	defer rows.Close()

	var provinces []models.Province
	for rows.Next() {
		var p models.Province
		if err := rows.Scan(&p.ID, &p.Name, &p.Population); err != nil {
			return nil, fmt.Errorf("failed to scan province: %w", err)
		}
		provinces = append(provinces, p)
	}
	return provinces, rows.Err()
}

func (c *Client) GetProvince(ctx context.Context, id int64) (*models.Province, error) {
	var p models.Province
	err := c.db.QueryRowContext(ctx, `SELECT id, name, population FROM provinces WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Population)
	if err != nil {
		return nil, mapError(err, "get province")
	}
	return &p, nil
}

// ReplaceProvinceTargets swaps the whole target set atomically.
func (c *Client) ReplaceProvinceTargets(ctx context.Context, targets []models.ProvinceTarget) error {
	now := time.Now().Unix()
	return c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM province_targets`); err != nil {
			return mapError(err, "clear province targets")
		}
		for i := range targets {
			t := &targets[i]
			res, err := tx.ExecContext(ctx,
				`INSERT INTO province_targets (province_id, percentage, liter_capacity, shrink_capacity, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				t.ProvinceID, floatOrNil(t.Percentage), floatOrNil(t.LiterCapacity), floatOrNil(t.ShrinkCapacity), now)
			if err != nil {
				return mapError(err, "insert province target")
			}
			if t.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to read target id: %w", err)
			}
			t.CreatedAt = time.Unix(now, 0)
		}
		return nil
	})
}

const targetQuery = `SELECT t.id, t.province_id, p.name, p.population, t.percentage, t.liter_capacity,
	t.shrink_capacity, t.created_at
	FROM province_targets t JOIN provinces p ON p.id = t.province_id`

func scanTarget(row rowScanner) (*models.ProvinceTarget, error) {
	var (
		t                   models.ProvinceTarget
		pct, liters, shrink sql.NullFloat64
		createdAt           int64
	)
	if err := row.Scan(&t.ID, &t.ProvinceID, &t.ProvinceName, &t.Population, &pct, &liters, &shrink,
		&createdAt); err != nil {
		return nil, err
	}
	t.Percentage = floatFromNull(pct)
	t.LiterCapacity = floatFromNull(liters)
	t.ShrinkCapacity = floatFromNull(shrink)
	t.CreatedAt = time.Unix(createdAt, 0)
	return &t, nil
}

func (c *Client) ListProvinceTargets(ctx context.Context) ([]models.ProvinceTarget, error) {
	rows, err := c.db.QueryContext(ctx, targetQuery+` ORDER BY p.population DESC, p.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query province targets: %w", err)
	}
	defer rows.Close()

	var targets []models.ProvinceTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan province target: %w", err)
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}

func (c *Client) GetProvinceTarget(ctx context.Context, provinceID int64) (*models.ProvinceTarget, error) {
	t, err := scanTarget(c.db.QueryRowContext(ctx, targetQuery+` WHERE t.province_id = ?`, provinceID))
	if err != nil {
		return nil, mapError(err, "get province target")
	}
	return t, nil
}

func (c *Client) ListGradeWeights(ctx context.Context) (map[string]float64, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT grade_letter, weight FROM grade_weights`)
	if err != nil {
		return nil, fmt.Errorf("failed to query grade weights: %w", err)
	}
	defer rows.Close()

	weights := make(map[string]float64)
	for rows.Next() {
		var grade string
		var w float64
		if err := rows.Scan(&grade, &w); err != nil {
			return nil, fmt.Errorf("failed to scan grade weight: %w", err)
		}
		weights[grade] = w
	}
	return weights, rows.Err()
}

// SetGradeWeights replaces the stored overrides with weights.
func (c *Client) SetGradeWeights(ctx context.Context, weights map[string]float64) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM grade_weights`); err != nil {
			return mapError(err, "clear grade weights")
		}
		for grade, w := range weights {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO grade_weights (grade_letter, weight) VALUES (?, ?)`, grade, w); err != nil {
				return mapError(err, "insert grade weight")
			}
		}
		return nil
	})
}

func (c *Client) ResetGradeWeights(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM grade_weights`); err != nil {
		return mapError(err, "reset grade weights")
	}
	return nil
}

// CreateQuotaCategory fails with storage.ErrConflict when the category exists.
func (c *Client) CreateQuotaCategory(ctx context.Context, qc *models.QuotaCategory) error {
	now := time.Now().Unix()
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO quota_categories (category, monthly_quota, created_at) VALUES (?, ?, ?)`,
		qc.Category, qc.MonthlyQuota, now)
	if err != nil {
		return mapError(err, "create quota category")
	}
	if qc.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read quota category id: %w", err)
	}
	qc.CreatedAt = time.Unix(now, 0)
	return nil
}

func (c *Client) ListQuotaCategories(ctx context.Context) ([]models.QuotaCategory, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, category, monthly_quota, created_at FROM quota_categories ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to query quota categories: %w", err)
	}
	defer rows.Close()

	var categories []models.QuotaCategory
	for rows.Next() {
		var (
			qc        models.QuotaCategory
			createdAt int64
		)
		if err := rows.Scan(&qc.ID, &qc.Category, &qc.MonthlyQuota, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan quota category: %w", err)
		}
		qc.CreatedAt = time.Unix(createdAt, 0)
		categories = append(categories, qc)
	}
	return categories, rows.Err()
}

func (c *Client) DeleteQuotaCategory(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM quota_categories WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "delete quota category")
	}
	return expectAffected(res)
}
