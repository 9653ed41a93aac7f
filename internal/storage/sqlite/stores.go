package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fieldsales/backend/internal/storage/models"
)

func (c *Client) CreateStore(ctx context.Context, s *models.Store) error {
	now := time.Now().Unix()
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO stores (name, lat, lng, created_at) VALUES (?, ?, ?, ?)`,
		s.Name, floatOrNil(s.Lat), floatOrNil(s.Lng), now)
	if err != nil {
		return mapError(err, "create store")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read store id: %w", err)
	}
	s.ID = id
	s.CreatedAt = time.Unix(now, 0)
	return nil
}

func (c *Client) ListStores(ctx context.Context) ([]*models.Store, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, lat, lng, created_at FROM stores ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stores: %w", err)
	}
	defer rows.Close()

	var stores []*models.Store
	for rows.Next() {
		var (
			s         models.Store
			lat, lng  sql.NullFloat64
			createdAt int64
		)
		if err := rows.Scan(&s.ID, &s.Name, &lat, &lng, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		s.Lat = floatFromNull(lat)
		s.Lng = floatFromNull(lng)
		s.CreatedAt = time.Unix(createdAt, 0)
		stores = append(stores, &s)
	}
	return stores, rows.Err()
}

func (c *Client) GetStore(ctx context.Context, id int64) (*models.Store, error) {
	var (
		s         models.Store
		lat, lng  sql.NullFloat64
		createdAt int64
	)
	err := c.db.QueryRowContext(ctx, `SELECT id, name, lat, lng, created_at FROM stores WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &lat, &lng, &createdAt)
	if err != nil {
		return nil, mapError(err, "get store")
	}
	s.Lat = floatFromNull(lat)
	s.Lng = floatFromNull(lng)
	s.CreatedAt = time.Unix(createdAt, 0)
	return &s, nil
}

const dateLayout = "2006-01-02"

func dateOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

func dateFromNull(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, v.String)
	if err != nil {
		return nil
	}
	return &t
}

// CreateStoreEvaluation stores the evaluation and its details in one transaction.
func (c *Client) CreateStoreEvaluation(ctx context.Context, e *models.StoreEvaluation) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return c.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO store_evaluations (store_id, start_date, end_date, total_score, category, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.StoreID, dateOrNil(e.StartDate), dateOrNil(e.EndDate), e.TotalScore, e.Category, e.CreatedAt.Unix())
		if err != nil {
			return mapError(err, "create store evaluation")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read store evaluation id: %w", err)
		}

		for i := range e.Details {
			d := &e.Details[i]
			var paramID interface{}
			if d.ParameterID != nil {
				paramID = *d.ParameterID
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO store_evaluation_details (evaluation_id, parameter_id, parameter_name, weight, score)
				VALUES (?, ?, ?, ?, ?)`,
				id, paramID, d.ParameterName, d.Weight, d.Score)
			if err != nil {
				return mapError(err, "insert store evaluation detail")
			}
			if d.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to read detail id: %w", err)
			}
			d.EvaluationID = id
		}
		e.ID = id
		return nil
	})
}

// ListStoreEvaluations returns evaluations newest first with their details.
func (c *Client) ListStoreEvaluations(ctx context.Context) ([]*models.StoreEvaluation, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT e.id, e.store_id, s.name, e.start_date, e.end_date, e.total_score, e.category, e.created_at
		FROM store_evaluations e JOIN stores s ON s.id = e.store_id
		ORDER BY e.created_at DESC, e.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query store evaluations: %w", err)
	}
	defer rows.Close()

	var (
		evals []*models.StoreEvaluation
		byID  = make(map[int64]*models.StoreEvaluation)
	)
	for rows.Next() {
		var (
			e          models.StoreEvaluation
			start, end sql.NullString
			createdAt  int64
		)
		if err := rows.Scan(&e.ID, &e.StoreID, &e.StoreName, &start, &end, &e.TotalScore, &e.Category,
			&createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan store evaluation: %w", err)
		}
		e.StartDate = dateFromNull(start)
		e.EndDate = dateFromNull(end)
		e.CreatedAt = time.Unix(createdAt, 0)
		evals = append(evals, &e)
		byID[e.ID] = &e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(evals) == 0 {
		return evals, nil
	}

	details, err := c.db.QueryContext(ctx,
		`SELECT id, evaluation_id, parameter_id, parameter_name, weight, score
		FROM store_evaluation_details ORDER BY evaluation_id, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query store evaluation details: %w", err)
	}
	defer details.Close()

	for details.Next() {
		var (
			d       models.StoreEvaluationDetail
			paramID sql.NullInt64
		)
		if err := details.Scan(&d.ID, &d.EvaluationID, &paramID, &d.ParameterName, &d.Weight, &d.Score); err != nil {
			return nil, fmt.Errorf("failed to scan store evaluation detail: %w", err)
		}
		if paramID.Valid {
			id := paramID.Int64
			d.ParameterID = &id
		}
		if e, ok := byID[d.EvaluationID]; ok {
			e.Details = append(e.Details, d)
		}
	}
	return evals, details.Err()
}

func (c *Client) DeleteStoreEvaluation(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM store_evaluations WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "delete store evaluation")
	}
	return expectAffected(res)
}
