package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldsales/backend/internal/storage"
	"github.com/fieldsales/backend/internal/storage/models"
)

func (c *Client) ListThresholds(ctx context.Context) ([]models.GradeThreshold, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, grade_letter, min_score FROM grade_thresholds ORDER BY min_score DESC, grade_letter`)
	if err != nil {
		return nil, fmt.Errorf("failed to query thresholds: %w", err)
	}
	defer rows.Close()

	var thresholds []models.GradeThreshold
	for rows.Next() {
		var t models.GradeThreshold
		if err := rows.Scan(&t.ID, &t.GradeLetter, &t.MinScore); err != nil {
			return nil, fmt.Errorf("failed to scan threshold: %w", err)
		}
		thresholds = append(thresholds, t)
	}
	return thresholds, rows.Err()
}

// CreateThreshold fails with storage.ErrConflict when the letter exists.
func (c *Client) CreateThreshold(ctx context.Context, t *models.GradeThreshold) error {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO grade_thresholds (grade_letter, min_score) VALUES (?, ?)`, t.GradeLetter, t.MinScore)
	if err != nil {
		return mapError(err, "create threshold")
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read threshold id: %w", err)
	}
	return nil
}

func (c *Client) UpdateThreshold(ctx context.Context, id int64, minScore float64) error {
	res, err := c.db.ExecContext(ctx, `UPDATE grade_thresholds SET min_score = ? WHERE id = ?`, minScore, id)
	if err != nil {
		return mapError(err, "update threshold")
	}
	return expectAffected(res)
}

func (c *Client) DeleteThreshold(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM grade_thresholds WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "delete threshold")
	}
	return expectAffected(res)
}

func (c *Client) ListCriteria(ctx context.Context) ([]models.DescriptiveCriterion, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, parameter_name, criterion, score FROM descriptive_criteria ORDER BY parameter_name, criterion_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query criteria: %w", err)
	}
	defer rows.Close()

	var criteria []models.DescriptiveCriterion
	for rows.Next() {
		var dc models.DescriptiveCriterion
		if err := rows.Scan(&dc.ID, &dc.ParameterName, &dc.Criterion, &dc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan criterion: %w", err)
		}
		criteria = append(criteria, dc)
	}
	return criteria, rows.Err()
}

// CreateCriterion rejects a criterion already registered for the parameter, ignoring case.
func (c *Client) CreateCriterion(ctx context.Context, dc *models.DescriptiveCriterion) error {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO descriptive_criteria (parameter_name, criterion, criterion_key, score) VALUES (?, ?, ?, ?)`,
		dc.ParameterName, dc.Criterion, models.CriterionKey(dc.Criterion), dc.Score)
	if err != nil {
		return mapError(err, "create criterion")
	}
	if dc.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read criterion id: %w", err)
	}
	return nil
}

// UpsertCriteria inserts unknown criteria and rewrites the score of known ones when it differs.
func (c *Client) UpsertCriteria(ctx context.Context, criteria []models.DescriptiveCriterion) (inserted, updated int, err error) {
	err = c.withTx(ctx, func(tx *sql.Tx) error {
		for _, dc := range criteria {
			key := models.CriterionKey(dc.Criterion)

			var (
				id    int64
				score float64
			)
			qErr := tx.QueryRowContext(ctx,
				`SELECT id, score FROM descriptive_criteria WHERE parameter_name = ? AND criterion_key = ?`,
				dc.ParameterName, key).Scan(&id, &score)

			switch {
			case errors.Is(qErr, sql.ErrNoRows):
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO descriptive_criteria (parameter_name, criterion, criterion_key, score) VALUES (?, ?, ?, ?)`,
					dc.ParameterName, dc.Criterion, key, dc.Score); err != nil {
					return mapError(err, "insert criterion")
				}
				inserted++
			case qErr != nil:
				return fmt.Errorf("failed to look up criterion: %w", qErr)
			case score != dc.Score:
				if _, err := tx.ExecContext(ctx,
					`UPDATE descriptive_criteria SET score = ? WHERE id = ?`, dc.Score, id); err != nil {
					return mapError(err, "update criterion")
				}
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}

func (c *Client) DeleteCriterion(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM descriptive_criteria WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "delete criterion")
	}
	return expectAffected(res)
}

func (c *Client) ListParameters(ctx context.Context) ([]models.EvaluationParameter, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, weight, created_at FROM evaluation_parameters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query parameters: %w", err)
	}
	defer rows.Close()

	var params []models.EvaluationParameter
	for rows.Next() {
		var (
			p         models.EvaluationParameter
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Weight, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan parameter: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		params = append(params, p)
	}
	return params, rows.Err()
}

// CreateParameter fails with storage.ErrConflict when the name exists.
func (c *Client) CreateParameter(ctx context.Context, p *models.EvaluationParameter) error {
	now := time.Now().Unix()
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO evaluation_parameters (name, weight, created_at) VALUES (?, ?, ?)`, p.Name, p.Weight, now)
	if err != nil {
		return mapError(err, "create parameter")
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read parameter id: %w", err)
	}
	p.CreatedAt = time.Unix(now, 0)
	return nil
}

func (c *Client) UpdateParameterWeight(ctx context.Context, id int64, weight float64) error {
	res, err := c.db.ExecContext(ctx, `UPDATE evaluation_parameters SET weight = ? WHERE id = ?`, weight, id)
	if err != nil {
		return mapError(err, "update parameter")
	}
	return expectAffected(res)
}

// DeleteParameter keeps past store evaluation details; they hold their own copy of name and weight.
func (c *Client) DeleteParameter(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM evaluation_parameters WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "delete parameter")
	}
	return expectAffected(res)
}

const recordColumns = `id, customer_id, subject_number, subject_name, total_score, assigned_grade,
	evaluation_method, batch_id, evaluated_at`

func scanRecord(row rowScanner) (*models.EvaluationRecord, error) {
	var (
		r           models.EvaluationRecord
		customerID  sql.NullInt64
		evaluatedAt int64
	)
	err := row.Scan(&r.ID, &customerID, &r.SubjectNumber, &r.SubjectName, &r.TotalScore, &r.AssignedGrade,
		&r.EvaluationMethod, &r.BatchID, &evaluatedAt)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		id := customerID.Int64
		r.CustomerID = &id
	}
	r.EvaluatedAt = time.Unix(evaluatedAt, 0)
	return &r, nil
}

// SaveEvaluation stores a record and, when it is linked to a customer, caches the grade on
// the customer in the same transaction.
func (c *Client) SaveEvaluation(ctx context.Context, r *models.EvaluationRecord) error {
	if r.EvaluatedAt.IsZero() {
		r.EvaluatedAt = time.Now()
	}
	return c.withTx(ctx, func(tx *sql.Tx) error {
		var customerID interface{}
		if r.CustomerID != nil {
			customerID = *r.CustomerID
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO evaluation_records (customer_id, subject_number, subject_name, total_score,
			assigned_grade, evaluation_method, batch_id, evaluated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			customerID, r.SubjectNumber, r.SubjectName, r.TotalScore, r.AssignedGrade, r.EvaluationMethod,
			r.BatchID, r.EvaluatedAt.Unix())
		if err != nil {
			return mapError(err, "save evaluation")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read evaluation id: %w", err)
		}

		if r.CustomerID != nil {
			if err := setGradeTx(ctx, tx, *r.CustomerID, r.AssignedGrade); err != nil {
				return err
			}
		}
		r.ID = id
		return nil
	})
}

func setGradeTx(ctx context.Context, tx *sql.Tx, customerID int64, grade string) error {
	res, err := tx.ExecContext(ctx, `UPDATE customers SET grade = ? WHERE id = ?`, grade, customerID)
	if err != nil {
		return mapError(err, "set customer grade")
	}
	if err := expectAffected(res); err != nil {
		return fmt.Errorf("failed to set grade of customer %d: %w", customerID, err)
	}
	return nil
}

// UpdateEvaluationScore rewrites score and grade of a record and of its linked customer.
func (c *Client) UpdateEvaluationScore(ctx context.Context, id int64, score float64, grade string) (*models.EvaluationRecord, error) {
	var updated *models.EvaluationRecord
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE evaluation_records SET total_score = ?, assigned_grade = ? WHERE id = ?`, score, grade, id)
		if err != nil {
			return mapError(err, "update evaluation")
		}
		if err := expectAffected(res); err != nil {
			return err
		}

		r, err := scanRecord(tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM evaluation_records WHERE id = ?`, id))
		if err != nil {
			return mapError(err, "reload evaluation")
		}
		if r.CustomerID != nil {
			if err := setGradeTx(ctx, tx, *r.CustomerID, grade); err != nil {
				return err
			}
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *Client) GetEvaluation(ctx context.Context, id int64) (*models.EvaluationRecord, error) {
	r, err := scanRecord(c.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM evaluation_records WHERE id = ?`, id))
	if err != nil {
		return nil, mapError(err, "get evaluation")
	}
	return r, nil
}

// ListEvaluations returns records newest first, restricted to one batch when batchID is set.
func (c *Client) ListEvaluations(ctx context.Context, batchID string) ([]*models.EvaluationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM evaluation_records`
	var args []interface{}
	if batchID != "" {
		query += ` WHERE batch_id = ?`
		args = append(args, batchID)
	}
	query += ` ORDER BY evaluated_at DESC, id DESC`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	var records []*models.EvaluationRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (c *Client) ListBatches(ctx context.Context) ([]models.BatchSummary, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT batch_id, COUNT(*), MAX(evaluated_at) FROM evaluation_records
		WHERE batch_id != '' GROUP BY batch_id ORDER BY MAX(evaluated_at) DESC, batch_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []models.BatchSummary
	for rows.Next() {
		var (
			b  models.BatchSummary
			at int64
		)
		if err := rows.Scan(&b.BatchID, &b.Records, &at); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b.EvaluatedAt = time.Unix(at, 0)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (c *Client) DeleteEvaluation(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM evaluation_records WHERE id = ?`, id)
	if err != nil {
		return mapError(err, "delete evaluation")
	}
	return expectAffected(res)
}

// DeleteBatch removes every record of a batch and reports how many went.
func (c *Client) DeleteBatch(ctx context.Context, batchID string) (int64, error) {
	if batchID == "" {
		return 0, storage.ErrNotFound
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM evaluation_records WHERE batch_id = ?`, batchID)
	if err != nil {
		return 0, mapError(err, "delete batch")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return 0, storage.ErrNotFound
	}
	return n, nil
}
