package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/metrics"
	"github.com/fieldsales/backend/internal/storage"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/pkg/logger"
	"github.com/fieldsales/backend/pkg/retry"
)

// Columns identifying the subject of an uploaded row.
const (
	NumberColumn = "Number"
	NameColumn   = "Name"
)

var ErrInvalidScore = errors.New("score is not a finite number")

type Store interface {
	ListThresholds(ctx context.Context) ([]models.GradeThreshold, error)
	ListCriteria(ctx context.Context) ([]models.DescriptiveCriterion, error)
	UpsertCriteria(ctx context.Context, criteria []models.DescriptiveCriterion) (int, int, error)
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	FindCustomerByNumber(ctx context.Context, number string) (*models.Customer, error)
	SaveEvaluation(ctx context.Context, r *models.EvaluationRecord) error
	UpdateEvaluationScore(ctx context.Context, id int64, score float64, grade string) (*models.EvaluationRecord, error)
	DeleteEvaluation(ctx context.Context, id int64) error
	DeleteBatch(ctx context.Context, batchID string) (int64, error)
	ListParameters(ctx context.Context) ([]models.EvaluationParameter, error)
	GetStore(ctx context.Context, id int64) (*models.Store, error)
	CreateStoreEvaluation(ctx context.Context, e *models.StoreEvaluation) error
	DeleteStoreEvaluation(ctx context.Context, id int64) error
}

type Evaluator struct {
	store    Store
	retryCfg retry.Config
	now      func() time.Time
}

func NewEvaluator(store Store, retryCfg retry.Config) *Evaluator {
	return &Evaluator{
		store:    store,
		retryCfg: retryCfg,
		now:      time.Now,
	}
}

type MissingRow struct {
	Line   int
	Number string
	Reason string
}

type FailedRow struct {
	Line   int
	Number string
	Err    string
}

type BatchResult struct {
	BatchID          string
	Records          []*models.EvaluationRecord
	Missing          []MissingRow
	Failed           []FailedRow
	CriteriaInserted int
	CriteriaUpdated  int
}

func (e *Evaluator) scorer(ctx context.Context, overrides []models.DescriptiveCriterion) (*Scorer, error) {
	thresholds, err := e.store.ListThresholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load grade thresholds: %w", err)
	}
	criteria, err := e.store.ListCriteria(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load descriptive criteria: %w", err)
	}
	return NewScorer(NewRegistry(criteria, overrides), NewGradeTable(thresholds)), nil
}

// EvaluateSingle scores one customer from form input and caches the grade on the customer.
func (e *Evaluator) EvaluateSingle(ctx context.Context, customerID int64, row Row, params []ParameterConfig) (*models.EvaluationRecord, error) {
	if err := ValidateParams(params); err != nil {
		return nil, err
	}

	customer, err := e.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer %d: %w", customerID, err)
	}

	scorer, err := e.scorer(ctx, nil)
	if err != nil {
		return nil, err
	}

	total, grade, err := scorer.Score(row, params)
	if err != nil {
		return nil, err
	}

	record := &models.EvaluationRecord{
		CustomerID:       &customer.ID,
		SubjectNumber:    customer.Number,
		SubjectName:      customer.Name,
		TotalScore:       total,
		AssignedGrade:    grade,
		EvaluationMethod: models.MethodManual,
		EvaluatedAt:      e.now(),
	}
	if err := e.save(ctx, record); err != nil {
		return nil, err
	}

	metrics.EvaluationsTotal.WithLabelValues(models.MethodManual).Inc()
	logger.Info("Customer evaluated",
		zap.Int64("customer_id", customerID),
		zap.Float64("total_score", total),
		zap.String("grade", grade),
	)

	return record, nil
}

// EvaluateBatch scores rows in order under one batch id. Each row is committed on its own so
// a failing row never rolls back the ones before it.
func (e *Evaluator) EvaluateBatch(ctx context.Context, rows []Row, params []ParameterConfig, overrides []models.DescriptiveCriterion) (*BatchResult, error) {
	if err := ValidateParams(params); err != nil {
		return nil, err
	}

	start := e.now()
	result := &BatchResult{BatchID: NewBatchID(start)}

	logger.Info("Running batch evaluation",
		zap.String("batch_id", result.BatchID),
		zap.Int("rows", len(rows)),
		zap.Int("overrides", len(overrides)),
	)

	if len(overrides) > 0 {
		inserted, updated, err := e.store.UpsertCriteria(ctx, overrides)
		if err != nil {
			return nil, fmt.Errorf("failed to apply criteria overrides: %w", err)
		}
		result.CriteriaInserted = inserted
		result.CriteriaUpdated = updated
		metrics.CriteriaUpserts.WithLabelValues("inserted").Add(float64(inserted))
		metrics.CriteriaUpserts.WithLabelValues("updated").Add(float64(updated))
	}

	scorer, err := e.scorer(ctx, overrides)
	if err != nil {
		return nil, err
	}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		line := i + 1
		number := strings.TrimSpace(row[NumberColumn])

		total, grade, err := scorer.Score(row, params)
		if err != nil {
			if errors.Is(err, ErrMissingRequired) {
				result.Missing = append(result.Missing, MissingRow{Line: line, Number: number, Reason: err.Error()})
				metrics.BatchRows.WithLabelValues("missing").Inc()
				continue
			}
			return result, err
		}

		record := &models.EvaluationRecord{
			SubjectNumber:    number,
			SubjectName:      strings.TrimSpace(row[NameColumn]),
			TotalScore:       total,
			AssignedGrade:    grade,
			EvaluationMethod: models.MethodCSV,
			BatchID:          result.BatchID,
			EvaluatedAt:      start,
		}

		if err := e.linkCustomer(ctx, record); err != nil {
			e.fail(result, line, number, err)
			continue
		}

		if err := e.save(ctx, record); err != nil {
			e.fail(result, line, number, err)
			continue
		}

		result.Records = append(result.Records, record)
		metrics.BatchRows.WithLabelValues("created").Inc()
	}

	metrics.EvaluationsTotal.WithLabelValues(models.MethodCSV).Add(float64(len(result.Records)))
	metrics.BatchDuration.Observe(e.now().Sub(start).Seconds())

	logger.Info("Batch evaluation completed",
		zap.String("batch_id", result.BatchID),
		zap.Int("created", len(result.Records)),
		zap.Int("missing", len(result.Missing)),
		zap.Int("failed", len(result.Failed)),
	)

	return result, nil
}

func (e *Evaluator) linkCustomer(ctx context.Context, record *models.EvaluationRecord) error {
	if record.SubjectNumber == "" {
		return nil
	}
	customer, err := e.store.FindCustomerByNumber(ctx, record.SubjectNumber)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to match customer: %w", err)
	}
	record.CustomerID = &customer.ID
	if record.SubjectName == "" {
		record.SubjectName = customer.Name
	}
	return nil
}

func (e *Evaluator) fail(result *BatchResult, line int, number string, err error) {
	logger.Warn("Batch row not stored",
		zap.String("batch_id", result.BatchID),
		zap.Int("line", line),
		zap.Error(err),
	)
	result.Failed = append(result.Failed, FailedRow{Line: line, Number: number, Err: err.Error()})
	metrics.BatchRows.WithLabelValues("failed").Inc()
}

func (e *Evaluator) save(ctx context.Context, record *models.EvaluationRecord) error {
	return retry.Do(ctx, e.retryCfg, func() error {
		return e.store.SaveEvaluation(ctx, record)
	})
}

// EditScore replaces a record's total and re-grades it against the current thresholds.
func (e *Evaluator) EditScore(ctx context.Context, recordID int64, score float64) (*models.EvaluationRecord, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return nil, ErrInvalidScore
	}

	thresholds, err := e.store.ListThresholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load grade thresholds: %w", err)
	}

	rounded := RoundScore(score)
	grade := NewGradeTable(thresholds).Lookup(rounded)

	record, err := e.store.UpdateEvaluationScore(ctx, recordID, rounded, grade)
	if err != nil {
		return nil, err
	}

	logger.Info("Evaluation score edited",
		zap.Int64("record_id", recordID),
		zap.Float64("total_score", rounded),
		zap.String("grade", grade),
	)
	return record, nil
}

func (e *Evaluator) DeleteRecord(ctx context.Context, recordID int64) error {
	return e.store.DeleteEvaluation(ctx, recordID)
}

func (e *Evaluator) DeleteBatch(ctx context.Context, batchID string) (int64, error) {
	n, err := e.store.DeleteBatch(ctx, strings.TrimSpace(batchID))
	if err != nil {
		return 0, err
	}
	logger.Info("Evaluation batch deleted", zap.String("batch_id", batchID), zap.Int64("records", n))
	return n, nil
}

// NewBatchID is a sortable timestamp plus a short random suffix.
func NewBatchID(at time.Time) string {
	return at.UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}
