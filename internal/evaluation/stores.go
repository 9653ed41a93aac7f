package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/metrics"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/pkg/logger"
	"github.com/fieldsales/backend/pkg/retry"
)

var ErrInvalidPeriod = errors.New("end date is before start date")

// StoreInput is a store evaluation as entered on the form. Scores holds the raw value per
// parameter id; blank scores count as zero.
type StoreInput struct {
	StoreID   int64
	StartDate *time.Time
	EndDate   *time.Time
	Scores    map[int64]string
}

// EvaluateStore scores a store against every evaluation parameter at its stored weight and
// keeps a copy of each weight next to the score.
func (e *Evaluator) EvaluateStore(ctx context.Context, in StoreInput) (*models.StoreEvaluation, error) {
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return nil, ErrInvalidPeriod
	}

	store, err := e.store.GetStore(ctx, in.StoreID)
	if err != nil {
		return nil, fmt.Errorf("failed to load store %d: %w", in.StoreID, err)
	}

	params, err := e.store.ListParameters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluation parameters: %w", err)
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: no evaluation parameters defined", ErrInvalidParams)
	}

	row := make(Row, len(params))
	configs := make([]ParameterConfig, 0, len(params))
	details := make([]models.StoreEvaluationDetail, 0, len(params))
	for _, p := range params {
		raw := strings.TrimSpace(in.Scores[p.ID])
		row[p.Name] = raw
		configs = append(configs, ParameterConfig{Name: p.Name, Weight: p.Weight, Kind: KindNumeric})

		score, _ := ParseNumber(raw)
		id := p.ID
		details = append(details, models.StoreEvaluationDetail{
			ParameterID:   &id,
			ParameterName: p.Name,
			Weight:        p.Weight,
			Score:         score,
		})
	}

	scorer, err := e.scorer(ctx, nil)
	if err != nil {
		return nil, err
	}
	total, grade, err := scorer.Score(row, configs)
	if err != nil {
		return nil, err
	}

	eval := &models.StoreEvaluation{
		StoreID:    store.ID,
		StoreName:  store.Name,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		TotalScore: total,
		Category:   grade,
		CreatedAt:  e.now(),
		Details:    details,
	}
	err = retry.Do(ctx, e.retryCfg, func() error {
		return e.store.CreateStoreEvaluation(ctx, eval)
	})
	if err != nil {
		return nil, err
	}

	metrics.EvaluationsTotal.WithLabelValues(models.MethodStore).Inc()
	logger.Info("Store evaluated",
		zap.Int64("store_id", store.ID),
		zap.Float64("total_score", total),
		zap.String("category", grade),
	)
	return eval, nil
}

func (e *Evaluator) DeleteStoreEvaluation(ctx context.Context, id int64) error {
	return e.store.DeleteStoreEvaluation(ctx, id)
}
