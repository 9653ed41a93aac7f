package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/metrics"
	"github.com/fieldsales/backend/internal/storage"
	"github.com/fieldsales/backend/internal/storage/models"
	"github.com/fieldsales/backend/pkg/logger"
)

var (
	ErrNoCapacity      = errors.New("at least one capacity unit is required")
	ErrInvalidCapacity = errors.New("capacity must be a non-negative number")
	ErrInvalidWeight   = errors.New("grade weight must be a non-negative number")
	ErrInvalidCategory = errors.New("category name and a positive monthly quota are required")
)

type Store interface {
	ListProvinces(ctx context.Context) ([]models.Province, error)
	UpsertProvinces(ctx context.Context, provinces []models.Province) error
	GetProvince(ctx context.Context, id int64) (*models.Province, error)
	ReplaceProvinceTargets(ctx context.Context, targets []models.ProvinceTarget) error
	ListProvinceTargets(ctx context.Context) ([]models.ProvinceTarget, error)
	GetProvinceTarget(ctx context.Context, provinceID int64) (*models.ProvinceTarget, error)
	ListThresholds(ctx context.Context) ([]models.GradeThreshold, error)
	CountCustomersByGrade(ctx context.Context, province string) (map[string]int, error)
	ListGradeWeights(ctx context.Context) (map[string]float64, error)
	SetGradeWeights(ctx context.Context, weights map[string]float64) error
	ResetGradeWeights(ctx context.Context) error
	CreateQuotaCategory(ctx context.Context, qc *models.QuotaCategory) error
	ListQuotaCategories(ctx context.Context) ([]models.QuotaCategory, error)
	DeleteQuotaCategory(ctx context.Context, id int64) error
}

type Service struct {
	store          Store
	ungradedWeight float64
}

func NewService(store Store, ungradedWeight float64) *Service {
	return &Service{store: store, ungradedWeight: ungradedWeight}
}

func validCapacity(v *float64) bool {
	return v == nil || (!math.IsNaN(*v) && !math.IsInf(*v, 0) && *v >= 0)
}

// SetCapacity recomputes every province target from the totals and replaces the stored set.
func (s *Service) SetCapacity(ctx context.Context, liters, shrink *float64) ([]models.ProvinceTarget, error) {
	if liters == nil && shrink == nil {
		return nil, ErrNoCapacity
	}
	if !validCapacity(liters) || !validCapacity(shrink) {
		return nil, ErrInvalidCapacity
	}

	provinces, err := s.store.ListProvinces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load provinces: %w", err)
	}

	targets := ProvinceShares(liters, shrink, provinces)
	if err := s.store.ReplaceProvinceTargets(ctx, targets); err != nil {
		return nil, fmt.Errorf("failed to store province targets: %w", err)
	}

	metrics.CapacityRecomputes.Inc()
	logger.Info("Province targets recomputed",
		zap.Int("provinces", len(targets)),
		zap.Bool("liters", liters != nil),
		zap.Bool("shrink", shrink != nil),
	)
	return targets, nil
}

// SeedProvinces loads provinces, falling back to the built-in census list when none are given.
func (s *Service) SeedProvinces(ctx context.Context, provinces []models.Province) (int, error) {
	if len(provinces) == 0 {
		provinces = DefaultProvinces
	}
	if err := s.store.UpsertProvinces(ctx, provinces); err != nil {
		return 0, fmt.Errorf("failed to seed provinces: %w", err)
	}
	logger.Info("Provinces seeded", zap.Int("count", len(provinces)))
	return len(provinces), nil
}

func (s *Service) Provinces(ctx context.Context) ([]models.Province, error) {
	return s.store.ListProvinces(ctx)
}

func (s *Service) Targets(ctx context.Context) ([]models.ProvinceTarget, error) {
	return s.store.ListProvinceTargets(ctx)
}

type GradeWeight struct {
	Grade      string
	Weight     float64
	Default    float64
	Overridden bool
}

// weights merges stored overrides over the defaults.
func (s *Service) weights(ctx context.Context, thresholds []models.GradeThreshold) (map[string]float64, map[string]float64, error) {
	defaults := DefaultWeights(thresholds, s.ungradedWeight)
	overrides, err := s.store.ListGradeWeights(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load grade weights: %w", err)
	}

	merged := make(map[string]float64, len(defaults)+len(overrides))
	for g, w := range defaults {
		merged[g] = w
	}
	for g, w := range overrides {
		merged[g] = w
	}
	return merged, overrides, nil
}

func (s *Service) GradeWeights(ctx context.Context) ([]GradeWeight, error) {
	thresholds, err := s.store.ListThresholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load grade thresholds: %w", err)
	}
	defaults := DefaultWeights(thresholds, s.ungradedWeight)
	merged, overrides, err := s.weights(ctx, thresholds)
	if err != nil {
		return nil, err
	}

	letters := make([]string, 0, len(thresholds))
	for _, t := range thresholds {
		letters = append(letters, t.GradeLetter)
	}

	var result []GradeWeight
	for _, g := range GradeOrder(letters, nil) {
		_, overridden := overrides[g]
		result = append(result, GradeWeight{
			Grade:      g,
			Weight:     merged[g],
			Default:    defaults[g],
			Overridden: overridden,
		})
	}
	return result, nil
}

// SetGradeWeights persists overrides; grades absent from weights fall back to defaults.
func (s *Service) SetGradeWeights(ctx context.Context, weights map[string]float64) error {
	for g, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("%w: %s", ErrInvalidWeight, g)
		}
	}
	if err := s.store.SetGradeWeights(ctx, weights); err != nil {
		return err
	}
	logger.Info("Grade weights updated", zap.Int("grades", len(weights)))
	return nil
}

func (s *Service) ResetGradeWeights(ctx context.Context) error {
	if err := s.store.ResetGradeWeights(ctx); err != nil {
		return err
	}
	logger.Info("Grade weights reset to defaults")
	return nil
}

// AllocatePerCustomer splits a province's capacity over its customers by grade.
func (s *Service) AllocatePerCustomer(ctx context.Context, provinceID int64) (*ProvinceAllocation, error) {
	province, err := s.store.GetProvince(ctx, provinceID)
	if err != nil {
		metrics.AllocationRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	target, err := s.store.GetProvinceTarget(ctx, provinceID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		target = &models.ProvinceTarget{
			ProvinceID:   province.ID,
			ProvinceName: province.Name,
			Population:   province.Population,
		}
	case err != nil:
		metrics.AllocationRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load province target: %w", err)
	}

	thresholds, err := s.store.ListThresholds(ctx)
	if err != nil {
		metrics.AllocationRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load grade thresholds: %w", err)
	}

	weights, _, err := s.weights(ctx, thresholds)
	if err != nil {
		metrics.AllocationRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	counts, err := s.store.CountCustomersByGrade(ctx, province.Name)
	if err != nil {
		metrics.AllocationRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to count customers: %w", err)
	}

	letters := make([]string, 0, len(thresholds))
	for _, t := range thresholds {
		letters = append(letters, t.GradeLetter)
	}

	alloc := Allocate(*target, letters, counts, weights)
	metrics.AllocationRequests.WithLabelValues("ok").Inc()
	return &alloc, nil
}

// AddCategory registers a monthly quota. A duplicate name fails with storage.ErrConflict.
func (s *Service) AddCategory(ctx context.Context, name string, monthlyQuota int64) (*models.QuotaCategory, error) {
	name = strings.TrimSpace(name)
	if name == "" || monthlyQuota <= 0 {
		return nil, ErrInvalidCategory
	}
	qc := &models.QuotaCategory{Category: name, MonthlyQuota: monthlyQuota}
	if err := s.store.CreateQuotaCategory(ctx, qc); err != nil {
		return nil, err
	}
	logger.Info("Quota category added", zap.String("category", name), zap.Int64("monthly_quota", monthlyQuota))
	return qc, nil
}

func (s *Service) Categories(ctx context.Context) ([]models.QuotaCategory, error) {
	return s.store.ListQuotaCategories(ctx)
}

func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	return s.store.DeleteQuotaCategory(ctx, id)
}
