package evaluation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/fieldsales/backend/internal/storage/models"
)

type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindDescriptive Kind = "descriptive"
)

var (
	ErrMissingRequired = errors.New("required value missing")
	ErrInvalidParams   = errors.New("invalid parameter configuration")
)

// ParameterConfig selects one input column and how it contributes to the total.
type ParameterConfig struct {
	Name     string
	Weight   float64
	Kind     Kind
	Required bool
}

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindNumeric, "":
		return KindNumeric, nil
	case KindDescriptive:
		return KindDescriptive, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidParams, s)
	}
}

// ValidateParams checks names are present and distinct and weights are finite.
func ValidateParams(params []ParameterConfig) error {
	if len(params) == 0 {
		return fmt.Errorf("%w: no parameters selected", ErrInvalidParams)
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("%w: empty parameter name", ErrInvalidParams)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidParams, name)
		}
		seen[name] = true
		if math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) {
			return fmt.Errorf("%w: weight of %q is not a number", ErrInvalidParams, name)
		}
		if p.Kind != KindNumeric && p.Kind != KindDescriptive {
			return fmt.Errorf("%w: unknown kind %q for %q", ErrInvalidParams, p.Kind, name)
		}
	}
	return nil
}

// Registry is a read-only snapshot of descriptive criteria, keyed by parameter and
// case-folded criterion text.
type Registry struct {
	scores map[string]map[string]float64
}

// NewRegistry layers overrides on top of the persisted criteria.
func NewRegistry(persisted, overrides []models.DescriptiveCriterion) *Registry {
	r := &Registry{scores: make(map[string]map[string]float64)}
	for _, dc := range persisted {
		r.set(dc)
	}
	for _, dc := range overrides {
		r.set(dc)
	}
	return r
}

func (r *Registry) set(dc models.DescriptiveCriterion) {
	byCriterion, ok := r.scores[dc.ParameterName]
	if !ok {
		byCriterion = make(map[string]float64)
		r.scores[dc.ParameterName] = byCriterion
	}
	byCriterion[models.CriterionKey(dc.Criterion)] = dc.Score
}

// Lookup returns the score registered for raw under parameter.
func (r *Registry) Lookup(parameter, raw string) (float64, bool) {
	score, ok := r.scores[parameter][models.CriterionKey(raw)]
	return score, ok
}

// GroupByParameter orders criteria for display, one slice per parameter.
func GroupByParameter(criteria []models.DescriptiveCriterion) map[string][]models.DescriptiveCriterion {
	groups := make(map[string][]models.DescriptiveCriterion)
	for _, dc := range criteria {
		groups[dc.ParameterName] = append(groups[dc.ParameterName], dc)
	}
	return groups
}
