package evaluation

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Row is one subject's raw values keyed by column name.
type Row map[string]string

type Scorer struct {
	registry *Registry
	grades   *GradeTable
}

func NewScorer(registry *Registry, grades *GradeTable) *Scorer {
	return &Scorer{registry: registry, grades: grades}
}

// Score sums the weighted contributions of params, rounds the total to two decimals
// and grades the rounded value.
func (s *Scorer) Score(row Row, params []ParameterConfig) (float64, string, error) {
	var total float64
	for _, p := range params {
		value, err := s.contribution(row, p)
		if err != nil {
			return 0, "", err
		}
		total += p.Weight * value
	}

	rounded := RoundScore(total)
	return rounded, s.grades.Lookup(rounded), nil
}

func (s *Scorer) contribution(row Row, p ParameterConfig) (float64, error) {
	raw, present := row[p.Name]

	if p.Kind == KindDescriptive {
		score, _ := s.registry.Lookup(p.Name, raw)
		return score, nil
	}

	value, ok := ParseNumber(raw)
	if !ok {
		if p.Required {
			if !present || strings.TrimSpace(raw) == "" {
				return 0, fmt.Errorf("%w: %s", ErrMissingRequired, p.Name)
			}
			return 0, fmt.Errorf("%w: %s is not a number", ErrMissingRequired, p.Name)
		}
		return 0, nil
	}
	return value, nil
}

// ParseNumber reads a numeric cell, accepting thousands separators.
func ParseNumber(raw string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// RoundScore rounds the binary value of v to two decimals, halves to even. 49.995 is stored
// as 49.99499... and therefore rounds down.
func RoundScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return exactDecimal(v).RoundBank(2).InexactFloat64()
}

// exactDecimal expands v as mant*2^exp without the shortest-representation step of
// decimal.NewFromFloat.
func exactDecimal(v float64) decimal.Decimal {
	frac, exp := math.Frexp(v)
	mant := big.NewInt(int64(math.Ldexp(frac, 53)))
	exp -= 53
	if exp >= 0 {
		return decimal.NewFromBigInt(mant.Lsh(mant, uint(exp)), 0)
	}
	// 2^-k == 5^k * 10^-k
	k := int64(-exp)
	pow := new(big.Int).Exp(big.NewInt(5), big.NewInt(k), nil)
	return decimal.NewFromBigInt(pow.Mul(pow, mant), int32(-k))
}
