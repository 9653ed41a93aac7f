package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsales/backend/internal/storage/models"
)

func f(v float64) *float64 { return &v }

func TestProvinceShares(t *testing.T) {
	provinces := []models.Province{
		{ID: 1, Name: "A", Population: 300},
		{ID: 2, Name: "B", Population: 100},
	}

	targets := ProvinceShares(f(1000), nil, provinces)
	require.Len(t, targets, 2)

	assert.InDelta(t, 0.75, *targets[0].Percentage, 1e-9)
	assert.InDelta(t, 750, *targets[0].LiterCapacity, 1e-9)
	assert.Nil(t, targets[0].ShrinkCapacity)
	assert.InDelta(t, 250, *targets[1].LiterCapacity, 1e-9)

	var sum float64
	for _, tg := range targets {
		sum += *tg.LiterCapacity
	}
	assert.InDelta(t, 1000, sum, 1e-9)
}

func TestProvinceSharesZeroPopulation(t *testing.T) {
	targets := ProvinceShares(f(1000), f(50), []models.Province{{ID: 1, Name: "Empty"}})
	require.Len(t, targets, 1)
	assert.Nil(t, targets[0].Percentage)
	assert.Nil(t, targets[0].LiterCapacity)
	assert.Nil(t, targets[0].ShrinkCapacity)
}

func TestDefaultWeights(t *testing.T) {
	weights := DefaultWeights([]models.GradeThreshold{{GradeLetter: "A", MinScore: 80}, {GradeLetter: "B", MinScore: 50}}, 0.5)
	assert.Equal(t, map[string]float64{"A": 0.8, "B": 0.5, models.Ungraded: 0.5}, weights)
}

func TestGradeOrder(t *testing.T) {
	order := GradeOrder([]string{"A", "B"}, map[string]int{"Z": 1, "A": 2, "D": 1, models.Ungraded: 3})
	assert.Equal(t, []string{"A", "B", models.Ungraded, "D", "Z"}, order)
}

func TestAllocate(t *testing.T) {
	target := models.ProvinceTarget{LiterCapacity: f(1000)}
	weights := map[string]float64{"A": 0.8, "B": 0.5, models.Ungraded: 0.5}
	counts := map[string]int{"A": 2, models.Ungraded: 2, "Old": 4}

	alloc := Allocate(target, []string{"A", "B"}, counts, weights)

	// 2*0.8 + 2*0.5 = 2.6; the stale grade weighs nothing
	assert.InDelta(t, 2.6, alloc.TotalWeighted, 1e-9)
	assert.Equal(t, 8, alloc.TotalCustomers)
	require.Len(t, alloc.Grades, 4)

	byGrade := map[string]GradeAllocation{}
	for _, g := range alloc.Grades {
		byGrade[g.Grade] = g
	}

	assert.InDelta(t, 1000*0.8/2.6, *byGrade["A"].LitersPerCustomer, 1e-9)
	assert.InDelta(t, 1000*0.5/2.6, *byGrade[models.Ungraded].LitersPerCustomer, 1e-9)
	assert.Nil(t, byGrade["B"].LitersPerCustomer)
	assert.Nil(t, byGrade["A"].ShrinkPerCustomer)
	assert.Equal(t, 0.0, *byGrade["Old"].LitersPerCustomer)

	var distributed float64
	for _, g := range alloc.Grades {
		if g.LitersPerCustomer != nil {
			distributed += *g.LitersPerCustomer * float64(g.Count)
		}
	}
	assert.InDelta(t, 1000, distributed, 1e-6)
}

func TestAllocateNoWeightedCustomers(t *testing.T) {
	alloc := Allocate(models.ProvinceTarget{LiterCapacity: f(1000)}, []string{"A"}, map[string]int{"Old": 3}, map[string]float64{"A": 1})
	assert.Zero(t, alloc.TotalWeighted)
	for _, g := range alloc.Grades {
		assert.Nil(t, g.LitersPerCustomer)
	}
}
