package quota

import (
	"sort"

	"github.com/fieldsales/backend/internal/storage/models"
)

// ProvinceShares splits the totals by population share. Units left nil stay unallocated,
// and a zero total population leaves every share nil.
func ProvinceShares(totalLiters, totalShrink *float64, provinces []models.Province) []models.ProvinceTarget {
	var totalPop int64
	for _, p := range provinces {
		totalPop += p.Population
	}

	targets := make([]models.ProvinceTarget, 0, len(provinces))
	for _, p := range provinces {
		t := models.ProvinceTarget{
			ProvinceID:   p.ID,
			ProvinceName: p.Name,
			Population:   p.Population,
		}
		if totalPop > 0 {
			share := float64(p.Population) / float64(totalPop)
			t.Percentage = &share
			t.LiterCapacity = scaled(totalLiters, share)
			t.ShrinkCapacity = scaled(totalShrink, share)
		}
		targets = append(targets, t)
	}
	return targets
}

func scaled(total *float64, share float64) *float64 {
	if total == nil {
		return nil
	}
	v := *total * share
	return &v
}

// DefaultWeights derives a weight per threshold letter from its minimum score.
func DefaultWeights(thresholds []models.GradeThreshold, ungradedWeight float64) map[string]float64 {
	weights := make(map[string]float64, len(thresholds)+1)
	for _, t := range thresholds {
		weights[t.GradeLetter] = t.MinScore / 100
	}
	weights[models.Ungraded] = ungradedWeight
	return weights
}

type GradeAllocation struct {
	Grade             string
	Count             int
	Weight            float64
	Weighted          float64
	LitersPerCustomer *float64
	ShrinkPerCustomer *float64
}

type ProvinceAllocation struct {
	Target         models.ProvinceTarget
	Grades         []GradeAllocation
	TotalCustomers int
	TotalWeighted  float64
}

// GradeOrder lists threshold letters first, then the ungraded bucket, then any letter
// still cached on customers but no longer configured.
func GradeOrder(letters []string, counts map[string]int) []string {
	order := make([]string, 0, len(letters)+len(counts)+1)
	seen := make(map[string]bool)
	for _, l := range letters {
		if !seen[l] {
			order = append(order, l)
			seen[l] = true
		}
	}
	if !seen[models.Ungraded] {
		order = append(order, models.Ungraded)
		seen[models.Ungraded] = true
	}

	var stale []string
	for g := range counts {
		if !seen[g] {
			stale = append(stale, g)
		}
	}
	sort.Strings(stale)
	return append(order, stale...)
}

// Allocate distributes the target's capacities over customers in proportion to grade weights.
// A grade with no customers, a province with no weighted customers or a unit without
// capacity yields nil per-customer values.
func Allocate(target models.ProvinceTarget, letters []string, counts map[string]int, weights map[string]float64) ProvinceAllocation {
	alloc := ProvinceAllocation{Target: target}

	grades := GradeOrder(letters, counts)
	for _, g := range grades {
		count := counts[g]
		w := weights[g]
		alloc.Grades = append(alloc.Grades, GradeAllocation{
			Grade:    g,
			Count:    count,
			Weight:   w,
			Weighted: float64(count) * w,
		})
		alloc.TotalCustomers += count
		alloc.TotalWeighted += float64(count) * w
	}

	if alloc.TotalWeighted == 0 {
		return alloc
	}

	for i := range alloc.Grades {
		ga := &alloc.Grades[i]
		if ga.Count == 0 {
			continue
		}
		ga.LitersPerCustomer = perCustomer(target.LiterCapacity, ga.Weight, alloc.TotalWeighted)
		ga.ShrinkPerCustomer = perCustomer(target.ShrinkCapacity, ga.Weight, alloc.TotalWeighted)
	}
	return alloc
}

func perCustomer(capacity *float64, weight, totalWeighted float64) *float64 {
	if capacity == nil {
		return nil
	}
	v := *capacity * weight / totalWeighted
	return &v
}
