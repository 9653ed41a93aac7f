package evaluation

import (
	"sort"

	"github.com/fieldsales/backend/internal/storage/models"
)

// GradeTable maps a total score to a grade letter.
type GradeTable struct {
	thresholds []models.GradeThreshold
}

func NewGradeTable(thresholds []models.GradeThreshold) *GradeTable {
	sorted := make([]models.GradeThreshold, len(thresholds))
	copy(sorted, thresholds)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].MinScore != sorted[j].MinScore {
			return sorted[i].MinScore > sorted[j].MinScore
		}
		return sorted[i].GradeLetter < sorted[j].GradeLetter
	})
	return &GradeTable{thresholds: sorted}
}

// Lookup picks the threshold with the largest minimum not above score.
func (g *GradeTable) Lookup(score float64) string {
	for _, t := range g.thresholds {
		if t.MinScore <= score {
			return t.GradeLetter
		}
	}
	return models.Ungraded
}

func (g *GradeTable) Letters() []string {
	letters := make([]string, 0, len(g.thresholds))
	for _, t := range g.thresholds {
		letters = append(letters, t.GradeLetter)
	}
	return letters
}
