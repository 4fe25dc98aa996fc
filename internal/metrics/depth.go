package metrics

import "marketviews/internal/models"

// TruncateDepth returns a copy of at most topN levels; topN <= 0 keeps all levels.
// The result never shares a backing array with levels.
func TruncateDepth(levels []models.PriceLevel, topN int) []models.PriceLevel {
	n := len(levels)
	if topN > 0 && topN < n {
		n = topN
	}

	result := make([]models.PriceLevel, n)
	copy(result, levels[:n])
	return result
}
