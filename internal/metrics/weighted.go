package metrics

import (
	"github.com/shopspring/decimal"

	"marketviews/internal/models"
)

// OWAPOrderThreshold is the cumulative order count after which OWAP stops consuming levels.
const OWAPOrderThreshold = 5

// Weighted is the result of a weighted price walk over one book side.
type Weighted struct {
	Price  int64
	Weight decimal.Decimal
	Depth  int // levels consumed
}

// VWAP computes floor(Σ price·size / Σ size) over at most maxLevels levels (0 = all).
//
// A side with zero total size yields price 0 and weight 0.
func VWAP(levels []models.PriceLevel, maxLevels int) Weighted {
	num := decimal.Zero
	den := decimal.Zero
	used := 0

	for _, lvl := range levels {
		if maxLevels > 0 && used >= maxLevels {
			break
		}
		num = num.Add(decimal.NewFromInt(lvl.Price).Mul(lvl.Size))
		den = den.Add(lvl.Size)
		used++
	}

	if !den.IsPositive() {
		return Weighted{Weight: decimal.Zero, Depth: used}
	}

	return Weighted{
		Price:  floorDiv(num, den),
		Weight: den,
		Depth:  used,
	}
}

// OWAP computes floor(Σ price·orders / Σ orders). Levels are consumed whole,
// best first, until the cumulative order count reaches OWAPOrderThreshold or
// maxLevels levels have been used (0 = no level cap).
func OWAP(levels []models.PriceLevel, maxLevels int) Weighted {
	var num, den int64
	used := 0

	for _, lvl := range levels {
		if maxLevels > 0 && used >= maxLevels {
			break
		}
		if lvl.Orders <= 0 {
			used++
			continue
		}
		num += lvl.Price * int64(lvl.Orders)
		den += int64(lvl.Orders)
		used++
		if den >= OWAPOrderThreshold {
			break
		}
	}

	if den == 0 {
		return Weighted{Weight: decimal.Zero, Depth: used}
	}

	return Weighted{
		Price:  num / den,
		Weight: decimal.NewFromInt(den),
		Depth:  used,
	}
}

// floorDiv returns the integer part of num/den; both are expected non-negative.
func floorDiv(num, den decimal.Decimal) int64 {
	q, _ := num.QuoRem(den, 0)
	return q.IntPart()
}
