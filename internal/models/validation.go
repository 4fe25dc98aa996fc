package models

import (
	"fmt"
)

// ValidateSnapshot validates a book snapshot against business rules.
func ValidateSnapshot(s BookSnapshot) error {
	if s.Feed == "" {
		return fmt.Errorf("feed is required")
	}

	if s.Side == SideTrade && len(s.Levels) > 0 {
		return fmt.Errorf("trade snapshot must not carry levels")
	}

	for i, lvl := range s.Levels {
		if lvl.Price <= 0 {
			return fmt.Errorf("level %d: price must be positive, got %d", i, lvl.Price)
		}
		if lvl.Size.IsNegative() {
			return fmt.Errorf("level %d: size must be non-negative, got %s", i, lvl.Size)
		}
		if lvl.Orders < 0 {
			return fmt.Errorf("level %d: order count must be non-negative, got %d", i, lvl.Orders)
		}
	}

	// Best price first: bids descending, offers ascending
	for i := 1; i < len(s.Levels); i++ {
		prev, cur := s.Levels[i-1].Price, s.Levels[i].Price
		if s.Side == SideBid && cur > prev {
			return fmt.Errorf("bids not sorted descending: level[%d]=%d > level[%d]=%d", i, cur, i-1, prev)
		}
		if s.Side == SideOffer && cur < prev {
			return fmt.Errorf("offers not sorted ascending: level[%d]=%d < level[%d]=%d", i, cur, i-1, prev)
		}
	}

	if s.Trade != nil {
		if s.Trade.ID == "" {
			return fmt.Errorf("trade id is required")
		}
		if s.Trade.Price <= 0 {
			return fmt.Errorf("trade price must be positive, got %d", s.Trade.Price)
		}
	}

	return nil
}
