// Package history stores OHLC bars per feed and timeframe.
package history

import (
	"context"
	"sort"
	"sync"

	"marketviews/internal/models"
)

// Provider is the bar history collaborator used by bar aggregators.
// Bars are keyed by feed and timeframe label and upserted by bar id.
type Provider interface {
	// OpenBar returns the newest bar if it is still open.
	OpenBar(ctx context.Context, feed, timeFrame string) (models.OHLCBar, bool, error)
	AddBar(ctx context.Context, feed, timeFrame string, bar models.OHLCBar) error
	ReplaceBar(ctx context.Context, feed, timeFrame string, bar models.OHLCBar) error
	// Bars returns up to depth bars, newest first; depth <= 0 returns all.
	Bars(ctx context.Context, feed, timeFrame string, depth int) ([]models.OHLCBar, error)
}

// MemoryStore is an in-process Provider.
type MemoryStore struct {
	mu   sync.RWMutex
	bars map[string]map[int64]models.OHLCBar
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bars: make(map[string]map[int64]models.OHLCBar)}
}

func memoryKey(feed, timeFrame string) string {
	return feed + "|" + timeFrame
}

// OpenBar implements Provider.
func (s *MemoryStore) OpenBar(_ context.Context, feed, timeFrame string) (models.OHLCBar, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		newest models.OHLCBar
		found  bool
	)
	for id, b := range s.bars[memoryKey(feed, timeFrame)] {
		if !found || id > newest.ID {
			newest = b
			found = true
		}
	}
	if !found || newest.Closed {
		return models.OHLCBar{}, false, nil
	}
	return newest.Clone(), true, nil
}

// AddBar implements Provider.
func (s *MemoryStore) AddBar(ctx context.Context, feed, timeFrame string, bar models.OHLCBar) error {
	return s.ReplaceBar(ctx, feed, timeFrame, bar)
}

// ReplaceBar implements Provider.
func (s *MemoryStore) ReplaceBar(_ context.Context, feed, timeFrame string, bar models.OHLCBar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey(feed, timeFrame)
	if s.bars[k] == nil {
		s.bars[k] = make(map[int64]models.OHLCBar)
	}
	s.bars[k][bar.ID] = bar.Clone()
	return nil
}

// Bars implements Provider.
func (s *MemoryStore) Bars(_ context.Context, feed, timeFrame string, depth int) ([]models.OHLCBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.bars[memoryKey(feed, timeFrame)]
	out := make([]models.OHLCBar, 0, len(m))
	for _, b := range m {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if depth > 0 && len(out) > depth {
		out = out[:depth]
	}
	return out, nil
}
