package aggregator

import (
	"sync"
	"time"

	"marketviews/internal/models"
)

// Serialized guards an aggregator with a mutex so inbound calls from several
// goroutines are delivered one at a time.
type Serialized struct {
	mu    sync.Mutex
	inner Aggregator
}

// Serialize wraps a. Wrapping an already serialized aggregator returns it unchanged.
func Serialize(a Aggregator) *Serialized {
	if s, ok := a.(*Serialized); ok {
		return s
	}
	return &Serialized{inner: a}
}

// Unwrap returns the wrapped aggregator.
func (s *Serialized) Unwrap() Aggregator { return s.inner }

func (s *Serialized) Name() string { return s.inner.Name() }

func (s *Serialized) OnSnapshot(snap models.BookSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.OnSnapshot(snap)
}

func (s *Serialized) OnEndUpdate(side models.Side, updateID int64, modified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.OnEndUpdate(side, updateID, modified)
}

func (s *Serialized) OnNoUpdate(updateID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.OnNoUpdate(updateID)
}

func (s *Serialized) Subscribe(l Listener) func() {
	return s.inner.Subscribe(l)
}

// Expire forwards to the wrapped aggregator when it has bars to expire.
func (s *Serialized) Expire(now time.Time) error {
	e, ok := s.inner.(Expirer)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.Expire(now)
}
