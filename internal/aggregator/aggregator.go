// Package aggregator derives synchronized market views from per-side book
// update streams.
//
// Every aggregator consumes the same three inbound calls (OnSnapshot,
// OnEndUpdate, OnNoUpdate) and fans its results out synchronously to
// subscribed listeners. A result is published once per round, when the
// end-of-update barriers of both book sides have been observed; its snapshot
// id is the update id of the barrier that completed the round.
//
// Listeners run while the publishing aggregator holds its lock. They must
// not call back into that aggregator.
package aggregator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"marketviews/internal/models"
)

// Aggregator is the contract shared by every view producer.
type Aggregator interface {
	Name() string
	OnSnapshot(snap models.BookSnapshot) error
	OnEndUpdate(side models.Side, updateID int64, modified bool) error
	OnNoUpdate(updateID int64) error
	// Subscribe registers l and returns a function removing it.
	Subscribe(l Listener) (unsubscribe func())
}

// Expirer is implemented by aggregators whose bars are closed by an external timer.
type Expirer interface {
	Expire(now time.Time) error
}

// Listener receives published results and forwarded no-update signals.
type Listener interface {
	OnResult(r Result) error
	OnNoUpdate(updateID int64) error
}

// ResultFunc adapts a function to a Listener that ignores no-update signals.
type ResultFunc func(Result) error

func (f ResultFunc) OnResult(r Result) error { return f(r) }
func (f ResultFunc) OnNoUpdate(int64) error  { return nil }

// Result is either a single value or a batch of values published together.
type Result struct {
	batch  bool
	values []any
}

// Single wraps one published value.
func Single(v any) Result {
	return Result{values: []any{v}}
}

// Batch wraps values published together as one result.
func Batch(vs ...any) Result {
	return Result{batch: true, values: vs}
}

// IsBatch reports whether the result was published as a batch.
func (r Result) IsBatch() bool { return r.batch }

// Values returns the published values.
func (r Result) Values() []any { return r.values }

// Value returns the first value, or nil for an empty result.
func (r Result) Value() any {
	if len(r.values) == 0 {
		return nil
	}
	return r.values[0]
}

// MarshalJSON encodes a single result as its value and a batch as an array.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.batch {
		return json.Marshal(r.values)
	}
	return json.Marshal(r.Value())
}

type subscription struct {
	l Listener
}

// Base implements listener management, fan-out and the optional
// pre-processing filter shared by all aggregators.
type Base struct {
	name   string
	logger *slog.Logger
	filter Filter

	subMu sync.RWMutex
	subs  []*subscription
}

func (b *Base) init(name string, p Props, allowFilter bool) error {
	b.name = name
	b.logger = p.logger().With("component", "aggregator", "aggregator", name)
	if allowFilter {
		f, err := NewFilter(p)
		if err != nil {
			return err
		}
		b.filter = f
	}
	return nil
}

// Name returns the aggregator name.
func (b *Base) Name() string { return b.name }

// Subscribe registers l for results and no-update signals.
func (b *Base) Subscribe(l Listener) func() {
	s := &subscription{l: l}

	b.subMu.Lock()
	b.subs = append(b.subs, s)
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subMu.Lock()
			defer b.subMu.Unlock()
			for i, cur := range b.subs {
				if cur == s {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// OnNoUpdate forwards the heartbeat to every listener.
func (b *Base) OnNoUpdate(updateID int64) error {
	var errs []error
	for _, s := range b.listeners() {
		if err := s.l.OnNoUpdate(updateID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Base) listeners() []*subscription {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	out := make([]*subscription, len(b.subs))
	copy(out, b.subs)
	return out
}

// publish delivers r to every listener and joins their errors.
func (b *Base) publish(r Result) error {
	var errs []error
	for _, s := range b.listeners() {
		if err := s.l.OnResult(r); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		b.logger.Warn("listener_failed", "error", err)
		return err
	}
	return nil
}

// preprocess runs the configured filter; ok=false drops the snapshot.
func (b *Base) preprocess(s models.BookSnapshot) (models.BookSnapshot, bool, error) {
	if b.filter == nil {
		return s, true, nil
	}
	out, ok, err := b.filter.Apply(s)
	if err != nil {
		b.logger.Warn("snapshot_filter_failed", "side", s.Side.String(), "error", err)
		return s, false, err
	}
	if !ok {
		b.logger.Debug("snapshot_suppressed", "side", s.Side.String())
	}
	return out, ok, nil
}
