// Package lifecycle owns the aggregators of every enabled feed: it builds them
// from definitions, routes inbound book events to them, drives the bar expiry
// timer and caches the last result of each aggregator.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"marketviews/internal/aggregator"
	"marketviews/internal/instrumentation"
	"marketviews/internal/models"
)

var (
	// ErrUnknownFeed is returned for events of a feed that is not enabled.
	ErrUnknownFeed = errors.New("feed not enabled")
	// ErrFeedEnabled is returned when enabling a feed twice.
	ErrFeedEnabled = errors.New("feed already enabled")
	// ErrUnknownEvent is returned for envelopes of an unsupported type.
	ErrUnknownEvent = errors.New("unknown event type")
)

// FeedSpec describes one feed and the aggregators to run on it.
type FeedSpec struct {
	ID          string                  `yaml:"id" json:"id"`
	Symbol      string                  `yaml:"symbol" json:"symbol"`
	Aggregators []aggregator.Definition `yaml:"aggregators" json:"aggregators"`
}

type feed struct {
	spec FeedSpec

	// mu serializes delivery to the feed's aggregators.
	mu    sync.Mutex
	aggs  []aggregator.Aggregator
	names []string

	lastMu sync.RWMutex
	last   map[string]aggregator.Result
}

// lastKnown caches the latest result of one aggregator.
type lastKnown struct {
	f       *feed
	name    string
	metrics *instrumentation.Metrics
}

func (l lastKnown) OnResult(r aggregator.Result) error {
	l.f.lastMu.Lock()
	l.f.last[l.name] = r
	l.f.lastMu.Unlock()
	l.metrics.RecordResult(l.f.spec.ID, l.name)
	return nil
}

func (l lastKnown) OnNoUpdate(int64) error { return nil }

// Manager enables and disables feeds and dispatches their events.
type Manager struct {
	registry *aggregator.Registry
	deps     aggregator.Deps
	metrics  *instrumentation.Metrics
	logger   *slog.Logger

	mu    sync.RWMutex
	feeds map[string]*feed

	cron *cron.Cron
	now  func() time.Time
}

// NewManager creates a manager building aggregators from registry with deps injected.
func NewManager(registry *aggregator.Registry, deps aggregator.Deps, metrics *instrumentation.Metrics, logger *slog.Logger) *Manager {
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &Manager{
		registry: registry,
		deps:     deps,
		metrics:  metrics,
		logger:   logger.With("component", "lifecycle"),
		feeds:    make(map[string]*feed),
		now:      time.Now,
	}
}

// Enable builds every aggregator of spec and registers the feed for dispatch.
// A failing definition returns a *aggregator.ConfigError and leaves nothing
// of the feed registered.
func (m *Manager) Enable(spec FeedSpec) error {
	if spec.ID == "" {
		return &aggregator.ConfigError{Err: fmt.Errorf("%w: feed id is required", aggregator.ErrInvalidProperty)}
	}

	m.mu.RLock()
	_, exists := m.feeds[spec.ID]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("%s: %w", spec.ID, ErrFeedEnabled)
	}

	f := &feed{spec: spec, last: make(map[string]aggregator.Result)}
	seen := make(map[string]bool, len(spec.Aggregators))
	for _, def := range spec.Aggregators {
		if seen[def.Name] {
			return &aggregator.ConfigError{
				Feed:       spec.ID,
				Aggregator: def.Name,
				Type:       def.Type,
				Err:        fmt.Errorf("%w: duplicate aggregator name", aggregator.ErrInvalidProperty),
			}
		}
		seen[def.Name] = true

		def.Props = feedProps(spec, def.Props)
		a, err := m.registry.Build(def, m.deps)
		if err != nil {
			m.logger.Error("feed_config_invalid", "feed", spec.ID, "aggregator", def.Name, "error", err)
			return err
		}
		a.Subscribe(lastKnown{f: f, name: def.Name, metrics: m.metrics})
		f.aggs = append(f.aggs, a)
		f.names = append(f.names, def.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.feeds[spec.ID]; exists {
		return fmt.Errorf("%s: %w", spec.ID, ErrFeedEnabled)
	}
	m.feeds[spec.ID] = f
	m.metrics.SetActiveFeeds(len(m.feeds))

	m.logger.Info("feed_enabled", "feed", spec.ID, "symbol", spec.Symbol, "aggregators", f.names)
	return nil
}

// feedProps stamps the feed id and symbol on a definition's properties.
func feedProps(spec FeedSpec, values map[string]string) map[string]string {
	out := make(map[string]string, len(values)+2)
	for k, v := range values {
		out[k] = v
	}
	out[aggregator.KeyFeed] = spec.ID
	if _, ok := out[aggregator.KeySymbol]; !ok && spec.Symbol != "" {
		out[aggregator.KeySymbol] = spec.Symbol
	}
	return out
}

// Disable drops a feed and its aggregators. It reports whether the feed was enabled.
func (m *Manager) Disable(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.feeds[id]; !ok {
		return false
	}
	delete(m.feeds, id)
	m.metrics.SetActiveFeeds(len(m.feeds))
	m.logger.Info("feed_disabled", "feed", id)
	return true
}

// Feeds lists the enabled feed ids in sorted order.
func (m *Manager) Feeds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.feeds))
	for id := range m.feeds {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Spec returns the spec a feed was enabled with.
func (m *Manager) Spec(id string) (FeedSpec, bool) {
	f, ok := m.feed(id)
	if !ok {
		return FeedSpec{}, false
	}
	return f.spec, true
}

// Last returns the latest result published by aggregator name of feed id.
func (m *Manager) Last(id, name string) (aggregator.Result, bool) {
	f, ok := m.feed(id)
	if !ok {
		return aggregator.Result{}, false
	}
	f.lastMu.RLock()
	defer f.lastMu.RUnlock()
	r, ok := f.last[name]
	return r, ok
}

func (m *Manager) feed(id string) (*feed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.feeds[id]
	return f, ok
}

// Dispatch routes one inbound event to the aggregators of its feed.
//
// Envelope problems are returned. Aggregator failures are logged and
// counted, and the remaining aggregators still receive the event.
func (m *Manager) Dispatch(ctx context.Context, env *models.BookEventEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	startTime := time.Now()

	f, ok := m.feed(env.Feed)
	if !ok {
		m.metrics.RecordError("lifecycle", "unknown_feed")
		return fmt.Errorf("%s: %w", env.Feed, ErrUnknownFeed)
	}

	var deliver func(a aggregator.Aggregator) error
	switch env.Type {
	case models.EventSnapshot:
		snap, err := env.Snapshot()
		if err != nil {
			m.metrics.RecordError("lifecycle", "invalid_snapshot")
			return fmt.Errorf("feed %s: %w", env.Feed, err)
		}
		deliver = func(a aggregator.Aggregator) error { return a.OnSnapshot(snap) }
	case models.EventEndUpdate:
		side, err := models.ParseSide(env.Side)
		if err != nil {
			m.metrics.RecordError("lifecycle", "invalid_side")
			return fmt.Errorf("feed %s: %w", env.Feed, err)
		}
		deliver = func(a aggregator.Aggregator) error { return a.OnEndUpdate(side, env.UpdateID, env.Modified) }
	case models.EventNoUpdate:
		deliver = func(a aggregator.Aggregator) error { return a.OnNoUpdate(env.UpdateID) }
	default:
		m.metrics.RecordError("lifecycle", "unknown_event")
		return fmt.Errorf("%q: %w", env.Type, ErrUnknownEvent)
	}

	f.mu.Lock()
	for i, a := range f.aggs {
		if err := deliver(a); err != nil {
			m.metrics.RecordError("aggregator", f.spec.Aggregators[i].Type)
			m.logger.Warn("round_failed",
				"feed", f.spec.ID,
				"aggregator", f.names[i],
				"event", env.Type,
				"update_id", env.UpdateID,
				"error", err,
			)
		}
	}
	f.mu.Unlock()

	m.metrics.RecordEvent(env.Type)
	m.metrics.RecordDispatchLatency(float64(time.Since(startTime).Microseconds()) / 1000)
	return nil
}

// ExpireBars closes every bar whose interval ended before now.
func (m *Manager) ExpireBars(now time.Time) {
	m.mu.RLock()
	feeds := make([]*feed, 0, len(m.feeds))
	for _, f := range m.feeds {
		feeds = append(feeds, f)
	}
	m.mu.RUnlock()

	for _, f := range feeds {
		f.mu.Lock()
		for i, a := range f.aggs {
			e, ok := a.(aggregator.Expirer)
			if !ok {
				continue
			}
			if err := e.Expire(now); err != nil {
				m.metrics.RecordError("bar_timer", f.spec.Aggregators[i].Type)
				m.logger.Warn("bar_expiry_failed", "feed", f.spec.ID, "aggregator", f.names[i], "error", err)
			}
		}
		f.mu.Unlock()
	}
}

// Start schedules ExpireBars on the cron spec, e.g. "@every 1s".
func (m *Manager) Start(spec string) error {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(spec, func() { m.ExpireBars(m.now()) }); err != nil {
		return fmt.Errorf("invalid bar timer spec %q: %w", spec, err)
	}
	m.cron = c
	c.Start()
	m.logger.Info("bar_timer_started", "spec", spec)
	return nil
}

// Stop stops the bar timer and waits for a running tick to finish.
func (m *Manager) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.logger.Info("bar_timer_stopped")
}
