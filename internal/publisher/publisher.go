// Package publisher delivers products derived from aggregator results to
// downstream consumers.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Product is one published content item of an aggregator result.
type Product struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	ContentType string          `json:"content_type"`
	Feed        string          `json:"feed"`
	Aggregator  string          `json:"aggregator"`
	ProducedAt  time.Time       `json:"produced_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Publisher emits products.
type Publisher interface {
	Publish(ctx context.Context, p Product) error
}

// Func adapts a function to a Publisher.
type Func func(ctx context.Context, p Product) error

// Publish calls f.
func (f Func) Publish(ctx context.Context, p Product) error { return f(ctx, p) }

// Manager holds the named publishers aggregators may target.
type Manager struct {
	mu   sync.RWMutex
	pubs map[string]Publisher
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{pubs: make(map[string]Publisher)}
}

// Register adds or replaces the publisher called name.
func (m *Manager) Register(name string, p Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pubs[name] = p
}

// Get returns the publisher called name.
func (m *Manager) Get(name string) (Publisher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pubs[name]
	if !ok {
		return nil, fmt.Errorf("publisher %q not registered", name)
	}
	return p, nil
}

// Names lists the registered publishers in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.pubs))
	for n := range m.pubs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
