package aggregator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Aggregator type tags.
const (
	TypeTop         = "top"
	TypeVWAP        = "vwap"
	TypeOWAP        = "owap"
	TypeOHLC        = "ohlc"
	TypeTradeOHLC   = "tradeohlc"
	TypeFullBook    = "fullbook"
	TypeComplexView = "complexview"
	TypeComplexOHLC = "complexohlc"
)

// Definition describes one aggregator to build for a feed.
type Definition struct {
	Name  string            `yaml:"name" json:"name"`
	Type  string            `yaml:"type" json:"type"`
	Props map[string]string `yaml:"props" json:"props,omitempty"`
}

// Constructor builds an aggregator from its properties.
type Constructor func(name string, p Props) (Aggregator, error)

type registration struct {
	ctor         Constructor
	contentTypes []string
}

// Registry maps type tags to constructors and the product content types
// their results carry.
type Registry struct {
	mu    sync.RWMutex
	types map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]registration)}
}

// Register adds tag. The first content type is the default for product producers.
func (r *Registry) Register(tag string, ctor Constructor, contentTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[tag] = registration{ctor: ctor, contentTypes: contentTypes}
}

// Types lists the registered tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Build constructs the aggregator def describes and, for product producers,
// subscribes its producer. Every failure is a *ConfigError.
func (r *Registry) Build(def Definition, deps Deps) (Aggregator, error) {
	p := NewProps(def.Props, deps)
	cfgErr := func(err error) error {
		return &ConfigError{Feed: p.String(KeyFeed, ""), Aggregator: def.Name, Type: def.Type, Err: err}
	}

	if def.Name == "" {
		return nil, cfgErr(fmt.Errorf("%w: name is required", ErrInvalidProperty))
	}

	r.mu.RLock()
	reg, ok := r.types[def.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, cfgErr(ErrUnknownType)
	}

	var producer *Producer
	isProducer, err := p.Bool(KeyProductProducer, false)
	if err != nil {
		return nil, cfgErr(err)
	}
	if isProducer {
		producer, err = r.producer(def, p, reg.contentTypes)
		if err != nil {
			return nil, cfgErr(err)
		}
	}

	a, err := reg.ctor(def.Name, p)
	if err != nil {
		return nil, cfgErr(err)
	}
	if producer != nil {
		a.Subscribe(producer)
	}
	return a, nil
}

func (r *Registry) producer(def Definition, p Props, supported []string) (*Producer, error) {
	code := p.String(KeyProductCode, "")
	if code == "" {
		return nil, fmt.Errorf("%w: %s is required for product producers", ErrInvalidProperty, KeyProductCode)
	}
	if p.Deps.Publishers == nil {
		return nil, fmt.Errorf("product producer requires a publishers manager: %w", ErrMissingCollaborator)
	}
	target, err := p.Deps.Publishers.Get(p.String(KeyPublishersManager, "default"))
	if err != nil {
		return nil, errors.Join(ErrMissingCollaborator, err)
	}

	contentTypes := p.List(KeyContentTypes)
	if len(contentTypes) == 0 && len(supported) > 0 {
		contentTypes = supported[:1]
	}
	for _, ct := range contentTypes {
		if !contains(supported, ct) {
			return nil, fmt.Errorf("%w: %q not produced by %s", ErrUnknownContentType, ct, def.Type)
		}
	}
	return NewProducer(p.String(KeyFeed, ""), def.Name, code, contentTypes, target, p.callTimeout(), p.logger()), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// DefaultRegistry returns a registry with every built-in aggregator type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeTop, func(n string, p Props) (Aggregator, error) { return NewTopOfBook(n, p) },
		ContentTop, ContentQuoteMid)
	r.Register(TypeVWAP, func(n string, p Props) (Aggregator, error) { return NewVWAP(n, p) },
		ContentVWAP)
	r.Register(TypeOWAP, func(n string, p Props) (Aggregator, error) { return NewOWAP(n, p) },
		ContentOWAP)
	r.Register(TypeOHLC, func(n string, p Props) (Aggregator, error) { return NewOHLC(n, p) },
		ContentBar, ContentTop)
	r.Register(TypeTradeOHLC, func(n string, p Props) (Aggregator, error) { return NewTradeOHLC(n, p) },
		ContentBar, ContentTop)
	r.Register(TypeFullBook, func(n string, p Props) (Aggregator, error) { return NewFullBook(n, p) },
		ContentFullBook)
	r.Register(TypeComplexView, func(n string, p Props) (Aggregator, error) { return NewComplexMarketView(n, p) },
		ContentView, ContentTop, ContentQuoteMid, ContentVWAP, ContentOWAP, ContentVWAPMid, ContentOWAPMid)
	r.Register(TypeComplexOHLC, func(n string, p Props) (Aggregator, error) { return NewComplexOHLC(n, p) },
		ContentComplexBar)
	return r
}
