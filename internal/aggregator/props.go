package aggregator

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"marketviews/internal/history"
	"marketviews/internal/publisher"
)

// Recognized property keys.
const (
	KeyFeed              = "feed"
	KeySymbol            = "symbol"
	KeyTimeFrame         = "timeFrame"
	KeyTimeOffset        = "timeOffset"
	KeyDepth             = "depth"
	KeySlippageFilter    = "slippageFilter"
	KeySpreadThreshold   = "spreadThreshold"
	KeySynthSpread       = "synthSpread"
	KeyHistoryRecorder   = "isHistoryRecorder"
	KeyProductProducer   = "isProductProducer"
	KeyProductCode       = "productCode"
	KeyPublishersManager = "publishersManager"
	KeyContentTypes      = "contentTypes"
	KeyPriceSource       = "priceSource"
)

// Configuration error causes.
var (
	ErrUnknownType         = errors.New("unknown aggregator type")
	ErrMissingCollaborator = errors.New("missing required collaborator")
	ErrInvalidProperty     = errors.New("invalid property")
	ErrConflictingFilters  = errors.New("slippage filter and spread corrector are mutually exclusive")
	ErrUnknownContentType  = errors.New("unknown content type")
)

// ConfigError reports an aggregator that could not be built from its definition.
type ConfigError struct {
	Feed       string
	Aggregator string
	Type       string
	Err        error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("aggregator config")
	if e.Feed != "" {
		fmt.Fprintf(&b, " feed=%s", e.Feed)
	}
	if e.Aggregator != "" {
		fmt.Fprintf(&b, " name=%s", e.Aggregator)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " type=%s", e.Type)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Deps are the shared collaborators injected into every aggregator.
type Deps struct {
	History    history.Provider
	Publishers *publisher.Manager
	Logger     *slog.Logger
	// CallTimeout bounds each synchronous collaborator call made from a callback.
	CallTimeout time.Duration
}

// Props is the property bag an aggregator is constructed from.
type Props struct {
	Values map[string]string
	Deps   Deps
}

// NewProps creates a property bag over a copy of values.
func NewProps(values map[string]string, deps Deps) Props {
	v := make(map[string]string, len(values))
	for k, val := range values {
		v[k] = val
	}
	return Props{Values: v, Deps: deps}
}

// Has reports whether key is set to a non-blank value.
func (p Props) Has(key string) bool {
	return strings.TrimSpace(p.Values[key]) != ""
}

// String returns the trimmed value of key or def.
func (p Props) String(key, def string) string {
	if v := strings.TrimSpace(p.Values[key]); v != "" {
		return v
	}
	return def
}

// Int parses key as an int.
func (p Props) Int(key string, def int) (int, error) {
	if !p.Has(key) {
		return def, nil
	}
	v, err := strconv.Atoi(p.String(key, ""))
	if err != nil {
		return def, invalidProperty(key, p.Values[key], err)
	}
	return v, nil
}

// Int64 parses key as an int64.
func (p Props) Int64(key string, def int64) (int64, error) {
	if !p.Has(key) {
		return def, nil
	}
	v, err := strconv.ParseInt(p.String(key, ""), 10, 64)
	if err != nil {
		return def, invalidProperty(key, p.Values[key], err)
	}
	return v, nil
}

// Bool parses key as a bool.
func (p Props) Bool(key string, def bool) (bool, error) {
	if !p.Has(key) {
		return def, nil
	}
	v, err := strconv.ParseBool(p.String(key, ""))
	if err != nil {
		return def, invalidProperty(key, p.Values[key], err)
	}
	return v, nil
}

// Duration parses key as a Go duration string ("1m", "30s").
func (p Props) Duration(key string, def time.Duration) (time.Duration, error) {
	if !p.Has(key) {
		return def, nil
	}
	v, err := time.ParseDuration(p.String(key, ""))
	if err != nil {
		return def, invalidProperty(key, p.Values[key], err)
	}
	return v, nil
}

// List splits a comma separated value, dropping blanks.
func (p Props) List(key string) []string {
	var out []string
	for _, part := range strings.Split(p.Values[key], ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Without returns a copy of the bag without keys.
func (p Props) Without(keys ...string) Props {
	out := NewProps(p.Values, p.Deps)
	for _, k := range keys {
		delete(out.Values, k)
	}
	return out
}

// forSubAggregator strips the keys a composite handles itself.
func (p Props) forSubAggregator() Props {
	return p.Without(KeySlippageFilter, KeySpreadThreshold, KeySynthSpread,
		KeyProductProducer, KeyProductCode, KeyPublishersManager, KeyContentTypes)
}

func (p Props) logger() *slog.Logger {
	if p.Deps.Logger != nil {
		return p.Deps.Logger
	}
	return slog.Default()
}

func (p Props) callTimeout() time.Duration {
	if p.Deps.CallTimeout > 0 {
		return p.Deps.CallTimeout
	}
	return 2 * time.Second
}

func invalidProperty(key, value string, err error) error {
	return fmt.Errorf("%w: %s=%q: %v", ErrInvalidProperty, key, value, err)
}
