package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"marketviews/internal/models"
	"marketviews/internal/publisher"
)

// Product content types.
const (
	ContentTop        = "top"
	ContentVWAP       = "vwap"
	ContentOWAP       = "owap"
	ContentFullBook   = "fullbook"
	ContentBar        = "bar"
	ContentView       = "view"
	ContentVWAPMid    = "vwapmid"
	ContentOWAPMid    = "owapmid"
	ContentQuoteMid   = "quotemid"
	ContentComplexBar = "complexbar"
)

// Producer is a listener that turns selected content of each result into
// products and hands them to a publisher.
type Producer struct {
	code         string
	feed         string
	aggregator   string
	contentTypes []string
	target       publisher.Publisher
	timeout      time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewProducer creates a product producer for the results of aggregator.
func NewProducer(feed, aggregator, code string, contentTypes []string, target publisher.Publisher, timeout time.Duration, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		code:         code,
		feed:         feed,
		aggregator:   aggregator,
		contentTypes: append([]string(nil), contentTypes...),
		target:       target,
		timeout:      timeout,
		logger:       logger.With("component", "product_producer", "code", code),
		now:          time.Now,
	}
}

// OnResult publishes one product per configured content type.
func (p *Producer) OnResult(r Result) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	for _, ct := range p.contentTypes {
		payload, err := extractContent(ct, r)
		if err != nil {
			return fmt.Errorf("product %s: %w", p.code, err)
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("product %s: json marshal failed: %w", p.code, err)
		}
		prod := publisher.Product{
			ID:          uuid.NewString(),
			Code:        p.code,
			ContentType: ct,
			Feed:        p.feed,
			Aggregator:  p.aggregator,
			ProducedAt:  p.now().UTC(),
			Payload:     raw,
		}
		if err := p.target.Publish(ctx, prod); err != nil {
			return fmt.Errorf("product %s/%s: %w", p.code, ct, err)
		}
	}
	return nil
}

// OnNoUpdate implements Listener.
func (p *Producer) OnNoUpdate(int64) error { return nil }

// extractContent selects the part of r a content type names. A result that
// does not carry ct yields ErrUnknownContentType.
func extractContent(ct string, r Result) (any, error) {
	switch v := r.Value().(type) {
	case models.TopQuote:
		switch ct {
		case ContentTop:
			return v, nil
		case ContentQuoteMid:
			return v.Mid(), nil
		}
	case models.WeightedPrice:
		if (ct == ContentVWAP && v.Kind == models.WeightVolume) || (ct == ContentOWAP && v.Kind == models.WeightOrders) {
			return r.Values(), nil
		}
	case models.FullOrderBook:
		if ct == ContentFullBook {
			return v, nil
		}
	case models.BarUpdate:
		switch ct {
		case ContentBar:
			return v, nil
		case ContentTop:
			return v.Quote, nil
		}
	case models.ComplexMarketView:
		switch ct {
		case ContentView:
			return v, nil
		case ContentTop:
			return v.Quote, nil
		case ContentQuoteMid:
			return v.QuoteMid, nil
		case ContentVWAP:
			return []*models.WeightedPrice{v.BidVWAP, v.OfferVWAP}, nil
		case ContentOWAP:
			return []*models.WeightedPrice{v.BidOWAP, v.OfferOWAP}, nil
		case ContentVWAPMid:
			return v.VWAPMid, nil
		case ContentOWAPMid:
			return v.OWAPMid, nil
		}
	case models.ComplexOHLCBar:
		if ct == ContentComplexBar {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %q for %T", ErrUnknownContentType, ct, r.Value())
}
