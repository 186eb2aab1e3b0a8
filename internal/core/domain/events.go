package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	TopicProductCreated = "product.created"

	QueueProductAddedToCart     = "product.added.to.cart"
	QueueProductRemovedFromCart = "product.removed.from.cart"
)

const (
	EventTypeProductCreated         = "ProductCreated"
	EventTypeProductAddedToCart     = "ProductAddedToCart"
	EventTypeProductRemovedFromCart = "ProductRemovedFromCart"
)

// Event is a domain fact exchanged with the broker.
type Event interface {
	EventType() string
	AggregateID() string
	EventMetadata() Metadata
}

// Metadata is carried by every event on the wire next to its own fields.
type Metadata struct {
	EventID    string    `json:"event_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (m Metadata) EventMetadata() Metadata { return m }

func NewMetadata(now time.Time) Metadata {
	return Metadata{EventID: uuid.NewString(), OccurredAt: now.UTC()}
}

type ProductCreated struct {
	Metadata
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func NewProductCreated(p Product, now time.Time) ProductCreated {
	return ProductCreated{Metadata: NewMetadata(now), ID: p.ID, Name: p.Name, Price: p.Price}
}

func (e ProductCreated) EventType() string   { return EventTypeProductCreated }
func (e ProductCreated) AggregateID() string { return e.ID }

type ProductAddedToCart struct {
	Metadata
	ProductID string `json:"product_id"`
}

func (e ProductAddedToCart) EventType() string   { return EventTypeProductAddedToCart }
func (e ProductAddedToCart) AggregateID() string { return e.ProductID }

type ProductRemovedFromCart struct {
	Metadata
	ProductID string `json:"product_id"`
}

func (e ProductRemovedFromCart) EventType() string   { return EventTypeProductRemovedFromCart }
func (e ProductRemovedFromCart) AggregateID() string { return e.ProductID }

// MarshalEvent encodes the event as one flat JSON object whose "type" field names the variant.
func MarshalEvent(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}
	fields["type"] = json.RawMessage(strconv.Quote(e.EventType()))

	return json.Marshal(fields)
}

// UnmarshalEvent is the inverse of MarshalEvent. Every failure wraps ErrDecode.
func UnmarshalEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	switch head.Type {
	case EventTypeProductCreated:
		var e ProductCreated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if e.ID == "" {
			return nil, fmt.Errorf("%w: %s without id", ErrDecode, head.Type)
		}
		return e, nil
	case EventTypeProductAddedToCart:
		var e ProductAddedToCart
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if e.ProductID == "" {
			return nil, fmt.Errorf("%w: %s without product_id", ErrDecode, head.Type)
		}
		return e, nil
	case EventTypeProductRemovedFromCart:
		var e ProductRemovedFromCart
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if e.ProductID == "" {
			return nil, fmt.Errorf("%w: %s without product_id", ErrDecode, head.Type)
		}
		return e, nil
	case "":
		return nil, fmt.Errorf("%w: missing event type", ErrDecode)
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrDecode, head.Type)
	}
}
