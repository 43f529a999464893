// Package changefeed encodes and decodes the change stream wire payload
// shared by the Postgres NOTIFY and Redis pub/sub feeds:
//
//	{"eventType": "INSERT" | "UPDATE" | "DELETE", "new": {...}, "old": {...}}
package changefeed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

const (
	TypeInsert = "INSERT"
	TypeUpdate = "UPDATE"
	TypeDelete = "DELETE"
)

// ErrMalformed is returned for payloads that fail to parse or validate.
var ErrMalformed = errors.New("malformed change payload")

// Payload is one change as it travels on the wire.
type Payload struct {
	EventType string           `json:"eventType"     validate:"required,oneof=INSERT UPDATE DELETE"`
	New       *domain.Estimate `json:"new,omitempty" validate:"required_unless=EventType DELETE"`
	Old       *domain.Estimate `json:"old,omitempty" validate:"required_if=EventType DELETE"`
}

var validate = validator.New()

// Decode parses and validates a wire payload into a change event.
func Decode(data []byte) (domain.ChangeEvent, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(&p); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.EventType == TypeDelete && p.Old.ID == "" {
		return domain.ChangeEvent{}, fmt.Errorf("%w: delete without id", ErrMalformed)
	}
	return p.Event(), nil
}

// Encode renders ev as a wire payload.
func Encode(ev domain.ChangeEvent) ([]byte, error) {
	p, err := FromEvent(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// FromEvent converts a change event to its wire form.
func FromEvent(ev domain.ChangeEvent) (Payload, error) {
	p := Payload{New: ev.Record, Old: ev.Previous}
	switch ev.Kind {
	case domain.EventInsert:
		p.EventType = TypeInsert
	case domain.EventUpdate:
		p.EventType = TypeUpdate
	case domain.EventDelete:
		p.EventType = TypeDelete
		p.New = nil
	default:
		return Payload{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, ev.Kind)
	}
	return p, nil
}

// Event converts a validated payload to a change event.
func (p Payload) Event() domain.ChangeEvent {
	ev := domain.ChangeEvent{Record: p.New, Previous: p.Old}
	switch p.EventType {
	case TypeInsert:
		ev.Kind = domain.EventInsert
	case TypeUpdate:
		ev.Kind = domain.EventUpdate
	case TypeDelete:
		ev.Kind = domain.EventDelete
		ev.Record = nil
	}
	return ev
}

// Touches reports whether the change concerns a record matching f, either
// before or after the change.
func Touches(ev domain.ChangeEvent, f *domain.Filter) bool {
	return f.Matches(ev.Record) || f.Matches(ev.Previous)
}
