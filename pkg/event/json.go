package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/villakit/villa/pkg/codec"
)

// wireEvent is the JSON shape of a robot event. The payload sits under
// extend_data.EventData keyed by event name.
type wireEvent struct {
	Robot      Robot  `json:"robot"`
	Type       Kind   `json:"type"`
	ExtendData extend `json:"extend_data"`
	CreatedAt  int64  `json:"created_at"`
	ID         string `json:"id"`
	SendAt     int64  `json:"send_at"`
}

type extend struct {
	EventData map[string]json.RawMessage `json:"EventData"`
}

type callback struct {
	Event *json.RawMessage `json:"event"`
}

// DecodeJSON decodes one robot event object. A nil codec selects the default.
func DecodeJSON(c codec.Codec, data []byte) (*Event, error) {
	c = codec.OrDefault(c)
	var w wireEvent
	if err := c.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("event: decode json: %w", err)
	}

	ev := &Event{
		Robot:     w.Robot,
		Type:      w.Type,
		CreatedAt: w.CreatedAt,
		ID:        w.ID,
		SendAt:    w.SendAt,
	}
	for name, raw := range w.ExtendData.EventData {
		if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		k, ok := KindByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
		}
		if ev.Data != nil {
			return nil, ErrAmbiguousEventData
		}
		d := newData(k)
		if err := c.Unmarshal(raw, d); err != nil {
			return nil, fmt.Errorf("event: decode %s: %w", name, err)
		}
		ev.Data = d
	}
	if err := ev.normalize(); err != nil {
		return nil, err
	}
	return ev, nil
}

// DecodeCallback decodes the body of an HTTP event callback, which wraps the
// event in {"event": ...}.
func DecodeCallback(c codec.Codec, data []byte) (*Event, error) {
	c = codec.OrDefault(c)
	var cb callback
	if err := c.Unmarshal(data, &cb); err != nil {
		return nil, fmt.Errorf("event: decode callback: %w", err)
	}
	if cb.Event == nil {
		return nil, fmt.Errorf("event: callback has no event")
	}
	return DecodeJSON(c, *cb.Event)
}

// EncodeJSON renders ev in the shape DecodeJSON accepts.
func EncodeJSON(c codec.Codec, ev *Event) ([]byte, error) {
	if ev.Data == nil {
		return nil, ErrNoEventData
	}
	c = codec.OrDefault(c)
	payload, err := c.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	return c.Marshal(wireEvent{
		Robot: ev.Robot,
		Type:  ev.Type,
		ExtendData: extend{EventData: map[string]json.RawMessage{
			ev.Data.Kind().String(): payload,
		}},
		CreatedAt: ev.CreatedAt,
		ID:        ev.ID,
		SendAt:    ev.SendAt,
	})
}
