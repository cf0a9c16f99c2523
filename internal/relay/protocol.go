// Package relay defines the messages exchanged between webptt endpoints.
//
// Every message is a JSON envelope {"id": tag, "value": payload, "req": id}.
// Requests carry a req id; the answer is a MsgReply envelope with the same
// req id. Receivers ignore tags they do not know so older endpoints keep
// working when new message types are added.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message tags.
const (
	// MsgDiscordLoaded is sent by a content endpoint at startup. The reply
	// value is the current minimum PTT length in milliseconds.
	MsgDiscordLoaded = "discord_loaded"
	// MsgMinLengthChanged carries a new minimum PTT length in milliseconds.
	MsgMinLengthChanged = "min_ptt_length_changed"
	// MsgExtShortcutPushed tells a content endpoint that a pulse arrived.
	MsgExtShortcutPushed = "ext_shortcut_pushed"
	// MsgBroadcasting reports whether the sending tab is broadcasting voice.
	MsgBroadcasting = "broadcasting"
	// MsgStatus asks the background endpoint for a StatusReport.
	MsgStatus = "status"
	// MsgReply answers a request.
	MsgReply = "reply"
	// MsgError reports a message the receiver could not handle. The value is
	// a human readable string.
	MsgError = "error"
)

// DefaultMinLengthMS is the minimum PTT length used when none is stored.
const DefaultMinLengthMS = 800

// ErrMissingValue is returned when a message that requires a value has none.
var ErrMissingValue = errors.New("relay: message has no value")

// Envelope is the wire form of every relay message.
type Envelope struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value,omitempty"`
	Req   string          `json:"req,omitempty"`
}

// NewMessage builds an envelope with value marshaled as JSON. A nil value
// produces an envelope without a value.
func NewMessage(id string, value any) (Envelope, error) {
	env := Envelope{ID: id}
	if value == nil {
		return env, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return Envelope{}, fmt.Errorf("relay: marshal %s value: %w", id, err)
	}
	env.Value = raw
	return env, nil
}

// MustMessage is NewMessage for values that always marshal.
func MustMessage(id string, value any) Envelope {
	env, err := NewMessage(id, value)
	if err != nil {
		panic(err)
	}
	return env
}

// Reply builds the answer to req.
func Reply(req Envelope, value any) (Envelope, error) {
	env, err := NewMessage(MsgReply, value)
	if err != nil {
		return Envelope{}, err
	}
	env.Req = req.Req
	return env, nil
}

// Encode serializes env.
func Encode(env Envelope) ([]byte, error) {
	if env.ID == "" {
		return nil, errors.New("relay: encode: message id is empty")
	}
	return json.Marshal(env)
}

// Decode parses one envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("relay: decode: %w", err)
	}
	if env.ID == "" {
		return Envelope{}, errors.New("relay: decode: message id is empty")
	}
	return env, nil
}

// Bool decodes a boolean value.
func (e Envelope) Bool() (bool, error) {
	var v bool
	if err := e.decodeValue(&v); err != nil {
		return false, err
	}
	return v, nil
}

// MinLength decodes a minimum PTT length given in milliseconds.
func (e Envelope) MinLength() (time.Duration, error) {
	var ms int64
	if err := e.decodeValue(&ms); err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, fmt.Errorf("relay: %s: minimum length must be positive, got %d", e.ID, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// DecodeValue unmarshals the value into out.
func (e Envelope) DecodeValue(out any) error {
	return e.decodeValue(out)
}

func (e Envelope) decodeValue(out any) error {
	if len(e.Value) == 0 || string(e.Value) == "null" {
		return fmt.Errorf("%w: %s", ErrMissingValue, e.ID)
	}
	if err := json.Unmarshal(e.Value, out); err != nil {
		return fmt.Errorf("relay: %s value: %w", e.ID, err)
	}
	return nil
}

// MinLengthMS converts d to the millisecond form used on the wire.
func MinLengthMS(d time.Duration) int64 {
	return d.Milliseconds()
}

// StatusReport is the reply to MsgStatus.
type StatusReport struct {
	MinLengthMS     int64       `json:"minPttLength"`
	BroadcastingTab string      `json:"broadcastingTab,omitempty"`
	Fanout          string      `json:"fanout"`
	Tabs            []TabStatus `json:"tabs"`
	NativeConnected bool        `json:"nativeConnected"`
	PulsesRelayed   uint64      `json:"pulsesRelayed"`
	RecentWarnings  []string    `json:"recentWarnings,omitempty"`
}

// TabStatus describes one connected endpoint.
type TabStatus struct {
	ID    string `json:"id"`
	URL   string `json:"url,omitempty"`
	IsApp bool   `json:"isApp"`
}
