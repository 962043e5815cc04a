// Package phoenix is a client for the Phoenix channels protocol (serializer
// vsn 2.0.0): one websocket carries many logical channels, each joined by
// topic, with request/reply pushes matched by ref.
package phoenix

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Protocol event names.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"

	topicPhoenix = "phoenix"
)

var (
	ErrNotConnected  = errors.New("phoenix: socket not connected")
	ErrChannelClosed = errors.New("phoenix: channel closed")
	ErrJoinFailed    = errors.New("phoenix: join failed")
	ErrTimeout       = errors.New("phoenix: timeout")
)

// Message is one frame on the wire: [join_ref, ref, topic, event, payload].
type Message struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload json.RawMessage
}

func (m Message) MarshalJSON() ([]byte, error) {
	payload := m.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return json.Marshal([]any{nullable(m.JoinRef), nullable(m.Ref), m.Topic, m.Event, payload})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	if len(parts) != 5 {
		return fmt.Errorf("decode frame: want 5 elements, got %d", len(parts))
	}
	var joinRef, ref *string
	if err := json.Unmarshal(parts[0], &joinRef); err != nil {
		return fmt.Errorf("decode join_ref: %w", err)
	}
	if err := json.Unmarshal(parts[1], &ref); err != nil {
		return fmt.Errorf("decode ref: %w", err)
	}
	if err := json.Unmarshal(parts[2], &m.Topic); err != nil {
		return fmt.Errorf("decode topic: %w", err)
	}
	if err := json.Unmarshal(parts[3], &m.Event); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	m.JoinRef, m.Ref = deref(joinRef), deref(ref)
	m.Payload = append(json.RawMessage(nil), bytes.TrimSpace(parts[4])...)
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Status is the outcome of a push. Timeout is an outcome like any other.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Reply is what a push resolved to.
type Reply struct {
	Status   Status
	Response json.RawMessage
}

func (r Reply) OK() bool { return r.Status == StatusOK }

// Decode unmarshals the reply response into v.
func (r Reply) Decode(v any) error {
	if len(r.Response) == 0 {
		return nil
	}
	return json.Unmarshal(r.Response, v)
}

// Err maps a non-ok outcome to an error so callers that only log can do so.
func (r Reply) Err() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusTimeout:
		return ErrTimeout
	default:
		return fmt.Errorf("phoenix: reply %s: %s", r.Status, string(r.Response))
	}
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}
