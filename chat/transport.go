package chat

import (
	"context"
	"encoding/json"

	"github.com/gosuda/benchchat/phoenix"
)

// Transport is a single connection carrying many logical channels.
type Transport interface {
	Connect(ctx context.Context) error
	Channel(topic string, params any) Channel
	Close() error
}

// Channel is one logical channel on a Transport. Handlers registered with
// On run once per inbound event, in arrival order, on the transport's
// goroutine.
type Channel interface {
	Topic() string
	Join(ctx context.Context) (phoenix.Reply, error)
	Push(ctx context.Context, event string, payload any) (phoenix.Reply, error)
	On(event string, fn func(payload json.RawMessage))
	OnError(fn func(error))
	OnClose(fn func())
	Leave(ctx context.Context) error
}

// SocketTransport adapts a phoenix socket to Transport.
type SocketTransport struct {
	Socket *phoenix.Socket
}

func NewSocketTransport(s *phoenix.Socket) *SocketTransport {
	return &SocketTransport{Socket: s}
}

func (t *SocketTransport) Connect(ctx context.Context) error { return t.Socket.Connect(ctx) }

func (t *SocketTransport) Channel(topic string, params any) Channel {
	return t.Socket.Channel(topic, params)
}

func (t *SocketTransport) Close() error { return t.Socket.Close() }

var _ Channel = (*phoenix.Channel)(nil)
