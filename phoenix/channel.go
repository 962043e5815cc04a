package phoenix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

type channelState int

const (
	stateClosed channelState = iota
	stateJoining
	stateJoined
	stateErrored
	stateLeft
)

// Channel is one logical topic multiplexed over the socket.
type Channel struct {
	socket *Socket
	topic  string
	params json.RawMessage

	mu        sync.Mutex
	state     channelState
	joinRef   string
	joinReply Reply
	bindings  map[string][]func(json.RawMessage)
	pending   map[string]chan Reply
	onError   []func(error)
	onClose   []func()
	left      chan struct{}
}

func newChannel(s *Socket, topic string, params json.RawMessage) *Channel {
	return &Channel{
		socket:   s,
		topic:    topic,
		params:   params,
		bindings: make(map[string][]func(json.RawMessage)),
		pending:  make(map[string]chan Reply),
		left:     make(chan struct{}),
	}
}

func (c *Channel) Topic() string { return c.topic }

// On registers fn for every inbound event named event, in arrival order.
func (c *Channel) On(event string, fn func(payload json.RawMessage)) {
	c.mu.Lock()
	c.bindings[event] = append(c.bindings[event], fn)
	c.mu.Unlock()
}

// OnError registers fn for server-side channel crashes and dropped sockets.
func (c *Channel) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

// OnClose registers fn for a server-initiated close.
func (c *Channel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// Join sends phx_join and waits for its reply. A channel that already
// joined returns the original reply without touching the wire. Error and
// timeout are reported through Reply.Status; the channel is then discarded.
func (c *Channel) Join(ctx context.Context) (Reply, error) {
	c.mu.Lock()
	switch c.state {
	case stateJoined:
		r := c.joinReply
		c.mu.Unlock()
		return r, nil
	case stateJoining:
		c.mu.Unlock()
		return Reply{}, fmt.Errorf("%w: join already in flight for %s", ErrJoinFailed, c.topic)
	case stateLeft:
		c.mu.Unlock()
		return Reply{}, ErrChannelClosed
	}
	ref := c.socket.makeRef()
	c.state = stateJoining
	c.joinRef = ref
	wait := make(chan Reply, 1)
	c.pending[ref] = wait
	c.mu.Unlock()

	msg := Message{JoinRef: ref, Ref: ref, Topic: c.topic, Event: EventJoin, Payload: c.params}
	reply, err := c.await(ctx, ref, wait, msg)
	c.mu.Lock()
	if err == nil && reply.OK() && c.state == stateJoining {
		c.state = stateJoined
		c.joinReply = reply
		c.mu.Unlock()
		return reply, nil
	}
	c.mu.Unlock()
	c.discard()
	return reply, err
}

// Push sends event on the channel and waits for the reply or the push
// timeout, whichever comes first.
func (c *Channel) Push(ctx context.Context, event string, payload any) (Reply, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	if payload == nil {
		raw = json.RawMessage(`{}`)
	}
	c.mu.Lock()
	if c.state == stateLeft {
		c.mu.Unlock()
		return Reply{}, ErrChannelClosed
	}
	ref := c.socket.makeRef()
	wait := make(chan Reply, 1)
	c.pending[ref] = wait
	joinRef := c.joinRef
	c.mu.Unlock()

	return c.await(ctx, ref, wait, Message{JoinRef: joinRef, Ref: ref, Topic: c.topic, Event: event, Payload: raw})
}

func (c *Channel) await(ctx context.Context, ref string, wait chan Reply, msg Message) (Reply, error) {
	defer c.forget(ref)
	if err := c.socket.write(msg); err != nil {
		return Reply{}, err
	}
	timer := time.NewTimer(c.socket.pushTimeout())
	defer timer.Stop()
	select {
	case r, ok := <-wait:
		if !ok {
			return Reply{}, ErrChannelClosed
		}
		return r, nil
	case <-timer.C:
		return Reply{Status: StatusTimeout}, nil
	case <-c.left:
		// A reply that landed just before the close still counts.
		select {
		case r, ok := <-wait:
			if ok {
				return r, nil
			}
		default:
		}
		return Reply{}, ErrChannelClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Reply{Status: StatusTimeout}, nil
		}
		return Reply{}, ctx.Err()
	}
}

func (c *Channel) forget(ref string) {
	c.mu.Lock()
	delete(c.pending, ref)
	c.mu.Unlock()
}

// Leave releases the channel. It is idempotent; in-flight pushes stop being
// awaited and late frames for the topic are ignored.
func (c *Channel) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateLeft {
		c.mu.Unlock()
		return nil
	}
	joined := c.state == stateJoined
	joinRef := c.joinRef
	c.mu.Unlock()
	c.discard()
	if !joined {
		return nil
	}
	// The server reply is not awaited; the topic is gone on our side.
	err := c.socket.write(Message{JoinRef: joinRef, Ref: c.socket.makeRef(), Topic: c.topic, Event: EventLeave})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (c *Channel) isLeft() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateLeft
}

func (c *Channel) discard() {
	c.mu.Lock()
	if c.state == stateLeft {
		c.mu.Unlock()
		return
	}
	c.state = stateLeft
	close(c.left)
	c.mu.Unlock()
	c.socket.remove(c)
}

func (c *Channel) trigger(msg Message) {
	c.mu.Lock()
	if c.state == stateLeft {
		c.mu.Unlock()
		return
	}
	if msg.JoinRef != "" && c.joinRef != "" && msg.JoinRef != c.joinRef {
		c.mu.Unlock()
		return
	}
	switch msg.Event {
	case EventReply:
		// Delivered under the lock so fail cannot close wait underneath us.
		defer c.mu.Unlock()
		wait, ok := c.pending[msg.Ref]
		if !ok {
			return
		}
		var p replyPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			p.Status = string(StatusError)
		}
		select {
		case wait <- Reply{Status: Status(p.Status), Response: p.Response}:
		default:
		}
		return
	case EventError:
		c.state = stateErrored
		hooks := slices.Clone(c.onError)
		c.mu.Unlock()
		for _, fn := range hooks {
			fn(fmt.Errorf("phoenix: channel %s crashed", c.topic))
		}
		return
	case EventClose:
		hooks := slices.Clone(c.onClose)
		c.mu.Unlock()
		c.discard()
		for _, fn := range hooks {
			fn()
		}
		return
	}
	handlers := slices.Clone(c.bindings[msg.Event])
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(msg.Payload)
	}
}

// fail is called when the socket drops underneath the channel.
func (c *Channel) fail(err error) {
	c.mu.Lock()
	if c.state == stateLeft {
		c.mu.Unlock()
		return
	}
	c.state = stateErrored
	for ref, wait := range c.pending {
		close(wait)
		delete(c.pending, ref)
	}
	hooks := slices.Clone(c.onError)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(err)
	}
}
