package chat

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/benchchat/phoenix"
	"github.com/gosuda/benchchat/sessionstore"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakePush struct {
	Event   string
	Payload json.RawMessage
}

// fakeTransport stands in for the socket. Replies come from onJoin and
// onPush; inbound events are injected with fakeChannel.emit.
type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	connects   int
	closed     bool
	live       map[string]*fakeChannel
	all        map[string][]*fakeChannel

	onJoin func(topic string) (phoenix.Reply, error)
	onPush func(topic, event string, payload json.RawMessage) (phoenix.Reply, error)
	gates  map[string]chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		live:  make(map[string]*fakeChannel),
		all:   make(map[string][]*fakeChannel),
		gates: make(map[string]chan struct{}),
	}
}

func (t *fakeTransport) Connect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return t.connectErr
}

func (t *fakeTransport) Channel(topic string, _ any) Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.live[topic]; ok && !ch.isLeft() {
		return ch
	}
	ch := &fakeChannel{transport: t, topic: topic, handlers: make(map[string][]func(json.RawMessage))}
	t.live[topic] = ch
	t.all[topic] = append(t.all[topic], ch)
	return ch
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) setOnJoin(fn func(topic string) (phoenix.Reply, error)) {
	t.mu.Lock()
	t.onJoin = fn
	t.mu.Unlock()
}

// gate holds joins on topic until the returned func is called.
func (t *fakeTransport) gate(topic string) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	g := make(chan struct{})
	t.gates[topic] = g
	return func() { close(g) }
}

func (t *fakeTransport) channel(topic string) *fakeChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.all[topic]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (t *fakeTransport) channels(topic string) []*fakeChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeChannel(nil), t.all[topic]...)
}

// pushes counts pushes named event across every channel ever opened on topic.
func (t *fakeTransport) pushes(topic, event string) []fakePush {
	var out []fakePush
	for _, ch := range t.channels(topic) {
		for _, p := range ch.sent() {
			if p.Event == event {
				out = append(out, p)
			}
		}
	}
	return out
}

func (t *fakeTransport) joinsOn(topic string) int {
	n := 0
	for _, ch := range t.channels(topic) {
		ch.mu.Lock()
		n += ch.joins
		ch.mu.Unlock()
	}
	return n
}

type fakeChannel struct {
	transport *fakeTransport
	topic     string

	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
	onError  []func(error)
	onClose  []func()
	joins    int
	left     bool
	pushed   []fakePush
}

func (c *fakeChannel) Topic() string { return c.topic }

func (c *fakeChannel) Join(ctx context.Context) (phoenix.Reply, error) {
	c.mu.Lock()
	c.joins++
	c.mu.Unlock()

	c.transport.mu.Lock()
	gate := c.transport.gates[c.topic]
	onJoin := c.transport.onJoin
	c.transport.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return phoenix.Reply{Status: phoenix.StatusTimeout}, nil
		}
	}
	if onJoin != nil {
		return onJoin(c.topic)
	}
	return okReply(map[string]any{}), nil
}

func (c *fakeChannel) Push(_ context.Context, event string, payload any) (phoenix.Reply, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return phoenix.Reply{}, err
	}
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return phoenix.Reply{}, phoenix.ErrChannelClosed
	}
	c.pushed = append(c.pushed, fakePush{Event: event, Payload: raw})
	c.mu.Unlock()

	c.transport.mu.Lock()
	onPush := c.transport.onPush
	c.transport.mu.Unlock()
	if onPush != nil {
		return onPush(c.topic, event, raw)
	}
	return okReply(map[string]any{}), nil
}

func (c *fakeChannel) On(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], fn)
	c.mu.Unlock()
}

func (c *fakeChannel) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

func (c *fakeChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *fakeChannel) Leave(context.Context) error {
	c.mu.Lock()
	c.left = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) isLeft() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left
}

func (c *fakeChannel) sent() []fakePush {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakePush(nil), c.pushed...)
}

// emit delivers an inbound event the way the socket read loop does.
func (c *fakeChannel) emit(event string, payload any) {
	raw, _ := json.Marshal(payload)
	c.mu.Lock()
	handlers := slices.Clone(c.handlers[event])
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(raw)
	}
}

func (c *fakeChannel) crash(err error) {
	c.mu.Lock()
	hooks := slices.Clone(c.onError)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(err)
	}
}

func okReply(v any) phoenix.Reply {
	raw, _ := json.Marshal(v)
	return phoenix.Reply{Status: phoenix.StatusOK, Response: raw}
}

func errorReply(reason string) phoenix.Reply {
	raw, _ := json.Marshal(map[string]string{"reason": reason})
	return phoenix.Reply{Status: phoenix.StatusError, Response: raw}
}

// harness is a session wired to a fake transport, a mock clock and an
// in-memory store.
type harness struct {
	t         *testing.T
	session   *Session
	transport *fakeTransport
	clock     *clock.Mock
	store     *sessionstore.Memory
	registry  *prometheus.Registry

	mu       sync.Mutex
	friends  []Friend
	scrolled []string
	navs     []string
	toasts   []Toast
	renders  int
}

type harnessOption func(*harness, *Config)

func withStored(raw string) harnessOption {
	return func(h *harness, _ *Config) {
		require.NoError(h.t, h.store.Set(DefaultStorageKey, []byte(raw)))
	}
}

func withStore(store sessionstore.Store) harnessOption {
	return func(_ *harness, cfg *Config) { cfg.Store = store }
}

// brokenStore fails every operation and counts the attempts.
type brokenStore struct {
	gets atomic.Int32
	sets atomic.Int32
}

var errStoreDown = errors.New("store unavailable")

func (b *brokenStore) Get(string) ([]byte, error) {
	b.gets.Add(1)
	return nil, errStoreDown
}

func (b *brokenStore) Set(string, []byte) error {
	b.sets.Add(1)
	return errStoreDown
}

func (b *brokenStore) Delete(string) error { return errStoreDown }
func (b *brokenStore) Close() error        { return errStoreDown }

func withFriends(friends ...Friend) harnessOption {
	return func(h *harness, _ *Config) { h.friends = friends }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		transport: newFakeTransport(),
		clock:     clock.NewMock(),
		store:     sessionstore.NewMemory(),
		registry:  prometheus.NewRegistry(),
		friends: []Friend{
			{ID: "a", DisplayName: "Amy"},
			{ID: "b", DisplayName: "Bo"},
			{ID: "c", DisplayName: "Cy"},
			{ID: "d", DisplayName: "Di"},
			{ID: "e", DisplayName: "Ed"},
		},
	}
	logger := zerolog.Nop()
	cfg := Config{
		Transport: h.transport,
		UserID:    "me",
		Store:     h.store,
		Clock:     h.clock,
		Location:  time.UTC,
		Logger:    &logger,
		Registry:  h.registry,
		Hooks: Hooks{
			Render: func(Snapshot) {
				h.mu.Lock()
				h.renders++
				h.mu.Unlock()
			},
			ScrollToBottom: func(id string) {
				h.mu.Lock()
				h.scrolled = append(h.scrolled, id)
				h.mu.Unlock()
			},
			Navigate: func(path string) {
				h.mu.Lock()
				h.navs = append(h.navs, path)
				h.mu.Unlock()
			},
			Toast: func(tt Toast) {
				h.mu.Lock()
				h.toasts = append(h.toasts, tt)
				h.mu.Unlock()
			},
		},
	}
	for _, opt := range opts {
		opt(h, &cfg)
	}
	h.transport.onPush = h.defaultPush

	s, err := New(cfg)
	require.NoError(t, err)
	h.session = s
	t.Cleanup(s.Destroy)
	return h
}

// defaultPush answers get_friends with the harness friends and open_chat
// with thread "t-<friend_id>".
func (h *harness) defaultPush(_ string, event string, payload json.RawMessage) (phoenix.Reply, error) {
	switch event {
	case evGetFriends:
		h.mu.Lock()
		friends := h.friends
		h.mu.Unlock()
		return okReply(map[string]any{"friends": friends}), nil
	case evOpenChat:
		var req struct {
			FriendID string `json:"friend_id"`
		}
		_ = json.Unmarshal(payload, &req)
		return okReply(map[string]string{"thread_id": "t-" + req.FriendID}), nil
	}
	return okReply(map[string]any{}), nil
}

func (h *harness) connect() {
	h.t.Helper()
	require.NoError(h.t, h.session.Connect(context.Background()))
	require.Eventually(h.t, func() bool { return h.snapshot().FriendsLoaded }, waitFor, tick)
}

// sync waits until every command queued so far has run.
func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.session.call(context.Background(), func(*Session) {}))
}

func (h *harness) inspect(fn func(s *Session)) {
	h.t.Helper()
	require.NoError(h.t, h.session.call(context.Background(), fn))
}

func (h *harness) snapshot() Snapshot {
	return h.session.Snapshot()
}

func (h *harness) dispatch(a Action) {
	h.t.Helper()
	require.NoError(h.t, h.session.Dispatch(a))
}

// open opens a chat with friend and waits for its window.
func (h *harness) open(friendID string) string {
	h.t.Helper()
	threadID := "t-" + friendID
	h.dispatch(OpenChat{FriendID: friendID})
	require.Eventually(h.t, func() bool {
		_, ok := h.snapshot().Window(threadID)
		return ok
	}, waitFor, tick)
	return threadID
}

func (h *harness) thread(threadID string) *fakeChannel {
	return h.transport.channel(DefaultThreadTopicPrefix + threadID)
}

func (h *harness) eventuallyPushes(topic, event string, n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.transport.pushes(topic, event)) == n
	}, waitFor, tick, "want %d %s pushes on %s", n, event, topic)
}

func (h *harness) openIDs() []string {
	var ids []string
	for _, w := range h.snapshot().Windows {
		ids = append(ids, w.ThreadID)
	}
	return ids
}

func (h *harness) minimizedIDs() []string {
	var ids []string
	for _, w := range h.snapshot().Minimized {
		ids = append(ids, w.ThreadID)
	}
	return ids
}

func msg(id, sender, body string) Message {
	return Message{ID: id, SenderID: sender, Body: body}
}
