package phoenix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 30 * time.Second
	pushTimeout       = 10 * time.Second
	sendBufferSize    = 64
	readLimit         = 1 << 20

	serializerVsn = "2.0.0"
)

// Config describes how to reach a Phoenix socket endpoint.
type Config struct {
	// URL is the socket mount point, e.g. ws://host/socket. The transport
	// suffix "/websocket" is appended when missing.
	URL    string
	Params map[string]string
	Header http.Header

	Dialer            *websocket.Dialer
	HeartbeatInterval time.Duration
	PushTimeout       time.Duration
	Logger            *zerolog.Logger
}

// Socket owns the single websocket connection shared by all channels.
type Socket struct {
	cfg    Config
	logger zerolog.Logger
	ref    atomic.Uint64

	dialMu sync.Mutex // serializes Connect

	mu       sync.Mutex
	conn     *connection
	channels map[string]*Channel
	closed   bool
	wg       sync.WaitGroup
}

type connection struct {
	ws        *websocket.Conn
	send      chan Message
	done      chan struct{}
	once      sync.Once
	heartbeat atomic.Value // pending heartbeat ref
	err       error
}

func (c *connection) close(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		_ = c.ws.Close()
	})
}

// NewSocket builds a socket; nothing is dialed until Connect.
func NewSocket(cfg Config) *Socket {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = heartbeatInterval
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = pushTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Socket{
		cfg:      cfg,
		logger:   logger.With().Str("component", "phoenix").Logger(),
		channels: make(map[string]*Channel),
	}
}

// Endpoint returns the websocket URL Connect dials.
func (s *Socket) Endpoint() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
	}
	q := u.Query()
	for k, v := range s.cfg.Params {
		q.Set(k, v)
	}
	q.Set("vsn", serializerVsn)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the endpoint if there is no live connection. Calling it
// again while connected is a no-op. The dial runs without holding the
// channel registry lock, so channels can join, push and leave meanwhile.
func (s *Socket) Connect(ctx context.Context) error {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()
	if s.IsConnected() {
		return nil
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrNotConnected
	}
	endpoint, err := s.Endpoint()
	if err != nil {
		return err
	}
	ws, resp, err := s.cfg.Dialer.DialContext(ctx, endpoint, s.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial socket: %w", err)
	}
	conn := &connection{
		ws:   ws,
		send: make(chan Message, sendBufferSize),
		done: make(chan struct{}),
	}
	conn.heartbeat.Store("")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		return ErrNotConnected
	}
	s.conn = conn
	s.wg.Add(2)
	s.mu.Unlock()
	go s.readLoop(conn)
	go s.writeLoop(conn)
	s.logger.Debug().Str("endpoint", s.cfg.URL).Msg("socket connected")
	return nil
}

// IsConnected reports whether a connection is currently live.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return false
	}
	select {
	case <-s.conn.done:
		return false
	default:
		return true
	}
}

// Close tears the connection down. Channels see their error hooks fire and
// in-flight pushes fail with ErrChannelClosed.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		conn.close(ErrNotConnected)
	}
	s.wg.Wait()
	return nil
}

// Channel returns the live channel for topic, creating one when needed.
// params are sent with the join.
func (s *Socket) Channel(topic string, params any) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[topic]; ok && !ch.isLeft() {
		return ch
	}
	raw, err := json.Marshal(params)
	if err != nil || params == nil {
		raw = json.RawMessage(`{}`)
	}
	ch := newChannel(s, topic, raw)
	s.channels[topic] = ch
	return ch
}

func (s *Socket) remove(ch *Channel) {
	s.mu.Lock()
	if current, ok := s.channels[ch.topic]; ok && current == ch {
		delete(s.channels, ch.topic)
	}
	s.mu.Unlock()
}

func (s *Socket) makeRef() string {
	return strconv.FormatUint(s.ref.Add(1), 10)
}

func (s *Socket) pushTimeout() time.Duration {
	return s.cfg.PushTimeout
}

// write queues a frame on the live connection.
func (s *Socket) write(m Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	select {
	case <-conn.done:
		return ErrNotConnected
	default:
	}
	select {
	case conn.send <- m:
		return nil
	case <-conn.done:
		return ErrNotConnected
	}
}

func (s *Socket) readLoop(conn *connection) {
	defer s.wg.Done()
	defer s.dropped(conn)
	conn.ws.SetReadLimit(readLimit)
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			conn.close(err)
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug().Err(err).Msg("skip malformed frame")
			continue
		}
		s.dispatch(conn, msg)
	}
}

func (s *Socket) writeLoop(conn *connection) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case msg := <-conn.send:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error().Err(err).Str("topic", msg.Topic).Str("event", msg.Event).Msg("encode frame")
				continue
			}
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug().Err(err).Msg("write frame")
				conn.close(err)
				return
			}
		case <-ticker.C:
			if pending, _ := conn.heartbeat.Load().(string); pending != "" {
				s.logger.Warn().Msg("heartbeat timeout; closing connection")
				conn.close(ErrTimeout)
				return
			}
			ref := s.makeRef()
			conn.heartbeat.Store(ref)
			data, _ := json.Marshal(Message{Ref: ref, Topic: topicPhoenix, Event: EventHeartbeat})
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.close(err)
				return
			}
		}
	}
}

func (s *Socket) dispatch(conn *connection, msg Message) {
	if msg.Topic == topicPhoenix {
		if msg.Event == EventReply {
			if pending, _ := conn.heartbeat.Load().(string); pending == msg.Ref {
				conn.heartbeat.Store("")
			}
		}
		return
	}
	s.mu.Lock()
	ch := s.channels[msg.Topic]
	s.mu.Unlock()
	if ch == nil {
		return
	}
	ch.trigger(msg)
}

// dropped runs once per connection when its read loop exits.
func (s *Socket) dropped(conn *connection) {
	<-conn.done
	err := conn.err
	if err == nil || errors.Is(err, ErrNotConnected) {
		err = ErrChannelClosed
	}
	s.mu.Lock()
	channels := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	closed := s.closed
	s.mu.Unlock()
	for _, ch := range channels {
		ch.fail(err)
	}
	if !closed {
		s.logger.Warn().Err(conn.err).Msg("socket dropped")
	}
}
