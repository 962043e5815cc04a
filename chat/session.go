// Package chat is the client-side chat session controller. A Session
// multiplexes a control channel and one channel per conversation thread
// over a single transport connection and keeps the window, presence,
// typing and restore state that a chat widget renders from.
//
// All state is owned by one event loop goroutine. Transport events, timer
// firings, network continuations and UI actions are queued onto it, so no
// two handlers ever run at the same time.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"github.com/gosuda/benchchat/phoenix"
)

// ErrClosed is returned by a Session after Destroy.
var ErrClosed = errors.New("chat: session closed")

const (
	commandBuffer = 256
	leaveTimeout  = time.Second

	restoreSettleTimer = "restore-settle"
)

var empty = struct{}{}

type Session struct {
	cfg       Config
	logger    zerolog.Logger
	metrics   *Metrics
	transport Transport
	clock     clock.Clock

	commands chan func(*Session)
	closing  chan struct{}
	stopped  chan struct{}
	destroy  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	snapshot atomic.Pointer[Snapshot]

	// Everything below belongs to the loop.
	control       Channel
	friends       []Friend
	friendsLoaded bool
	presence      *presenceTracker
	windows       *windowSet
	joining       map[string]*pendingJoin
	opening       map[string]bool
	timers        *timers
	typing        *typingManager
	restore       *restoreManager
	contacts      *contactProjector
	contactsOpen  bool
	filter        string
	picker        *Picker
	toasts        []Toast
	dirty         bool
}

// New builds a session and starts its event loop. The persisted window
// state is read here; nothing is joined until Connect.
func New(cfg Config) (*Session, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("component", "chat").Str("user_id", cfg.UserID).Logger()

	metrics, err := NewMetrics(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		transport:    cfg.Transport,
		clock:        cfg.Clock,
		commands:     make(chan func(*Session), commandBuffer),
		closing:      make(chan struct{}),
		stopped:      make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		presence:     newPresenceTracker(),
		windows:      newWindowSet(cfg.WindowBudget),
		joining:      make(map[string]*pendingJoin),
		opening:      make(map[string]bool),
		contacts:     newContactProjector(language.Und),
		contactsOpen: true,
	}
	s.timers = newTimers(cfg.Clock, s.post)
	s.typing = newTypingManager(s.timers, cfg.TypingDebounce, cfg.TypingExpiry, cfg.Clock.Now, s.pushTyping, s.changed)
	s.restore = newRestoreManager(cfg.Store, cfg.StorageKey, logger)
	s.restore.load()

	initial := s.project()
	s.snapshot.Store(&initial)
	go s.loop()
	return s, nil
}

func (s *Session) loop() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.commands:
			fn(s)
			if s.dirty {
				s.dirty = false
				s.render()
			}
		case <-s.closing:
			s.timers.stopAll()
			return
		}
	}
}

// enqueue queues fn on the loop. It reports false once the session is
// closing.
func (s *Session) enqueue(fn func(*Session)) bool {
	select {
	case <-s.closing:
		return false
	default:
	}
	select {
	case s.commands <- fn:
		return true
	case <-s.closing:
		return false
	}
}

func (s *Session) post(fn func()) bool {
	return s.enqueue(func(*Session) { fn() })
}

// call runs fn on the loop and waits for it.
func (s *Session) call(ctx context.Context, fn func(*Session)) error {
	done := make(chan struct{})
	if !s.enqueue(func(s *Session) {
		fn(s)
		close(done)
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// goAsync runs a network round-trip off the loop and queues the
// continuation it returns. Loop only.
func (s *Session) goAsync(io func(ctx context.Context) func(*Session)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PushTimeout)
		defer cancel()
		if next := io(ctx); next != nil {
			s.enqueue(next)
		}
	}()
}

// push sends event on ch without blocking the loop. Failures are logged;
// then, when set, runs on the loop with the outcome.
func (s *Session) push(ch Channel, event string, payload any, then func(*Session, phoenix.Reply)) {
	s.goAsync(func(ctx context.Context) func(*Session) {
		r, err := ch.Push(ctx, event, payload)
		s.metrics.push(event, r, err)
		l := s.logger.With().Str("topic", ch.Topic()).Str("event", event).Logger()
		switch {
		case err != nil:
			if !errors.Is(err, context.Canceled) {
				l.Error().Err(err).Msg("[chat] push failed")
			}
			r = phoenix.Reply{Status: phoenix.StatusError}
		case r.Status == phoenix.StatusTimeout:
			l.Warn().Msg("[chat] push timed out")
		case !r.OK():
			l.Error().Err(r.Err()).Msg("[chat] push rejected")
		}
		if then == nil {
			return nil
		}
		return func(s *Session) { then(s, r) }
	})
}

// leave releases ch. It runs on the loop so the topic is free before the
// next command can ask the transport for it again.
func (s *Session) leave(ch Channel) {
	if err := ch.Leave(s.ctx); err != nil {
		s.logger.Debug().Err(err).Str("topic", ch.Topic()).Msg("[chat] leave")
	}
}

func (s *Session) changed() { s.dirty = true }

func (s *Session) render() {
	snap := s.project()
	s.snapshot.Store(&snap)
	if s.cfg.Hooks.Render != nil {
		s.cfg.Hooks.Render(snap)
	}
}

// Snapshot returns the most recent render.
func (s *Session) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// Contacts projects the contact list for query without touching the
// session's own filter.
func (s *Session) Contacts(ctx context.Context, query string) ([]Contact, error) {
	var out []Contact
	err := s.call(ctx, func(s *Session) {
		out = s.contacts.project(s.friends, s.presence, s.windows, query)
	})
	return out, err
}

// Dispatch queues a UI action.
func (s *Session) Dispatch(a Action) error {
	if a == nil {
		return errors.New("chat: nil action")
	}
	if !s.enqueue(func(s *Session) { a.apply(s) }) {
		return ErrClosed
	}
	return nil
}

// Connect opens the transport and joins the control channel. It is safe
// to call again after the connection dropped: the control channel and
// any thread whose channel failed are joined again. A failed dial leaves
// the session in the degraded "friends loaded, none known" state.
func (s *Session) Connect(ctx context.Context) error {
	select {
	case <-s.closing:
		return ErrClosed
	default:
	}
	if err := s.transport.Connect(ctx); err != nil {
		s.enqueue(func(s *Session) { s.degrade() })
		return fmt.Errorf("connect transport: %w", err)
	}
	if !s.enqueue(func(s *Session) {
		s.joinControl()
		s.rejoinBroken()
	}) {
		return ErrClosed
	}
	return nil
}

// Destroy leaves every channel, stops every timer, closes the transport
// and stops the loop. It is idempotent.
func (s *Session) Destroy() {
	s.destroy.Do(func() {
		var channels []Channel
		_ = s.call(context.Background(), func(s *Session) {
			if s.control != nil {
				channels = append(channels, s.control)
			}
			s.windows.each(func(w *window) { channels = append(channels, w.channel) })
			for _, j := range s.joining {
				channels = append(channels, j.ch)
			}
			s.timers.stopAll()
		})
		close(s.closing)
		<-s.stopped
		s.cancel()
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		for _, ch := range channels {
			if err := ch.Leave(ctx); err != nil {
				s.logger.Debug().Err(err).Str("topic", ch.Topic()).Msg("[chat] leave on destroy")
			}
		}
		if err := s.transport.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("[chat] close transport")
		}
		s.logger.Debug().Msg("[chat] session destroyed")
	})
}

func (s *Session) joinControl() {
	if s.control != nil {
		return
	}
	ch := s.transport.Channel(s.cfg.ControlTopic, nil)
	s.control = ch

	s.onControl(ch, evPresenceState, func(s *Session, payload json.RawMessage) {
		var state phoenix.PresenceState
		if err := json.Unmarshal(payload, &state); err != nil {
			s.logger.Debug().Err(err).Msg("[chat] decode presence_state")
			return
		}
		s.presence.applyFullSync(state)
		s.changed()
	})
	s.onControl(ch, evPresenceDiff, func(s *Session, payload json.RawMessage) {
		var diff phoenix.PresenceDiff
		if err := json.Unmarshal(payload, &diff); err != nil {
			s.logger.Debug().Err(err).Msg("[chat] decode presence_diff")
			return
		}
		s.presence.applyDiff(diff)
		s.changed()
	})
	ch.OnError(func(err error) {
		s.enqueue(func(s *Session) {
			if s.control != ch {
				return
			}
			s.logger.Warn().Err(err).Msg("[chat] control channel error")
			s.dropControl(ch)
		})
	})
	ch.OnClose(func() {
		s.enqueue(func(s *Session) {
			if s.control != ch {
				return
			}
			s.logger.Warn().Msg("[chat] control channel closed")
			s.dropControl(ch)
		})
	})

	s.goAsync(func(ctx context.Context) func(*Session) {
		r, err := ch.Join(ctx)
		return func(s *Session) {
			if s.control != ch {
				return
			}
			switch {
			case err != nil:
				s.logger.Error().Err(err).Msg("[chat] join control channel failed")
			case r.Status == phoenix.StatusTimeout:
				s.logger.Warn().Msg("[chat] join control channel timed out")
			case !r.OK():
				s.logger.Error().Err(r.Err()).Msg("[chat] join control channel rejected")
			default:
				s.loadFriends(ch)
				return
			}
			s.dropControl(ch)
		}
	})
}

// dropControl forgets a failed control channel so the next Connect joins
// a fresh one, and unblocks the UI if friends never arrived.
func (s *Session) dropControl(ch Channel) {
	s.control = nil
	s.leave(ch)
	s.degrade()
}

func (s *Session) degrade() {
	if !s.friendsLoaded {
		s.friendsLoaded = true
		s.changed()
	}
}

func (s *Session) onControl(ch Channel, event string, fn func(*Session, json.RawMessage)) {
	ch.On(event, func(payload json.RawMessage) {
		s.enqueue(func(s *Session) {
			if s.control != ch {
				return
			}
			s.metrics.event(event)
			fn(s, payload)
		})
	})
}

func (s *Session) loadFriends(ch Channel) {
	s.push(ch, evGetFriends, empty, func(s *Session, r phoenix.Reply) {
		if r.OK() {
			var out friendsReply
			if err := r.Decode(&out); err != nil {
				s.logger.Error().Err(err).Msg("[chat] decode friends")
			} else {
				s.friends = out.Friends
				s.logger.Debug().Int("friends", len(s.friends)).Msg("[chat] friends loaded")
			}
		}
		s.friendsLoaded = true
		s.changed()
		if len(s.friends) > 0 {
			s.attemptRestore()
		}
	})
}

func (s *Session) friend(id string) (Friend, bool) {
	for _, f := range s.friends {
		if f.ID == id {
			return f, true
		}
	}
	return Friend{}, false
}

// attemptRestore replays the persisted windows once per session.
func (s *Session) attemptRestore() {
	snap, ok := s.restore.take()
	if !ok {
		return
	}
	s.logger.Debug().Int("threads", len(snap)).Msg("[chat] restoring windows")
	for _, e := range snap {
		name := e.FriendName
		if f, ok := s.friend(e.FriendID); ok {
			name = f.DisplayName
		}
		if name == "" {
			name = fallbackFriendName
		}
		s.joinThread(e.ThreadID, e.FriendID, name)
	}
	s.timers.schedule(restoreSettleTimer, s.cfg.RestoreSettle, func() {
		flags := s.restore.settle()
		applied := false
		for threadID := range flags {
			if w := s.windows.get(threadID); w != nil {
				w.minimized = true
				delete(flags, threadID)
				applied = true
			}
		}
		if applied {
			s.restore.save(s.windows)
			s.changed()
		}
	})
}
