package chat

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/gosuda/benchchat/phoenix"
)

const fallbackFriendName = "Chat"

// pendingJoin is a thread join in flight. Events that arrive on its
// channel before the join continuation runs are queued in early and
// replayed, in order, once the window exists.
type pendingJoin struct {
	friendID   string
	friendName string
	ch         Channel
	rejoin     *window
	early      []func(*Session, *window)
}

// Picker is the open reaction picker, if any.
type Picker struct {
	ThreadID  string   `json:"thread_id"`
	MessageID string   `json:"message_id"`
	Emojis    []string `json:"emojis"`
}

// Toast is a transient notice raised for activity in a minimized window.
type Toast struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
}

func (s *Session) topic(threadID string) string { return s.cfg.ThreadTopicPrefix + threadID }

func (s *Session) friendName(friendID string) string {
	if f, ok := s.friend(friendID); ok && f.DisplayName != "" {
		return f.DisplayName
	}
	return fallbackFriendName
}

func (s *Session) joiningFriend(friendID string) bool {
	for _, j := range s.joining {
		if j.friendID == friendID && j.rejoin == nil {
			return true
		}
	}
	return false
}

// openChat reuses the friend's window when there is one. Otherwise it asks
// the control channel for the thread and joins it.
func (s *Session) openChat(friendID string) {
	if friendID == "" {
		return
	}
	if w := s.windows.byFriend(friendID); w != nil {
		s.unminimize(w, w.minimized || w.unread > 0)
		return
	}
	if s.opening[friendID] || s.joiningFriend(friendID) {
		return
	}
	ch := s.control
	if ch == nil {
		s.logger.Warn().Str("friend_id", friendID).Msg("[chat] open chat before control channel joined")
		return
	}
	s.opening[friendID] = true
	s.push(ch, evOpenChat, map[string]string{"friend_id": friendID}, func(s *Session, r phoenix.Reply) {
		delete(s.opening, friendID)
		if !r.OK() {
			return
		}
		var out openChatReply
		if err := r.Decode(&out); err != nil || out.ThreadID == "" {
			s.logger.Error().Err(err).Str("friend_id", friendID).Msg("[chat] open chat returned no thread")
			return
		}
		s.joinThread(out.ThreadID, friendID, s.friendName(friendID))
	})
}

// joinThread is idempotent: a thread that has a window, or whose join is
// in flight, is only brought to the front.
func (s *Session) joinThread(threadID, friendID, friendName string) {
	if w := s.windows.get(threadID); w != nil {
		s.unminimize(w, w.minimized || w.unread > 0)
		return
	}
	if _, busy := s.joining[threadID]; busy {
		return
	}
	if w := s.windows.byFriend(friendID); w != nil {
		s.unminimize(w, w.minimized || w.unread > 0)
		return
	}
	s.startJoin(threadID, &pendingJoin{friendID: friendID, friendName: friendName})
}

// rejoinBroken joins again every window whose channel failed.
func (s *Session) rejoinBroken() {
	s.windows.each(func(w *window) {
		if !w.broken {
			return
		}
		if _, busy := s.joining[w.threadID]; busy {
			return
		}
		s.startJoin(w.threadID, &pendingJoin{friendID: w.friendID, friendName: w.friendName, rejoin: w})
	})
}

func (s *Session) startJoin(threadID string, j *pendingJoin) {
	if j.rejoin != nil {
		s.leave(j.rejoin.channel)
	}
	j.ch = s.transport.Channel(s.topic(threadID), nil)
	s.joining[threadID] = j
	s.subscribeThread(threadID, j.ch)

	ch := j.ch
	s.goAsync(func(ctx context.Context) func(*Session) {
		r, err := ch.Join(ctx)
		return func(s *Session) { s.joined(threadID, j, r, err) }
	})
}

func (s *Session) joined(threadID string, j *pendingJoin, r phoenix.Reply, err error) {
	if s.joining[threadID] != j {
		return
	}
	delete(s.joining, threadID)
	l := s.logger.With().Str("thread_id", threadID).Logger()

	switch {
	case err != nil:
		l.Error().Err(err).Msg("[chat] join thread failed")
	case r.Status == phoenix.StatusTimeout:
		l.Warn().Msg("[chat] join thread timed out")
	case !r.OK():
		l.Error().Err(r.Err()).Msg("[chat] join thread rejected")
	}
	if err != nil || !r.OK() {
		s.metrics.join(joinResult(r, err))
		s.leave(j.ch)
		if j.rejoin == nil {
			s.restore.forget(threadID)
		}
		return
	}
	s.metrics.join("ok")

	var backlog joinReply
	if err := r.Decode(&backlog); err != nil {
		l.Debug().Err(err).Msg("[chat] decode join backlog")
	}

	if w := j.rejoin; w != nil {
		if s.windows.get(threadID) != w {
			s.leave(j.ch)
			return
		}
		w.channel = j.ch
		w.broken = false
		for _, m := range backlog.Messages {
			if !w.appendMessage(m) {
				s.metrics.duplicate()
			}
		}
		for _, replay := range j.early {
			replay(s, w)
		}
		s.changed()
		return
	}

	if w := s.windows.byFriend(j.friendID); w != nil {
		// Another thread for the same friend won the race.
		s.leave(j.ch)
		s.unminimize(w, w.minimized || w.unread > 0)
		return
	}
	if bumped := s.windows.makeRoom(); bumped != nil {
		l.Debug().Str("minimized", bumped.threadID).Msg("[chat] window budget reached")
	}
	w := newWindow(threadID, j.friendID, j.friendName, j.ch, backlog.Messages)
	s.windows.add(w)
	for _, replay := range j.early {
		replay(s, w)
	}
	if s.restore.flagOnJoin(threadID) {
		w.minimized = true
	}
	s.restore.save(s.windows)
	s.metrics.openWindows(s.windows.len())
	s.changed()
	s.scrollToBottom(w)
}

func joinResult(r phoenix.Reply, err error) string {
	switch {
	case err != nil:
		return "failed"
	case r.Status == phoenix.StatusTimeout:
		return "timeout"
	}
	return "error"
}

// subscribeThread binds the inbound thread events. A handler only touches
// the window that owns ch; events for a closed or replaced window are
// dropped.
func (s *Session) subscribeThread(threadID string, ch Channel) {
	s.onThread(threadID, ch, evNewMessage, func(s *Session, w *window, payload json.RawMessage) {
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Debug().Err(err).Str("thread_id", threadID).Msg("[chat] decode new_message")
			return
		}
		s.handleNewMessage(w, msg)
	})
	s.onThread(threadID, ch, evTyping, func(s *Session, w *window, payload json.RawMessage) {
		var ev typingEvent
		if err := json.Unmarshal(payload, &ev); err != nil || ev.UserID == "" || ev.UserID == s.cfg.UserID {
			return
		}
		s.typing.showTyping(w.threadID, ev.UserID, ev.DisplayName)
		s.changed()
	})
	s.onThread(threadID, ch, evStopTyping, func(s *Session, w *window, payload json.RawMessage) {
		var ev typingEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return
		}
		if s.typing.hideTyping(w.threadID, ev.UserID) {
			s.changed()
		}
	})
	s.onThread(threadID, ch, evReadReceipt, func(s *Session, w *window, payload json.RawMessage) {
		var ev receiptEvent
		if err := json.Unmarshal(payload, &ev); err != nil || ev.UserID == s.cfg.UserID {
			return
		}
		if !w.seen {
			w.seen = true
			s.changed()
		}
	})
	s.onThread(threadID, ch, evReaction, func(s *Session, w *window, payload json.RawMessage) {
		var ev reactionEvent
		if err := json.Unmarshal(payload, &ev); err != nil || ev.MessageID == "" {
			return
		}
		if w.applyReaction(ev) {
			s.changed()
		}
	})

	markBroken := func(s *Session, reason string) {
		if w := s.windows.get(threadID); w != nil && w.channel == ch && !w.broken {
			w.broken = true
			s.logger.Warn().Str("thread_id", threadID).Msg("[chat] thread channel " + reason)
		}
	}
	ch.OnError(func(error) { s.enqueue(func(s *Session) { markBroken(s, "error") }) })
	ch.OnClose(func() { s.enqueue(func(s *Session) { markBroken(s, "closed") }) })
}

func (s *Session) onThread(threadID string, ch Channel, event string, fn func(*Session, *window, json.RawMessage)) {
	ch.On(event, func(payload json.RawMessage) {
		s.enqueue(func(s *Session) {
			if w := s.windows.get(threadID); w != nil && w.channel == ch {
				s.metrics.event(event)
				fn(s, w, payload)
				return
			}
			if j := s.joining[threadID]; j != nil && j.ch == ch {
				s.metrics.event(event)
				j.early = append(j.early, func(s *Session, w *window) { fn(s, w, payload) })
			}
		})
	})
}

// handleNewMessage appends a delivered message, dropping redeliveries.
// Own messages arrive only through this path; nothing is echoed locally.
func (s *Session) handleNewMessage(w *window, msg Message) {
	if !w.appendMessage(msg) {
		s.metrics.duplicate()
		return
	}
	w.seen = false
	s.changed()
	if msg.SenderID != s.cfg.UserID {
		if w.minimized {
			w.unread++
			s.raiseToast(w, "New message from "+plainText(w.friendName))
		} else {
			s.push(w.channel, evMarkRead, empty, nil)
		}
	}
	if !w.minimized {
		s.scrollToBottom(w)
	}
}

func (s *Session) sendMessage(threadID, body string) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return
	}
	w := s.windows.get(threadID)
	if w == nil {
		return
	}
	s.push(w.channel, evNewMessage, map[string]string{"body": trimmed}, nil)
	s.typing.stopLocal(threadID)
}

func (s *Session) pushTyping(threadID, event string) {
	if w := s.windows.get(threadID); w != nil {
		s.push(w.channel, event, empty, nil)
	}
}

func (s *Session) react(threadID, messageID, emoji string) {
	w := s.windows.get(threadID)
	if w == nil || messageID == "" || emoji == "" {
		return
	}
	s.push(w.channel, evReact, map[string]string{"message_id": messageID, "emoji": emoji}, nil)
	if s.picker != nil {
		s.picker = nil
		s.changed()
	}
}

func (s *Session) minimizeWindow(threadID string) {
	w := s.windows.get(threadID)
	if w == nil || w.minimized {
		return
	}
	w.minimized = true
	s.restore.save(s.windows)
	s.changed()
}

func (s *Session) restoreWindow(threadID string) {
	if w := s.windows.get(threadID); w != nil {
		s.unminimize(w, true)
	}
}

// unminimize brings w to the front, clears its unread count and keeps the
// window budget, minimizing older windows as needed.
func (s *Session) unminimize(w *window, markRead bool) {
	w.minimized = false
	w.unread = 0
	if markRead {
		s.push(w.channel, evMarkRead, empty, nil)
	}
	for _, bumped := range s.windows.enforce(w.threadID) {
		s.logger.Debug().Str("thread_id", w.threadID).Str("minimized", bumped.threadID).Msg("[chat] window budget reached")
	}
	s.restore.save(s.windows)
	s.changed()
	s.scrollToBottom(w)
}

// closeWindow is terminal for this window instance. Reopening the thread
// creates a new one.
func (s *Session) closeWindow(threadID string) {
	w := s.windows.remove(threadID)
	if w == nil {
		return
	}
	s.typing.clear(threadID)
	s.restore.forget(threadID)
	if s.picker != nil && s.picker.ThreadID == threadID {
		s.picker = nil
	}
	s.dropToasts(threadID)
	s.leave(w.channel)
	s.restore.save(s.windows)
	s.metrics.openWindows(s.windows.len())
	s.changed()
}

func (s *Session) scrollToBottom(w *window) {
	if s.cfg.Hooks.ScrollToBottom != nil {
		s.cfg.Hooks.ScrollToBottom(w.threadID)
	}
}

func (s *Session) raiseToast(w *window, text string) {
	t := Toast{ID: uuid.NewString(), ThreadID: w.threadID, Text: text}
	s.toasts = append(s.toasts, t)
	s.timers.schedule(toastTimer(t.ID), s.cfg.ToastTTL, func() { s.dismissToast(t.ID) })
	if s.cfg.Hooks.Toast != nil {
		s.cfg.Hooks.Toast(t)
	}
	s.changed()
}

func toastTimer(id string) string { return "toast:" + id }

func (s *Session) dismissToast(id string) {
	for i, t := range s.toasts {
		if t.ID == id {
			s.timers.cancel(toastTimer(id))
			s.toasts = append(s.toasts[:i], s.toasts[i+1:]...)
			s.changed()
			return
		}
	}
}

func (s *Session) dropToasts(threadID string) {
	kept := s.toasts[:0]
	for _, t := range s.toasts {
		if t.ThreadID == threadID {
			s.timers.cancel(toastTimer(t.ID))
			continue
		}
		kept = append(kept, t)
	}
	s.toasts = kept
}
