package chat

import (
	"sort"
	"time"
)

// TypingEntry is a remote user's typing indicator in one thread.
type TypingEntry struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// typingManager debounces local typing notifications and expires remote
// indicators. Every entry in remote has exactly one pending expiry timer
// and vice versa. Loop-owned.
type typingManager struct {
	timers   *timers
	debounce time.Duration
	expiry   time.Duration
	now      func() time.Time
	push     func(threadID, event string)
	changed  func()

	remote map[string]map[string]*TypingEntry
}

func outboundTimer(threadID string) string { return "typing-out:" + threadID }

func inboundTimer(threadID, userID string) string {
	return "typing-in:" + threadID + ":" + userID
}

func newTypingManager(ts *timers, debounce, expiry time.Duration, now func() time.Time, push func(string, string), changed func()) *typingManager {
	return &typingManager{
		timers:   ts,
		debounce: debounce,
		expiry:   expiry,
		now:      now,
		push:     push,
		changed:  changed,
		remote:   make(map[string]map[string]*TypingEntry),
	}
}

// sendTyping pushes typing at the start of a burst and stop_typing one
// debounce interval after its last keystroke.
func (t *typingManager) sendTyping(threadID string) {
	name := outboundTimer(threadID)
	if !t.timers.pending(name) {
		t.push(threadID, evTyping)
	}
	t.timers.schedule(name, t.debounce, func() {
		t.push(threadID, evStopTyping)
	})
}

// stopLocal ends a local burst early, as sending a message does.
func (t *typingManager) stopLocal(threadID string) {
	t.timers.cancel(outboundTimer(threadID))
	t.push(threadID, evStopTyping)
}

func (t *typingManager) showTyping(threadID, userID, displayName string) {
	users, ok := t.remote[threadID]
	if !ok {
		users = make(map[string]*TypingEntry)
		t.remote[threadID] = users
	}
	users[userID] = &TypingEntry{UserID: userID, DisplayName: displayName, ExpiresAt: t.now().Add(t.expiry)}
	t.timers.schedule(inboundTimer(threadID, userID), t.expiry, func() {
		t.drop(threadID, userID)
		t.changed()
	})
}

func (t *typingManager) hideTyping(threadID, userID string) bool {
	t.timers.cancel(inboundTimer(threadID, userID))
	return t.drop(threadID, userID)
}

func (t *typingManager) drop(threadID, userID string) bool {
	users, ok := t.remote[threadID]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.remote, threadID)
	}
	return true
}

// clear forgets everything about a thread, local and remote, without
// pushing anything.
func (t *typingManager) clear(threadID string) {
	t.timers.cancel(outboundTimer(threadID))
	for userID := range t.remote[threadID] {
		t.timers.cancel(inboundTimer(threadID, userID))
	}
	delete(t.remote, threadID)
}

// typing lists the users typing in a thread, ordered by user id.
func (t *typingManager) typing(threadID string) []TypingEntry {
	users := t.remote[threadID]
	if len(users) == 0 {
		return nil
	}
	out := make([]TypingEntry, 0, len(users))
	for _, e := range users {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
