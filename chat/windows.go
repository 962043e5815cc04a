package chat

// window is the state of one joined thread. It exists from a successful
// join until close, and is owned by the event loop.
type window struct {
	threadID   string
	friendID   string
	friendName string
	minimized  bool
	unread     int
	messages   []Message
	ids        map[string]struct{}
	seen       bool
	reactions  map[string][]Reaction
	channel    Channel
	// broken is set when the channel errored or was closed by the server;
	// the next Connect joins the thread again.
	broken bool
}

func newWindow(threadID, friendID, friendName string, ch Channel, backlog []Message) *window {
	w := &window{
		threadID:   threadID,
		friendID:   friendID,
		friendName: friendName,
		ids:        make(map[string]struct{}, len(backlog)),
		reactions:  make(map[string][]Reaction),
		channel:    ch,
	}
	for _, m := range backlog {
		w.appendMessage(m)
	}
	return w
}

// appendMessage appends m unless a message with the same id is already
// present. It reports whether m was appended.
func (w *window) appendMessage(m Message) bool {
	if m.ID != "" {
		if _, dup := w.ids[m.ID]; dup {
			return false
		}
		w.ids[m.ID] = struct{}{}
	}
	w.messages = append(w.messages, m)
	return true
}

// applyReaction folds one reaction event into the window. Unknown actions
// change nothing.
func (w *window) applyReaction(ev reactionEvent) bool {
	switch ev.Action {
	case reactionAdded:
		list := w.withoutReaction(ev.MessageID, ev.UserID, ev.Emoji)
		w.reactions[ev.MessageID] = append(list, Reaction{Emoji: ev.Emoji, UserID: ev.UserID, UserName: ev.UserName})
		return true
	case reactionRemoved:
		list := w.withoutReaction(ev.MessageID, ev.UserID, ev.Emoji)
		if len(list) == 0 {
			delete(w.reactions, ev.MessageID)
		} else {
			w.reactions[ev.MessageID] = list
		}
		return true
	}
	return false
}

func (w *window) withoutReaction(messageID, userID, emoji string) []Reaction {
	current := w.reactions[messageID]
	out := make([]Reaction, 0, len(current)+1)
	for _, r := range current {
		if r.UserID == userID && r.Emoji == emoji {
			continue
		}
		out = append(out, r)
	}
	return out
}

// windowSet keeps windows in insertion order. Insertion order is what
// "oldest" means when the budget forces a window to minimize.
type windowSet struct {
	budget int
	order  []string
	byID   map[string]*window
}

func newWindowSet(budget int) *windowSet {
	return &windowSet{budget: budget, byID: make(map[string]*window)}
}

func (ws *windowSet) get(threadID string) *window { return ws.byID[threadID] }

func (ws *windowSet) byFriend(friendID string) *window {
	for _, id := range ws.order {
		if w := ws.byID[id]; w.friendID == friendID {
			return w
		}
	}
	return nil
}

func (ws *windowSet) len() int { return len(ws.order) }

// each visits windows oldest first.
func (ws *windowSet) each(fn func(*window)) {
	for _, id := range ws.order {
		fn(ws.byID[id])
	}
}

func (ws *windowSet) openCount() int {
	n := 0
	for _, id := range ws.order {
		if !ws.byID[id].minimized {
			n++
		}
	}
	return n
}

// oldestOpen returns the earliest-inserted non-minimized window other than
// except.
func (ws *windowSet) oldestOpen(except string) *window {
	for _, id := range ws.order {
		if w := ws.byID[id]; !w.minimized && id != except {
			return w
		}
	}
	return nil
}

// makeRoom minimizes the oldest open window when a new one would exceed
// the budget. It returns the window it minimized, if any.
func (ws *windowSet) makeRoom() *window {
	if ws.openCount() < ws.budget {
		return nil
	}
	w := ws.oldestOpen("")
	if w != nil {
		w.minimized = true
	}
	return w
}

// enforce minimizes the oldest open windows other than keep until the
// budget holds again.
func (ws *windowSet) enforce(keep string) []*window {
	var minimized []*window
	for ws.openCount() > ws.budget {
		w := ws.oldestOpen(keep)
		if w == nil {
			break
		}
		w.minimized = true
		minimized = append(minimized, w)
	}
	return minimized
}

func (ws *windowSet) add(w *window) {
	if _, ok := ws.byID[w.threadID]; ok {
		return
	}
	ws.order = append(ws.order, w.threadID)
	ws.byID[w.threadID] = w
}

func (ws *windowSet) remove(threadID string) *window {
	w, ok := ws.byID[threadID]
	if !ok {
		return nil
	}
	delete(ws.byID, threadID)
	for i, id := range ws.order {
		if id == threadID {
			ws.order = append(ws.order[:i], ws.order[i+1:]...)
			break
		}
	}
	return w
}
