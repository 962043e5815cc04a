package chat

import "time"

const (
	timeLayout = "3:04pm"
	dayLayout  = "Jan 2, 2006"

	sharedPostFallbackTitle = "View post"
	seenLabel               = "Seen"
)

// Snapshot is everything a UI needs to draw the chat, recomputed from the
// current state after each change.
type Snapshot struct {
	UserID         string       `json:"user_id"`
	FriendsLoaded  bool         `json:"friends_loaded"`
	FriendCount    int          `json:"friend_count"`
	OnlineCount    int          `json:"online_count"`
	ContactsOpen   bool         `json:"contacts_open"`
	ContactsFilter string       `json:"contacts_filter"`
	Contacts       []Contact    `json:"contacts"`
	Windows        []WindowView `json:"windows"`
	Minimized      []WindowView `json:"minimized"`
	Picker         *Picker      `json:"picker,omitempty"`
	Toasts         []Toast      `json:"toasts"`
}

// Window returns the view of a thread, open or minimized.
func (s Snapshot) Window(threadID string) (WindowView, bool) {
	for _, list := range [][]WindowView{s.Windows, s.Minimized} {
		for _, w := range list {
			if w.ThreadID == threadID {
				return w, true
			}
		}
	}
	return WindowView{}, false
}

type WindowView struct {
	ThreadID   string        `json:"thread_id"`
	FriendID   string        `json:"friend_id"`
	FriendName string        `json:"friend_name"`
	Initials   string        `json:"initials"`
	Color      string        `json:"color"`
	Online     bool          `json:"online"`
	Minimized  bool          `json:"minimized"`
	Unread     int           `json:"unread"`
	Seen       bool          `json:"seen"`
	Messages   []MessageView `json:"messages"`
	Typing     []TypingEntry `json:"typing,omitempty"`
}

type MessageView struct {
	ID          string          `json:"id"`
	SenderID    string          `json:"sender_id"`
	Body        string          `json:"body"`
	InsertedAt  time.Time       `json:"inserted_at"`
	Time        string          `json:"time,omitempty"`
	DayDivider  string          `json:"day_divider,omitempty"`
	Own         bool            `json:"own"`
	AIGenerated bool            `json:"ai_generated,omitempty"`
	SharedPost  *SharedPostView `json:"shared_post,omitempty"`
	Reactions   []ReactionGroup `json:"reactions,omitempty"`
	ReadMark    string          `json:"read_mark,omitempty"`
	Picker      bool            `json:"picker,omitempty"`
}

type SharedPostView struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// ReactionGroup is one emoji on a message with everyone who used it, in
// the order they reacted.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

func (s *Session) project() Snapshot {
	snap := Snapshot{
		UserID:         s.cfg.UserID,
		FriendsLoaded:  s.friendsLoaded,
		FriendCount:    len(s.friends),
		OnlineCount:    s.presence.onlineCount(s.friends),
		ContactsOpen:   s.contactsOpen,
		ContactsFilter: s.filter,
		Contacts:       s.contacts.project(s.friends, s.presence, s.windows, s.filter),
		Windows:        []WindowView{},
		Minimized:      []WindowView{},
		Toasts:         append([]Toast(nil), s.toasts...),
	}
	if s.picker != nil {
		p := *s.picker
		snap.Picker = &p
	}
	now := s.clock.Now().In(s.cfg.Location)
	s.windows.each(func(w *window) {
		v := s.windowView(w, now)
		if w.minimized {
			snap.Minimized = append(snap.Minimized, v)
		} else {
			snap.Windows = append(snap.Windows, v)
		}
	})
	return snap
}

func (s *Session) windowView(w *window, now time.Time) WindowView {
	name := plainText(w.friendName)
	v := WindowView{
		ThreadID:   w.threadID,
		FriendID:   w.friendID,
		FriendName: name,
		Initials:   initials(name),
		Color:      avatarColor(w.friendID),
		Online:     s.presence.isOnline(w.friendID),
		Minimized:  w.minimized,
		Unread:     w.unread,
		Seen:       w.seen,
		Messages:   make([]MessageView, 0, len(w.messages)),
		Typing:     s.typing.typing(w.threadID),
	}
	lastDay := ""
	for i, m := range w.messages {
		mv := MessageView{
			ID:          m.ID,
			SenderID:    m.SenderID,
			Body:        plainText(m.Body),
			InsertedAt:  m.InsertedAt.Time,
			Own:         m.SenderID == s.cfg.UserID,
			AIGenerated: m.AIGenerated,
			Reactions:   groupReactions(w.reactions[m.ID]),
		}
		if !m.InsertedAt.IsZero() {
			at := m.InsertedAt.In(s.cfg.Location)
			mv.Time = at.Format(timeLayout)
			if key := at.Format(time.DateOnly); key != lastDay {
				mv.DayDivider = dayLabel(at, now)
				lastDay = key
			}
		}
		if m.SharedPostID != "" {
			title := plainText(m.SharedPostTitle)
			if title == "" {
				title = sharedPostFallbackTitle
			}
			mv.SharedPost = &SharedPostView{ID: m.SharedPostID, Title: title, Snippet: plainText(m.SharedPostSnippet)}
		}
		if mv.Own && w.seen && i == len(w.messages)-1 {
			mv.ReadMark = seenLabel
		}
		if p := s.picker; p != nil && p.ThreadID == w.threadID && p.MessageID == m.ID {
			mv.Picker = true
		}
		v.Messages = append(v.Messages, mv)
	}
	return v
}

// dayLabel names the calendar day of t relative to now.
func dayLabel(t, now time.Time) string {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.Location())
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	}
	return t.Format(dayLayout)
}

func groupReactions(list []Reaction) []ReactionGroup {
	if len(list) == 0 {
		return nil
	}
	var out []ReactionGroup
	index := make(map[string]int)
	for _, r := range list {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(out)
			index[r.Emoji] = i
			out = append(out, ReactionGroup{Emoji: r.Emoji})
		}
		out[i].Count++
		out[i].Users = append(out[i].Users, plainText(r.UserName))
	}
	return out
}
