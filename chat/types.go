package chat

import (
	"strings"
	"time"
)

// Friend is supplied once per session by get_friends.
type Friend struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Message is immutable once received. Display order is arrival order.
type Message struct {
	ID                string    `json:"id"`
	SenderID          string    `json:"sender_id"`
	Body              string    `json:"body"`
	InsertedAt        Timestamp `json:"inserted_at"`
	AIGenerated       bool      `json:"ai_generated,omitempty"`
	SharedPostID      string    `json:"shared_post_id,omitempty"`
	SharedPostTitle   string    `json:"shared_post_title,omitempty"`
	SharedPostSnippet string    `json:"shared_post_snippet,omitempty"`
}

// Reaction is one (user, emoji) mark on a message.
type Reaction struct {
	Emoji    string `json:"emoji"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// Timestamp accepts RFC 3339 as well as the zone-less ISO form used by
// naive datetimes.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	var err error
	for _, layout := range timestampLayouts {
		var parsed time.Time
		if parsed, err = time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return err
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}

// inbound payloads

type joinReply struct {
	Messages []Message `json:"messages"`
}

type friendsReply struct {
	Friends []Friend `json:"friends"`
}

type openChatReply struct {
	ThreadID string `json:"thread_id"`
}

type typingEvent struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type receiptEvent struct {
	UserID string `json:"user_id"`
}

type reactionEvent struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Emoji     string `json:"emoji"`
	Action    string `json:"action"`
}

const (
	reactionAdded   = "added"
	reactionRemoved = "removed"
)

// Event names on the wire.
const (
	evPresenceState = "presence_state"
	evPresenceDiff  = "presence_diff"
	evGetFriends    = "get_friends"
	evOpenChat      = "open_chat"
	evNewMessage    = "new_message"
	evTyping        = "typing"
	evStopTyping    = "stop_typing"
	evReadReceipt   = "read_receipt"
	evReaction      = "reaction"
	evMarkRead      = "mark_read"
	evReact         = "react"
)

// ReactionEmojis are offered by the reaction picker.
var ReactionEmojis = []string{"❤️", "😂", "😮", "👍", "😢", "🙏"}
