package chat

import (
	"fmt"
	"net/url"
	"strings"
)

// Action is a UI input event. The set of actions is closed; Session.Dispatch
// is the only way to apply one.
type Action interface {
	apply(s *Session)
}

type (
	OpenChat              struct{ FriendID string }
	CloseWindow           struct{ ThreadID string }
	MinimizeWindow        struct{ ThreadID string }
	RestoreWindow         struct{ ThreadID string }
	ToggleContacts        struct{}
	SendMessage           struct{ ThreadID, Body string }
	Keystroke             struct{ ThreadID string }
	React                 struct{ ThreadID, MessageID, Emoji string }
	ShowReactionPicker    struct{ ThreadID, MessageID string }
	DismissReactionPicker struct{}
	SetContactsFilter     struct{ Query string }
	ViewSharedPost        struct{ PostID string }
	DismissToast          struct{ ID string }
)

func (a OpenChat) apply(s *Session) { s.openChat(a.FriendID) }
func (a CloseWindow) apply(s *Session) { s.closeWindow(a.ThreadID) }
func (a MinimizeWindow) apply(s *Session) { s.minimizeWindow(a.ThreadID) }
func (a RestoreWindow) apply(s *Session) { s.restoreWindow(a.ThreadID) }
func (ToggleContacts) apply(s *Session) {
	s.contactsOpen = !s.contactsOpen
	s.changed()
}
func (a SendMessage) apply(s *Session) { s.sendMessage(a.ThreadID, a.Body) }
func (a Keystroke) apply(s *Session) {
	if s.windows.get(a.ThreadID) != nil {
		s.typing.sendTyping(a.ThreadID)
	}
}
func (a React) apply(s *Session) { s.react(a.ThreadID, a.MessageID, a.Emoji) }
func (a ShowReactionPicker) apply(s *Session) {
	if s.windows.get(a.ThreadID) == nil {
		return
	}
	s.picker = &Picker{ThreadID: a.ThreadID, MessageID: a.MessageID, Emojis: ReactionEmojis}
	s.changed()
}
func (DismissReactionPicker) apply(s *Session) {
	if s.picker != nil {
		s.picker = nil
		s.changed()
	}
}
func (a SetContactsFilter) apply(s *Session) {
	s.filter = a.Query
	s.changed()
}
func (a ViewSharedPost) apply(s *Session) {
	if a.PostID == "" || s.cfg.Hooks.Navigate == nil {
		return
	}
	s.cfg.Hooks.Navigate("/posts/" + url.PathEscape(a.PostID))
}
func (a DismissToast) apply(s *Session) { s.dismissToast(a.ID) }

// Envelope is the JSON form of an action, as posted by a UI.
type Envelope struct {
	Type      string `json:"type"`
	ThreadID  string `json:"thread_id,omitempty"`
	FriendID  string `json:"friend_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
	Body      string `json:"body,omitempty"`
	Query     string `json:"query,omitempty"`
	PostID    string `json:"post_id,omitempty"`
	ID        string `json:"id,omitempty"`
}

// Action decodes the envelope. Type names use the kebab-case form of the
// UI's action attributes.
func (e Envelope) Action() (Action, error) {
	need := func(field, v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("action %s: %s required", e.Type, field)
		}
		return nil
	}
	var (
		a   Action
		err error
	)
	switch e.Type {
	case "open-chat":
		a, err = OpenChat{FriendID: e.FriendID}, need("friend_id", e.FriendID)
	case "close-window":
		a, err = CloseWindow{ThreadID: e.ThreadID}, need("thread_id", e.ThreadID)
	case "minimize-window":
		a, err = MinimizeWindow{ThreadID: e.ThreadID}, need("thread_id", e.ThreadID)
	case "restore-window":
		a, err = RestoreWindow{ThreadID: e.ThreadID}, need("thread_id", e.ThreadID)
	case "toggle-contacts":
		a = ToggleContacts{}
	case "send-message":
		a, err = SendMessage{ThreadID: e.ThreadID, Body: e.Body}, need("thread_id", e.ThreadID)
	case "typing":
		a, err = Keystroke{ThreadID: e.ThreadID}, need("thread_id", e.ThreadID)
	case "react":
		a = React{ThreadID: e.ThreadID, MessageID: e.MessageID, Emoji: e.Emoji}
		for _, f := range [][2]string{{"thread_id", e.ThreadID}, {"message_id", e.MessageID}, {"emoji", e.Emoji}} {
			if err = need(f[0], f[1]); err != nil {
				break
			}
		}
	case "show-reaction-picker":
		a = ShowReactionPicker{ThreadID: e.ThreadID, MessageID: e.MessageID}
		if err = need("thread_id", e.ThreadID); err == nil {
			err = need("message_id", e.MessageID)
		}
	case "dismiss-reaction-picker":
		a = DismissReactionPicker{}
	case "filter-contacts":
		a = SetContactsFilter{Query: e.Query}
	case "view-shared-post":
		a, err = ViewSharedPost{PostID: e.PostID}, need("post_id", e.PostID)
	case "dismiss-toast":
		a, err = DismissToast{ID: e.ID}, need("id", e.ID)
	default:
		return nil, fmt.Errorf("unknown action %q", e.Type)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}
