package chat

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const (
	statusOnline  = "Active now"
	statusOffline = "Offline"
)

// Contact is one row of the contact list.
type Contact struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Initials    string `json:"initials"`
	Color       string `json:"color"`
	Online      bool   `json:"online"`
	Status      string `json:"status"`
	Unread      int    `json:"unread"`
}

// contactProjector derives the contact list from friends, presence and
// windows. It keeps no state of its own beyond the collator, which is not
// safe for concurrent use, so it belongs to the event loop.
type contactProjector struct {
	collator *collate.Collator
	fold     cases.Caser
}

func newContactProjector(tag language.Tag) *contactProjector {
	return &contactProjector{
		collator: collate.New(tag),
		fold:     cases.Fold(),
	}
}

// project filters by a case-insensitive substring of the shown name,
// puts online friends first, and orders each group by display name.
func (p *contactProjector) project(friends []Friend, presence *presenceTracker, windows *windowSet, query string) []Contact {
	needle := p.fold.String(strings.TrimSpace(query))
	out := make([]Contact, 0, len(friends))
	for _, f := range friends {
		name := plainText(f.DisplayName)
		if needle != "" && !strings.Contains(p.fold.String(name), needle) {
			continue
		}
		c := Contact{
			ID:          f.ID,
			DisplayName: name,
			AvatarURL:   f.AvatarURL,
			Initials:    initials(name),
			Color:       avatarColor(f.ID),
			Online:      presence.isOnline(f.ID),
			Status:      statusOffline,
			Unread:      unreadFor(windows, f.ID),
		}
		if c.Online {
			c.Status = statusOnline
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online
		}
		return p.collator.CompareString(out[i].DisplayName, out[j].DisplayName) < 0
	})
	return out
}

func unreadFor(windows *windowSet, friendID string) int {
	n := 0
	windows.each(func(w *window) {
		if w.friendID == friendID {
			n += w.unread
		}
	})
	return n
}
