package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/gosuda/benchchat/chat"
)

// console prints chat activity for the terminal user. Hooks run on the
// session loop while the prompt writes from the input goroutine, so every
// write goes through mu.
type console struct {
	mu  sync.Mutex
	out io.Writer

	// printed counts the messages already shown per thread. Only touched
	// from render, which runs on the session loop.
	printed map[string]int
}

func newConsole(out io.Writer) *console {
	return &console{out: out, printed: make(map[string]int)}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) hooks() chat.Hooks {
	return chat.Hooks{
		Render: c.render,
		Navigate: func(path string) {
			c.printf("-> %s\n", path)
		},
		Toast: func(t chat.Toast) {
			c.printf("! %s (%s)\n", t.Text, t.ThreadID)
		},
	}
}

// render prints messages that were not shown yet, for open and minimized
// windows alike, and forgets threads whose window is gone.
func (c *console) render(snap chat.Snapshot) {
	live := make(map[string]bool)
	for _, list := range [][]chat.WindowView{snap.Windows, snap.Minimized} {
		for _, w := range list {
			live[w.ThreadID] = true
			done := c.printed[w.ThreadID]
			if done > len(w.Messages) {
				done = 0
			}
			for _, m := range w.Messages[done:] {
				who := w.FriendName
				if m.Own {
					who = "you"
				}
				c.printf("[%s] %s %s: %s\n", w.ThreadID, m.Time, who, messageText(m))
			}
			c.printed[w.ThreadID] = len(w.Messages)
		}
	}
	for id := range c.printed {
		if !live[id] {
			delete(c.printed, id)
		}
	}
}

func messageText(m chat.MessageView) string {
	text := m.Body
	if m.SharedPost != nil {
		text += fmt.Sprintf(" [post %s: %s]", m.SharedPost.ID, m.SharedPost.Title)
	}
	if m.AIGenerated {
		text += " (ai)"
	}
	return text
}

func (c *console) contacts(list []chat.Contact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(list) == 0 {
		fmt.Fprintln(c.out, "no contacts")
		return
	}
	for _, f := range list {
		line := fmt.Sprintf("%-3s %-24s %-10s %s", f.Initials, f.DisplayName, f.Status, f.ID)
		if f.Unread > 0 {
			line += fmt.Sprintf(" (%d unread)", f.Unread)
		}
		fmt.Fprintln(c.out, line)
	}
}
