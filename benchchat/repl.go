package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/gosuda/benchchat/chat"
)

var errQuit = errors.New("quit")

const helpText = `commands:
  open <friend>                 open a chat by friend id or name
  close|min|restore <thread>    manage a window
  say <thread> <text...>        send a message
  type <thread>                 send a typing signal
  react <thread> <msg> <emoji>  react to a message
  filter [text...]              filter the contact list
  contacts                      list contacts
  post <id>                     open a shared post
  quit
`

type command struct {
	action   chat.Action
	contacts bool
	help     bool
	quit     bool
}

// next splits off the first word of s.
func next(s string) (word, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeftFunc(s[i:], unicode.IsSpace)
}

func parseCommand(line string) (command, error) {
	verb, rest := next(line)
	args := strings.Fields(rest)
	want := func(n int, usage string) error {
		if len(args) < n {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}
	switch strings.ToLower(verb) {
	case "":
		return command{}, nil
	case "open":
		if err := want(1, "open <friend>"); err != nil {
			return command{}, err
		}
		return command{action: chat.OpenChat{FriendID: strings.TrimSpace(rest)}}, nil
	case "close":
		if err := want(1, "close <thread>"); err != nil {
			return command{}, err
		}
		return command{action: chat.CloseWindow{ThreadID: args[0]}}, nil
	case "min":
		if err := want(1, "min <thread>"); err != nil {
			return command{}, err
		}
		return command{action: chat.MinimizeWindow{ThreadID: args[0]}}, nil
	case "restore":
		if err := want(1, "restore <thread>"); err != nil {
			return command{}, err
		}
		return command{action: chat.RestoreWindow{ThreadID: args[0]}}, nil
	case "say":
		thread, body := next(rest)
		if thread == "" || strings.TrimSpace(body) == "" {
			return command{}, errors.New("usage: say <thread> <text...>")
		}
		return command{action: chat.SendMessage{ThreadID: thread, Body: body}}, nil
	case "type":
		if err := want(1, "type <thread>"); err != nil {
			return command{}, err
		}
		return command{action: chat.Keystroke{ThreadID: args[0]}}, nil
	case "react":
		if err := want(3, "react <thread> <msg> <emoji>"); err != nil {
			return command{}, err
		}
		return command{action: chat.React{ThreadID: args[0], MessageID: args[1], Emoji: args[2]}}, nil
	case "filter":
		return command{action: chat.SetContactsFilter{Query: strings.TrimSpace(rest)}}, nil
	case "contacts":
		return command{contacts: true}, nil
	case "post":
		if err := want(1, "post <id>"); err != nil {
			return command{}, err
		}
		return command{action: chat.ViewSharedPost{PostID: args[0]}}, nil
	case "help", "?":
		return command{help: true}, nil
	case "quit", "exit":
		return command{quit: true}, nil
	}
	return command{}, fmt.Errorf("unknown command %q (try help)", verb)
}

// runREPL reads commands from in until EOF, quit or ctx ends. It returns
// errQuit when the user asked to quit.
func runREPL(ctx context.Context, in io.Reader, con *console, c controller) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := execute(ctx, line, con, c); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				con.printf("error: %v\n", err)
			}
		}
	}
}

func execute(ctx context.Context, line string, con *console, c controller) error {
	cmd, err := parseCommand(line)
	if err != nil {
		return err
	}
	switch {
	case cmd.quit:
		return errQuit
	case cmd.help:
		con.printf("%s", helpText)
		return nil
	case cmd.contacts:
		list, err := c.Contacts(ctx, c.Snapshot().ContactsFilter)
		if err != nil {
			return err
		}
		con.contacts(list)
		return nil
	case cmd.action == nil:
		return nil
	}
	if open, ok := cmd.action.(chat.OpenChat); ok {
		id, err := resolveFriend(ctx, c, open.FriendID)
		if err != nil {
			return err
		}
		cmd.action = chat.OpenChat{FriendID: id}
	}
	return c.Dispatch(cmd.action)
}

// resolveFriend accepts a friend id or an unambiguous display name.
func resolveFriend(ctx context.Context, c controller, ref string) (string, error) {
	all, err := c.Contacts(ctx, "")
	if err != nil {
		return "", err
	}
	for _, f := range all {
		if f.ID == ref {
			return f.ID, nil
		}
	}
	matches, err := c.Contacts(ctx, ref)
	if err != nil {
		return "", err
	}
	for _, f := range matches {
		if strings.EqualFold(f.DisplayName, ref) {
			return f.ID, nil
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no friend matches %q", ref)
	case 1:
		return matches[0].ID, nil
	}
	return "", fmt.Errorf("%q matches %d friends", ref, len(matches))
}
