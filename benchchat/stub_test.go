package main

import (
	"context"
	"strings"
	"sync"

	"github.com/gosuda/benchchat/chat"
)

type stubController struct {
	mu         sync.Mutex
	snap       chat.Snapshot
	friends    []chat.Contact
	dispatched []chat.Action
	err        error
}

func newStub() *stubController {
	return &stubController{
		snap: chat.Snapshot{UserID: "me", FriendsLoaded: true},
		friends: []chat.Contact{
			{ID: "a", DisplayName: "Amy", Initials: "A", Status: "Active now", Online: true},
			{ID: "b", DisplayName: "Amelia", Initials: "A", Status: "Offline", Unread: 2},
			{ID: "c", DisplayName: "Cy", Initials: "C", Status: "Offline"},
		},
	}
}

func (s *stubController) Snapshot() chat.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *stubController) Contacts(_ context.Context, query string) ([]chat.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := []chat.Contact{}
	for _, f := range s.friends {
		if strings.Contains(strings.ToLower(f.DisplayName), strings.ToLower(query)) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *stubController) Dispatch(a chat.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.dispatched = append(s.dispatched, a)
	return nil
}

func (s *stubController) actions() []chat.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Action(nil), s.dispatched...)
}
