package chat

import "github.com/gosuda/benchchat/phoenix"

// presenceTracker is the online set. A key in the set is online; absence
// is offline. Loop-owned, no timers, no I/O.
type presenceTracker struct {
	state phoenix.PresenceState
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{state: phoenix.PresenceState{}}
}

// applyFullSync replaces the set; diffs that follow apply on top of it.
func (p *presenceTracker) applyFullSync(state phoenix.PresenceState) {
	p.state = phoenix.SyncState(p.state, state)
}

func (p *presenceTracker) applyDiff(diff phoenix.PresenceDiff) {
	p.state = phoenix.SyncDiff(p.state, diff)
}

func (p *presenceTracker) isOnline(userID string) bool {
	_, ok := p.state[userID]
	return ok
}

func (p *presenceTracker) onlineCount(friends []Friend) int {
	n := 0
	for _, f := range friends {
		if p.isOnline(f.ID) {
			n++
		}
	}
	return n
}
