package chat

import (
	"time"

	"github.com/benbjohnson/clock"
)

// timers schedules named, cancellable deferred actions. Firings are
// re-posted to the event loop; a firing whose entry was cancelled or
// replaced in the meantime is dropped. Loop-owned.
type timers struct {
	clock   clock.Clock
	post    func(func()) bool
	entries map[string]*timerEntry
	gen     uint64
}

type timerEntry struct {
	timer *clock.Timer
	gen   uint64
}

func newTimers(c clock.Clock, post func(func()) bool) *timers {
	return &timers{clock: c, post: post, entries: make(map[string]*timerEntry)}
}

// schedule arms fn to run after d, replacing any pending action of that name.
func (ts *timers) schedule(name string, d time.Duration, fn func()) {
	ts.cancel(name)
	ts.gen++
	gen := ts.gen
	entry := &timerEntry{gen: gen}
	entry.timer = ts.clock.AfterFunc(d, func() {
		ts.post(func() {
			if cur, ok := ts.entries[name]; !ok || cur.gen != gen {
				return
			}
			delete(ts.entries, name)
			fn()
		})
	})
	ts.entries[name] = entry
}

func (ts *timers) cancel(name string) bool {
	entry, ok := ts.entries[name]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(ts.entries, name)
	return true
}

func (ts *timers) pending(name string) bool {
	_, ok := ts.entries[name]
	return ok
}

func (ts *timers) stopAll() {
	for name := range ts.entries {
		ts.cancel(name)
	}
}

func (ts *timers) len() int { return len(ts.entries) }
