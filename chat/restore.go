package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gosuda/benchchat/sessionstore"
)

// restoreEntry is one persisted window. Field names are the stored layout.
type restoreEntry struct {
	ThreadID   string `json:"-"`
	FriendID   string `json:"friendId"`
	FriendName string `json:"friendName"`
	Minimized  bool   `json:"minimized"`
}

// restoreSnapshot is persisted as a JSON object keyed by thread id. Key
// order is window order, so a replay opens windows in the order they were
// opened before.
type restoreSnapshot []restoreEntry

func (rs restoreSnapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range rs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.ThreadID)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (rs *restoreSnapshot) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("restore snapshot: want object")
	}
	out := restoreSnapshot{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		threadID, _ := tok.(string)
		var e restoreEntry
		if err := dec.Decode(&e); err != nil {
			return fmt.Errorf("restore snapshot %s: %w", threadID, err)
		}
		if threadID == "" || e.FriendID == "" {
			continue
		}
		e.ThreadID = threadID
		out = append(out, e)
	}
	*rs = out
	return nil
}

// restoreManager carries open windows across reloads of one session.
// Storage failures are logged at debug and otherwise ignored.
type restoreManager struct {
	store  sessionstore.Store
	key    string
	logger zerolog.Logger

	pending   restoreSnapshot
	attempted bool
	// minimize lists restored threads whose persisted minimized flag is
	// still to be applied, once the settle delay has passed.
	minimize map[string]bool
	settled  bool
}

func newRestoreManager(store sessionstore.Store, key string, logger zerolog.Logger) *restoreManager {
	return &restoreManager{store: store, key: key, logger: logger, minimize: make(map[string]bool)}
}

// load reads the persisted snapshot into the pending buffer. Nothing is
// joined here.
func (r *restoreManager) load() {
	raw, err := r.store.Get(r.key)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return
	}
	if err != nil {
		r.logger.Debug().Err(err).Msg("read restore state")
		return
	}
	var snap restoreSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		r.logger.Debug().Err(err).Msg("decode restore state")
		return
	}
	if len(snap) > 0 {
		r.pending = snap
	}
}

// save persists the current windows in order.
func (r *restoreManager) save(ws *windowSet) {
	snap := make(restoreSnapshot, 0, ws.len())
	ws.each(func(w *window) {
		snap = append(snap, restoreEntry{
			ThreadID:   w.threadID,
			FriendID:   w.friendID,
			FriendName: w.friendName,
			Minimized:  w.minimized,
		})
	})
	raw, err := json.Marshal(snap)
	if err != nil {
		r.logger.Debug().Err(err).Msg("encode restore state")
		return
	}
	if err := r.store.Set(r.key, raw); err != nil {
		r.logger.Debug().Err(err).Msg("write restore state")
	}
}

// take hands out the pending buffer once per session. Later calls, and
// calls with nothing pending, return false.
func (r *restoreManager) take() (restoreSnapshot, bool) {
	if r.attempted || len(r.pending) == 0 {
		return nil, false
	}
	r.attempted = true
	snap := r.pending
	r.pending = nil
	for _, e := range snap {
		if e.Minimized {
			r.minimize[e.ThreadID] = true
		}
	}
	return snap, true
}

// flagOnJoin reports whether a thread that just joined must start
// minimized because its settle delay already passed.
func (r *restoreManager) flagOnJoin(threadID string) bool {
	if !r.settled || !r.minimize[threadID] {
		return false
	}
	delete(r.minimize, threadID)
	return true
}

// settle marks the delay as passed and returns the flags to apply now.
func (r *restoreManager) settle() map[string]bool {
	r.settled = true
	return r.minimize
}

// forget drops a pending flag for a thread that closed or failed to join.
func (r *restoreManager) forget(threadID string) {
	delete(r.minimize, threadID)
}
