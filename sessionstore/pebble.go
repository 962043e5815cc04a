package sessionstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
)

// Pebble persists session state in a PebbleDB directory. Keys are
// prefixed with the session id so several sessions can share one
// directory without seeing each other's state.
type Pebble struct {
	db      *pebble.DB
	session string
}

// OpenPebble opens (creating if needed) the database at dir, scoped to session.
func OpenPebble(dir, session string) (*Pebble, error) {
	if dir == "" {
		return nil, errors.New("sessionstore: data path required")
	}
	if session == "" {
		return nil, errors.New("sessionstore: session id required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data path: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Pebble{db: db, session: session}, nil
}

func (p *Pebble) key(k string) []byte {
	return []byte("session/" + p.session + "/" + k)
}

func (p *Pebble) Get(key string) ([]byte, error) {
	v, closer, err := p.db.Get(p.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = closer.Close() }()
	return append([]byte(nil), v...), nil
}

func (p *Pebble) Set(key string, value []byte) error {
	if err := p.db.Set(p.key(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (p *Pebble) Delete(key string) error {
	if err := p.db.Delete(p.key(key), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (p *Pebble) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
