package chat

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/gosuda/benchchat/sessionstore"
)

const (
	defaultWindowBudget   = 3
	defaultTypingDebounce = 3 * time.Second
	defaultTypingExpiry   = 4 * time.Second
	defaultRestoreSettle  = 500 * time.Millisecond
	defaultToastTTL       = 5 * time.Second
	defaultPushTimeout    = 10 * time.Second

	DefaultControlTopic      = "presence:lobby"
	DefaultThreadTopicPrefix = "thread:"
	DefaultStorageKey        = "pb_chat_windows"
)

// Config wires a Session to its collaborators. Transport and UserID are
// required; everything else has a default.
type Config struct {
	Transport Transport
	UserID    string

	// Store holds the pending restore between page loads. Nil means an
	// in-memory store, which only survives as long as the process.
	Store sessionstore.Store
	Clock clock.Clock
	// Location is used for message times and day dividers.
	Location *time.Location

	Logger   *zerolog.Logger
	Registry prometheus.Registerer
	Hooks    Hooks

	WindowBudget   int
	TypingDebounce time.Duration
	TypingExpiry   time.Duration
	RestoreSettle  time.Duration
	ToastTTL       time.Duration
	PushTimeout    time.Duration

	ControlTopic      string
	ThreadTopicPrefix string
	StorageKey        string
}

// Hooks are the UI collaborators. All are optional and run on the
// session's event loop, so they must not block.
type Hooks struct {
	Render         func(Snapshot)
	ScrollToBottom func(threadID string)
	Navigate       func(path string)
	Toast          func(Toast)
}

func (c Config) withDefaults() (Config, error) {
	if c.Transport == nil {
		return c, errors.New("chat: transport required")
	}
	if c.UserID == "" {
		return c, errors.New("chat: user id required")
	}
	if c.Store == nil {
		c.Store = sessionstore.NewMemory()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.WindowBudget <= 0 {
		c.WindowBudget = defaultWindowBudget
	}
	if c.TypingDebounce <= 0 {
		c.TypingDebounce = defaultTypingDebounce
	}
	if c.TypingExpiry <= 0 {
		c.TypingExpiry = defaultTypingExpiry
	}
	if c.TypingExpiry <= c.TypingDebounce {
		return c, errors.New("chat: typing expiry must exceed the typing debounce")
	}
	if c.RestoreSettle <= 0 {
		c.RestoreSettle = defaultRestoreSettle
	}
	if c.ToastTTL <= 0 {
		c.ToastTTL = defaultToastTTL
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = defaultPushTimeout
	}
	if c.ControlTopic == "" {
		c.ControlTopic = DefaultControlTopic
	}
	if c.ThreadTopicPrefix == "" {
		c.ThreadTopicPrefix = DefaultThreadTopicPrefix
	}
	if c.StorageKey == "" {
		c.StorageKey = DefaultStorageKey
	}
	return c, nil
}
