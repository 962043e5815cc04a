package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/benchchat/chat"
	"github.com/gosuda/benchchat/phoenix"
	"github.com/gosuda/benchchat/sessionstore"
)

const reconnectEvery = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:   "benchchat",
	Short: "Terminal chat client for a phoenix chat server",
	RunE:  runChat,
}

func init() {
	registerFlags(rootCmd.PersistentFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute benchchat command")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd.Flags())
	if err != nil {
		return err
	}
	// Cancellation context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = sessionstore.NewSessionID()
		log.Info().Str("session_id", sessionID).Msg("[benchchat] new session; pass --session-id to resume it")
	}
	store := openStore(opts.DataPath, sessionID)
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("[benchchat] store close error")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	con := newConsole(out)
	sock := phoenix.NewSocket(phoenix.Config{
		URL:    opts.SocketURL,
		Params: map[string]string{"token": opts.Token},
	})
	sess, err := chat.New(chat.Config{
		Transport: chat.NewSocketTransport(sock),
		UserID:    opts.UserID,
		Store:     store,
		Registry:  registry,
		Hooks:     con.hooks(),
	})
	if err != nil {
		return fmt.Errorf("new chat session: %w", err)
	}
	defer sess.Destroy()

	if err := sess.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("[benchchat] connect failed; retrying in the background")
	}
	go keepConnected(ctx, clock.New(), reconnectEvery, sock.IsConnected, sess.Connect)

	handler := NewHandler(opts.Name, sess, registry)
	pub, err := publish(ctx, opts, handler)
	if err != nil {
		return err
	}
	defer pub.Close()

	con.printf("%s", helpText)
	if err := runREPL(ctx, in, con, sess); errors.Is(err, errQuit) {
		log.Info().Msg("[benchchat] shutdown complete")
		return nil
	} else if err != nil {
		log.Warn().Err(err).Msg("[benchchat] read input")
	}
	// Input ended without quit; keep serving until a signal arrives.
	<-ctx.Done()
	log.Info().Msg("[benchchat] shutdown complete")
	return nil
}

// openStore prefers pebble at dir and falls back to memory.
func openStore(dir, sessionID string) sessionstore.Store {
	if dir == "" {
		return sessionstore.NewMemory()
	}
	s, err := sessionstore.OpenPebble(dir, sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("[benchchat] open store failed; running in memory only")
		return sessionstore.NewMemory()
	}
	return s
}

// keepConnected calls connect every interval while the socket is down, giving
// each attempt at most one interval. Each call also joins the control channel
// and any broken thread again.
func keepConnected(ctx context.Context, c clock.Clock, every time.Duration, connected func() bool, connect func(context.Context) error) {
	t := c.Ticker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if connected() {
				continue
			}
			attempt, cancel := context.WithTimeout(ctx, every)
			err := connect(attempt)
			cancel()
			if err != nil {
				if errors.Is(err, chat.ErrClosed) {
					return
				}
				log.Debug().Err(err).Msg("[benchchat] reconnect failed")
				continue
			}
			log.Info().Msg("[benchchat] reconnected")
		}
	}
}
