package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"gosuda.org/portal/portal/core/cryptoops"
	"gosuda.org/portal/sdk"
)

const shutdownWait = 5 * time.Second

// publisher exposes the view on the local port and on every portal relay.
type publisher struct {
	clients   []*sdk.RDClient
	listeners []net.Listener
	local     *http.Server
}

// publish starts every configured listener. On error nothing is left running.
func publish(ctx context.Context, opts options, handler http.Handler) (*publisher, error) {
	p := &publisher{}
	if len(opts.ServerURLs) > 0 {
		cred, err := relayCredential(opts.CredKey)
		if err != nil {
			return nil, err
		}
		for _, u := range opts.ServerURLs {
			if err := p.listenRelay(u, cred, opts.Name); err != nil {
				p.Close()
				return nil, err
			}
		}
	}
	for _, ln := range p.listeners {
		go p.serveRelay(ctx, ln, handler)
	}
	if opts.Port >= 0 {
		p.serveLocal(opts.Port, handler)
	}
	return p, nil
}

// relayCredential decodes a base64 ed25519 private key, or makes a fresh
// identity when none is given. One credential is shared by all relays so
// the lease name resolves to the same id everywhere.
func relayCredential(encoded string) (*cryptoops.Credential, error) {
	if encoded == "" {
		return cryptoops.NewCredential()
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode cred key: %w", err)
	}
	cred, err := cryptoops.NewCredentialFromPrivateKey(ed25519.PrivateKey(key))
	if err != nil {
		return nil, fmt.Errorf("cred key: %w", err)
	}
	return cred, nil
}

// listenRelay skips a relay whose client cannot be built, but a relay that
// refuses the lease is an error.
func (p *publisher) listenRelay(url string, cred *cryptoops.Credential, name string) error {
	client, err := sdk.NewClient(func(c *sdk.RDClientConfig) { c.BootstrapServers = []string{url} })
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("[benchchat] relay client failed")
		return nil
	}
	p.clients = append(p.clients, client)
	ln, err := client.Listen(cred, name, []string{"http/1.1"})
	if err != nil {
		return fmt.Errorf("listen (%s): %w", url, err)
	}
	p.listeners = append(p.listeners, ln)
	log.Info().Str("url", url).Str("id", cred.ID()).Msg("[benchchat] published on relay")
	return nil
}

func (p *publisher) serveRelay(ctx context.Context, ln net.Listener, handler http.Handler) {
	err := http.Serve(ln, handler)
	if err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("[benchchat] relay http error")
	}
}

func (p *publisher) serveLocal(port int, handler http.Handler) {
	p.local = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	log.Info().Msgf("[benchchat] serving locally at http://127.0.0.1:%d", port)
	go func() {
		if err := p.local.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("[benchchat] local http stopped")
		}
	}()
}

// Close stops every listener and client, then drains the local server.
func (p *publisher) Close() {
	for _, ln := range p.listeners {
		_ = ln.Close()
	}
	for _, c := range p.clients {
		_ = c.Close()
	}
	if p.local == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := p.local.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("[benchchat] http server shutdown error")
	}
}
