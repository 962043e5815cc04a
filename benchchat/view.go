package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/benchchat/chat"
)

const maxActionBytes = 64 << 10

// controller is the part of *chat.Session the terminal and the HTTP view
// drive.
type controller interface {
	Snapshot() chat.Snapshot
	Contacts(ctx context.Context, query string) ([]chat.Contact, error)
	Dispatch(a chat.Action) error
}

var _ controller = (*chat.Session)(nil)

// NewHandler serves the session state and accepts actions as JSON.
func NewHandler(name string, c controller, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": name})
	})
	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.Snapshot())
	})
	r.Get("/contacts", func(w http.ResponseWriter, r *http.Request) {
		list, err := c.Contacts(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	})
	r.Post("/actions", func(w http.ResponseWriter, r *http.Request) { handleAction(w, r, c) })
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func handleAction(w http.ResponseWriter, r *http.Request, c controller) {
	var env chat.Envelope
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActionBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	action, err := env.Action()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := c.Dispatch(action); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Debug().Err(err).Msg("[view] write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
