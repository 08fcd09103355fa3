package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"charla/chat"
	"charla/session"
)

// StartHTTPServer exposes the chat service as a small JSON API: session
// listing and management plus message sending. Pure adapter; all state and
// logic live in chat.Service.
func StartHTTPServer(port int, svc *chat.Service) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	mux.Handle("GET /api/sessions", limited(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Sessions())
	}))

	mux.Handle("POST /api/sessions", limited(func(w http.ResponseWriter, r *http.Request) {
		sess, err := svc.CreateSession()
		if err != nil {
			// The session exists in memory even when the persist failed.
			log.Printf("[HTTP] Session created but not persisted: %v", err)
		}
		writeJSON(w, http.StatusCreated, chat.SessionSummary{ID: sess.ID, Title: sess.Title})
	}))

	mux.Handle("POST /api/sessions/{id}/select", limited(func(w http.ResponseWriter, r *http.Request) {
		sess, err := svc.SelectSession(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, chat.SessionSummary{ID: sess.ID, Title: sess.Title})
	}))

	mux.Handle("DELETE /api/sessions/{id}", limited(func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteSession(r.PathValue("id")); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	mux.Handle("GET /api/history", limited(func(w http.ResponseWriter, r *http.Request) {
		history, err := svc.History()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}))

	mux.Handle("POST /api/message", limited(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}

		start := time.Now()
		reply, err := svc.SendMessage(r.Context(), body.Prompt)
		if err != nil {
			status := statusForGeneration(err)
			log.Printf("[HTTP] %s %s - %d (%s): %v", r.Method, r.URL.Path, status, time.Since(start), err)
			writeError(w, status, err)
			return
		}
		if reply == "" {
			// Whitespace-only prompts are ignored without touching history.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		log.Printf("[HTTP] %s %s - 200 (%s)", r.Method, r.URL.Path, time.Since(start))
		writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
	}))

	log.Printf("[HTTP] Server listening on :%d", port)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

// limited wraps a handler with the per-client rate limiter.
func limited(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rateLimitAllow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many requests"))
			return
		}
		h(w, r)
	})
}

// statusForGeneration maps orchestrator error kinds to HTTP statuses.
func statusForGeneration(err error) int {
	switch chat.KindOf(err) {
	case chat.KindRateLimit:
		return http.StatusTooManyRequests
	case chat.KindAuth, chat.KindParse, chat.KindNetwork, chat.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
