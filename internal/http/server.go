// Package http serves the local dashboard: a JSON API over the agent's
// state plus an embedded page that renders it. It binds to loopback;
// the remote backend stays the authority on everything synced.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"blinkd/internal/api"
	"blinkd/internal/buffer"
	"blinkd/internal/events"
	"blinkd/internal/service/health"
	"blinkd/internal/service/session"
	syncsvc "blinkd/internal/service/sync"
	"blinkd/internal/service/tracker"
)

type Server struct {
	auth    *session.Auth
	tracker *tracker.Controller
	engine  *syncsvc.Engine
	buf     *buffer.Buffer
	client  *api.Client
	log     *events.Log
	advisor *health.Advisor
}

func NewServer(auth *session.Auth, trk *tracker.Controller, engine *syncsvc.Engine, buf *buffer.Buffer, client *api.Client, evlog *events.Log, advisor *health.Advisor) *Server {
	return &Server{
		auth:    auth,
		tracker: trk,
		engine:  engine,
		buf:     buf,
		client:  client,
		log:     evlog,
		advisor: advisor,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleIndex)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/logout", s.handleLogout)
		r.Post("/sync", s.handleSync)
		r.Post("/tracker/start", s.handleTrackerStart)
		r.Post("/tracker/stop", s.handleTrackerStop)
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/blinks", s.handleBlinks)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.auth.Login(r.Context(), req.Email, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logged_in": true,
		"email":     s.auth.Identity(),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email           string `json:"email"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.auth.Register(r.Context(), req.Email, req.Password, req.ConfirmPassword); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrInvalidCredential) {
			status = http.StatusUnauthorized
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logged_in": true,
		"email":     s.auth.Identity(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), s.tracker); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"logged_in": false})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	// Sync runs in the background; the status line carries the outcome.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = s.engine.SyncAll(ctx)
	}()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"pending": s.buf.Len(),
	})
}

func (s *Server) handleTrackerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.Start(r.Context()); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, tracker.ErrNotLoggedIn):
			status = http.StatusUnauthorized
		case errors.Is(err, tracker.ErrAlreadyRunning):
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) handleTrackerStop(w http.ResponseWriter, r *http.Request) {
	s.tracker.Stop(r.Context())
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	email := s.auth.Identity()
	snap := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logged_in": s.auth.Token() != "",
		"email":     email,
		"pending":   s.buf.Len(),
		"status":    s.log.Status(),
		"tracker":   snap,
		"wellness":  s.advisor.Evaluate(snap, time.Now()),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": snap.History,
		"count":   len(snap.History),
	})
}

// handleBlinks proxies the server-side history so the dashboard chart
// does not need the bearer token in the browser.
func (s *Server) handleBlinks(w http.ResponseWriter, r *http.Request) {
	token := s.auth.Token()
	if token == "" {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	blinks, err := s.client.ListBlinks(r.Context(), token)
	if err != nil {
		var statusErr *api.StatusError
		if errors.As(err, &statusErr) {
			writeError(w, statusErr.Code, statusErr.Detail)
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"blinks": blinks,
		"count":  len(blinks),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	evs := s.log.List(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": evs,
		"count":  len(evs),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
