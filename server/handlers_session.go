package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/jrsteele09/wastekonnect-admin/gate"
	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/jrsteele09/wastekonnect-admin/session"
	"github.com/rs/zerolog/log"
)

const (
	GuestUserName     = "Guest User"
	AvatarPlaceholder = "/static/img/avatar-placeholder.svg"
)

// SessionResponse is the session snapshot served to the page.
type SessionResponse struct {
	Status    session.Status     `json:"status"`
	Decision  gate.Decision      `json:"decision"`
	Redirect  string             `json:"redirect,omitempty"`
	Identity  *identity.Identity `json:"identity,omitempty"`
	Version   uint64             `json:"version"`
	Degraded  bool               `json:"degraded,omitempty"`
	LastError string             `json:"last_error,omitempty"`
}

// Profile is the sidebar's user block.
type Profile struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Email       string `json:"email,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

func profileFor(id *identity.Identity) Profile {
	p := Profile{DisplayName: GuestUserName, AvatarURL: AvatarPlaceholder}
	if id == nil {
		return p
	}
	if id.DisplayName != "" {
		p.DisplayName = id.DisplayName
	}
	if id.AvatarURL != "" {
		p.AvatarURL = id.AvatarURL
	}
	p.Email = id.Email
	p.Provider = id.Provider
	return p
}

func (s *Server) sessionResponse(d gate.Decision, snap session.Session) SessionResponse {
	resp := SessionResponse{
		Status:    snap.Status,
		Decision:  d,
		Version:   snap.Version,
		Degraded:  snap.Degraded,
		LastError: snap.LastError,
	}
	switch d {
	case gate.Allow:
		resp.Identity = snap.Identity
	case gate.Redirect:
		resp.Redirect = s.gate.LoginRoute()
	}
	return resp
}

// SessionHandler returns the current session (GET /api/session)
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.store.Current()
		writeJSON(w, http.StatusOK, s.sessionResponse(s.gate.DecideRequest(r, snap), snap))
	}
}

// SessionStreamHandler streams gate decisions as server-sent events
// (GET /api/session/stream). A sign-out elsewhere reaches the page as a
// redirect decision. Bursts of changes are coalesced to the latest one.
func (s *Server) SessionStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSONError(w, "unsupported", "Streaming not supported", http.StatusInternalServerError)
			return
		}

		var mu sync.Mutex
		var latest SessionResponse
		wake := make(chan struct{}, 1)
		cancel := s.gate.Watch(func(_ gate.Decision, snap session.Session) {
			resp := s.sessionResponse(s.gate.DecideRequest(r, snap), snap)
			mu.Lock()
			latest = resp
			mu.Unlock()
			select {
			case wake <- struct{}{}:
			default:
			}
		})
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-wake:
				mu.Lock()
				resp := latest
				mu.Unlock()
				payload, err := json.Marshal(resp)
				if err != nil {
					log.Err(err).Msg("Failed to encode session event")
					return
				}
				if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// ProfileHandler returns the sidebar profile (GET /api/profile)
func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := gate.IdentityFromContext(r.Context())
		writeJSON(w, http.StatusOK, profileFor(id))
	}
}

// LandingHandler renders the console home page (GET /)
func (s *Server) LandingHandler() http.HandlerFunc {
	tmpl, err := ParseTemplate("index.html")
	if err != nil {
		panic("Failed to parse index template: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := gate.IdentityFromContext(r.Context())
		data := map[string]any{
			"AppName": s.config.GetAppName(),
			"Profile": profileFor(id),
			"Notice":  r.URL.Query().Get("notice"),
		}

		w.Header().Set("Content-Type", contentTypeHTML)
		if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
			log.Err(err).Msg("Failed to render index template")
		}
	}
}

// HealthHandler reports liveness and the session status (GET /healthz)
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.store.Current()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"session":  snap.Status,
			"degraded": snap.Degraded,
		})
	}
}
