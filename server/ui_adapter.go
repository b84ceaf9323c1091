package server

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jrsteele09/wastekonnect-admin/login"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json"
)

// Notice is a message the page shows as a toast.
type Notice struct {
	Kind    login.NoticeKind `json:"kind"`
	Message string           `json:"message"`
}

// httpUI records what the login flow asks the screen to do while one request
// is handled. The handler renders it into the response afterwards.
type httpUI struct {
	mu       sync.Mutex
	notices  []Notice
	navigate string
	redirect string
}

var _ login.UI = (*httpUI)(nil)

func (u *httpUI) Notify(kind login.NoticeKind, message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notices = append(u.notices, Notice{Kind: kind, Message: message})
}

func (u *httpUI) NavigateTo(route string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.navigate = route
}

func (u *httpUI) RedirectTo(route string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.redirect = route
}

func (u *httpUI) Notices() []Notice {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Notice{}, u.notices...)
}

// Target is the route the flow moved to, if any.
func (u *httpUI) Target() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.navigate != "" {
		return u.navigate
	}
	return u.redirect
}

// lastNotice is the message carried across a full page redirect.
func (u *httpUI) lastNotice() (Notice, bool) {
	notices := u.Notices()
	if len(notices) == 0 {
		return Notice{}, false
	}
	return notices[len(notices)-1], true
}

// sendTo moves the browser to route: HX-Redirect for htmx, a JSON body for API
// clients and a 303 otherwise.
func sendTo(w http.ResponseWriter, r *http.Request, route string) {
	switch {
	case r.Header.Get("HX-Request") == "true":
		w.Header().Set("HX-Redirect", route)
		w.WriteHeader(http.StatusNoContent)
	case acceptsJSON(r):
		writeJSON(w, http.StatusOK, map[string]string{"redirect": route})
	default:
		http.Redirect(w, r, route, http.StatusSeeOther)
	}
}

// redirectWithNotice redirects to route carrying the notice in the query string.
func redirectWithNotice(w http.ResponseWriter, r *http.Request, route string, n Notice) {
	u, err := url.Parse(route)
	if err != nil {
		u = &url.URL{Path: RouteLanding}
	}
	q := u.Query()
	key := "notice"
	if n.Kind == login.NoticeError {
		key = "error"
	}
	q.Set(key, n.Message)
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}

func acceptsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == contentTypeJSON {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Err(err).Msg("Failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
