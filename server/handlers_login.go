package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/jrsteele09/wastekonnect-admin/internal/utils"
	"github.com/jrsteele09/wastekonnect-admin/login"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 16

// LoginPageData contains data for rendering the login page
type LoginPageData struct {
	AppName   string
	Email     string // Preserve email on error
	Error     string
	Notice    string
	Providers []identity.Descriptor
}

// LoginFormResponse is the state of the login screen.
type LoginFormResponse struct {
	Form        login.Form                 `json:"form"`
	FieldErrors map[string]string          `json:"field_errors,omitempty"`
	States      map[login.Path]login.State `json:"states"`
	Providers   []identity.Descriptor      `json:"providers"`
}

// LoginResponse is the answer to a credential submission.
type LoginResponse struct {
	Outcome     login.Outcome     `json:"outcome"`
	Form        login.Form        `json:"form"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	Notices     []Notice          `json:"notices"`
}

type credentialsRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

// LoginPageHandler displays the login page (GET /login)
func (s *Server) LoginPageHandler() http.HandlerFunc {
	loginTmpl, err := ParseTemplate("login.html")
	if err != nil {
		panic("Failed to parse login template: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		flow := s.browsers.flowFor(s.browsers.ensure(w, r))
		data := LoginPageData{
			AppName:   s.config.GetAppName(),
			Email:     flow.Form().Email,
			Error:     r.URL.Query().Get("error"),
			Notice:    r.URL.Query().Get("notice"),
			Providers: s.provider.Descriptors(),
		}

		w.Header().Set("Content-Type", contentTypeHTML)
		if err := loginTmpl.ExecuteTemplate(w, "layout", data); err != nil {
			log.Err(err).Msg("Failed to render login template")
			http.Error(w, "Failed to render login page", http.StatusInternalServerError)
		}
	}
}

// LoginFormHandler returns the form and per-path state (GET /api/auth/login/form)
func (s *Server) LoginFormHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow := s.browsers.flowFor(s.browsers.ensure(w, r))
		writeJSON(w, http.StatusOK, s.loginFormResponse(flow))
	}
}

// LoginFormPatchHandler edits form fields (PATCH /api/auth/login/form)
func (s *Server) LoginFormPatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeCredentials(r)
		if err != nil {
			writeJSONError(w, "invalid_request", "Invalid form data", http.StatusBadRequest)
			return
		}
		flow := s.browsers.flowFor(s.browsers.ensure(w, r))
		applyCredentials(flow, req)
		writeJSON(w, http.StatusOK, s.loginFormResponse(flow))
	}
}

// LoginSubmissionHandler processes the credential submission (POST /api/auth/login)
func (s *Server) LoginSubmissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeCredentials(r)
		if err != nil {
			writeJSONError(w, "invalid_request", "Invalid form data", http.StatusBadRequest)
			return
		}
		sess := s.browsers.ensure(w, r)
		flow := s.browsers.flowFor(sess)
		applyCredentials(flow, req)

		ui := &httpUI{}
		outcome := flow.SubmitCredentials(r.Context(), ui)
		form := flow.Form()
		resp := LoginResponse{
			Outcome:     outcome,
			Form:        form,
			FieldErrors: fieldErrors(form),
			Notices:     ui.Notices(),
		}

		var status int
		switch outcome.Result {
		case login.ResultInvalid:
			status = http.StatusUnprocessableEntity
		case login.ResultBusy:
			status = http.StatusConflict
		case login.ResultFailed:
			status = http.StatusUnauthorized
		default:
			status = http.StatusOK
			s.browsers.bind(w, r, sess, outcome.Identity)
			if target := ui.Target(); target != "" && r.Header.Get("HX-Request") == "true" {
				w.Header().Set("HX-Redirect", target)
			}
		}
		writeJSON(w, status, resp)
	}
}

// LogoutHandler ends the session (POST /api/auth/logout). A browser that is
// not signed in only loses its own cookie.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sess, ok := s.browsers.current(r); ok && s.browsers.Bound(r, s.store.Current().Identity) {
			ui := &httpUI{}
			if err := s.browsers.flowFor(sess).SignOut(r.Context(), ui); err != nil {
				log.Err(err).Msg("Sign-out failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"notices": ui.Notices()})
				return
			}
		}
		s.browsers.end(w, r)
		sendTo(w, r, RouteLogin)
	}
}

func (s *Server) loginFormResponse(flow *login.Flow) LoginFormResponse {
	form := flow.Form()
	return LoginFormResponse{
		Form:        form,
		FieldErrors: fieldErrors(form),
		States: map[login.Path]login.State{
			login.PathCredentials: flow.State(login.PathCredentials),
			login.PathProvider:    flow.State(login.PathProvider),
		},
		Providers: s.provider.Descriptors(),
	}
}

func applyCredentials(flow *login.Flow, req credentialsRequest) {
	if req.Email != nil {
		flow.SetEmail(*req.Email)
	}
	if req.Password != nil {
		flow.SetPassword(*req.Password)
	}
}

// decodeCredentials reads a JSON body or a form post. Absent fields stay nil.
func decodeCredentials(r *http.Request) (credentialsRequest, error) {
	var req credentialsRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == contentTypeJSON {
		err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
		if errors.Is(err, io.EOF) {
			return req, nil
		}
		return req, err
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	if _, ok := r.PostForm["email"]; ok {
		req.Email = utils.Ptr(r.PostForm.Get("email"))
	}
	if _, ok := r.PostForm["password"]; ok {
		req.Password = utils.Ptr(r.PostForm.Get("password"))
	}
	return req, nil
}

func fieldErrors(form login.Form) map[string]string {
	errs := map[string]string{}
	if form.EmailInvalid {
		errs["email"] = login.MessageEmailRequired
	}
	if form.PasswordInvalid {
		errs["password"] = login.MessagePasswordRequired
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
