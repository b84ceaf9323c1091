package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/jrsteele09/wastekonnect-admin/login"
)

// ProviderBeginHandler starts a third-party sign-in (GET /auth/{provider})
func (s *Server) ProviderBeginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := s.descriptor(chi.URLParam(r, "provider"))
		flow := s.browsers.flowFor(s.browsers.ensure(w, r))
		ui := &httpUI{}

		authURL, outcome := flow.BeginProviderSignIn(ui, d, r.URL.Query().Get("return"))
		if authURL == "" {
			notice, ok := ui.lastNotice()
			if !ok && outcome.Result == login.ResultBusy {
				http.Redirect(w, r, RouteLogin, http.StatusSeeOther)
				return
			}
			if !ok {
				notice = Notice{Kind: login.NoticeError, Message: outcome.Message}
			}
			redirectWithNotice(w, r, RouteLogin, notice)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// ProviderCallbackHandler completes a third-party sign-in (GET /auth/{provider}/callback).
// Only the browser that began the sign-in can complete it.
func (s *Server) ProviderCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.browsers.current(r)
		if !ok {
			redirectWithNotice(w, r, RouteLogin, Notice{Kind: login.NoticeError, Message: login.MessageHandshakeInvalid})
			return
		}
		if err := r.ParseForm(); err != nil {
			redirectWithNotice(w, r, RouteLogin, Notice{Kind: login.NoticeError, Message: login.MessageHandshakeInvalid})
			return
		}

		ui := &httpUI{}
		outcome := s.browsers.flowFor(sess).CompleteProviderSignIn(r.Context(), ui, login.Callback{
			State:            r.Form.Get("state"),
			Code:             r.Form.Get("code"),
			Error:            r.Form.Get("error"),
			ErrorDescription: r.Form.Get("error_description"),
		})

		route := RouteLogin
		if outcome.Result == login.ResultSuccess {
			route = ui.Target()
			s.browsers.bind(w, r, sess, outcome.Identity)
		}
		notice, ok := ui.lastNotice()
		if !ok {
			http.Redirect(w, r, route, http.StatusSeeOther)
			return
		}
		redirectWithNotice(w, r, route, notice)
	}
}

// descriptor resolves a provider name from the URL. Unknown names are passed
// through so the flow reports them.
func (s *Server) descriptor(name string) identity.Descriptor {
	for _, d := range s.provider.Descriptors() {
		if d.Name == name {
			return d
		}
	}
	return identity.Descriptor{Name: name, DisplayName: name}
}
