package server

import (
	"errors"
	"net/http"

	"github.com/corechat/ig-relay/internal/graph"
)

// handleLogin redirects the browser to the provider's OAuth dialog.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	url, err := s.graphAPI.LoginURL()
	if err != nil {
		s.respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// handleCallback finishes an authorization: the code is resolved into a
// credential bundle and stored. A failed resolution leaves any
// previously stored bundle untouched.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code := r.URL.Query().Get("code")
	if code == "" {
		s.respondDetail(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	creds, err := s.graphAPI.ExchangeCode(ctx, code)
	if err != nil {
		var exchangeErr *graph.ExchangeError
		if errors.As(err, &exchangeErr) {
			s.logger.Warn("authorization failed", "reason", exchangeErr.Reason)
			s.respondDetail(w, http.StatusBadRequest, exchangeErr.Reason)
			return
		}
		s.logger.Error("authorization failed", "error", err)
		s.respondDetail(w, http.StatusInternalServerError, "authorization failed")
		return
	}

	if err := s.store.Save(ctx, creds); err != nil {
		s.logger.Error("credential save failed", "error", err)
		s.respondDetail(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}

	s.logger.Info("authorization complete", "page_id", creds.PageID, "ig_user_id", creds.IGUserID)
	s.respondJSON(w, http.StatusOK, callbackResponse{Detail: "ok", Scopes: creds.Scopes})
}

// handleMe describes the stored bundle without exposing its secrets.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.loadCredentials(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, meResponse{
		PageID:   creds.PageID,
		IGUserID: creds.IGUserID,
		Scopes:   creds.Scopes,
	})
}

// handleProbe re-enumerates pages with the retained user token, for
// diagnosing why a resolution picked (or missed) a page.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.loadCredentials(w, r)
	if !ok {
		return
	}
	if creds.UserAccessToken == "" {
		s.respondDetail(w, http.StatusUnauthorized, "no user token retained")
		return
	}

	pages, err := s.graphAPI.Probe(r.Context(), creds.UserAccessToken)
	if err != nil {
		s.respondDetail(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

// loadCredentials fetches the stored bundle, answering 401 when no
// usable bundle exists.
func (s *Server) loadCredentials(w http.ResponseWriter, r *http.Request) (*graph.Credentials, bool) {
	creds, err := s.store.Load(r.Context())
	if err != nil {
		s.logger.Error("credential load failed", "error", err)
		s.respondDetail(w, http.StatusInternalServerError, "failed to load credentials")
		return nil, false
	}
	if !creds.Usable() {
		s.respondDetail(w, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}
	return creds, true
}
