package token

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mcpgateway/pkg/middleware"
	"mcpgateway/pkg/problems"
)

// RegisterHTTP mounts the token endpoint.
func RegisterHTTP(r chi.Router, svc *Service) {
	r.Post("/api/gcp/token", svc.handleToken)
}

func (s *Service) handleToken(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFrom(r.Context())
	req, err := decodeRequest(w, r)
	if err != nil {
		s.fail(w, r, tenantID, err)
		return
	}
	resp, err := s.Issue(r.Context(), tenantID, req)
	if err != nil {
		s.fail(w, r, tenantID, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, resp, http.StatusOK)
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, tenantID string, err error) {
	pe := problems.Write(w, err)
	if pe.Kind.Status() >= http.StatusInternalServerError {
		s.log.Errorw("token request failed", "tenant", tenantID, "request_id", middleware.RequestIDFrom(r.Context()), "err", err)
	}
}

// decodeRequest accepts application/json and form-encoded bodies.
func decodeRequest(w http.ResponseWriter, r *http.Request) (Request, error) {
	var req Request
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			return req, problems.Wrap(problems.InvalidRequest, "Request body is not valid JSON", err)
		}
		return req, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := r.ParseForm(); err != nil {
		return req, problems.Wrap(problems.InvalidRequest, "Request body could not be parsed", err)
	}
	req.GrantType = r.PostForm.Get("grant_type")
	req.ClientID = r.PostForm.Get("client_id")
	req.ClientSecret = r.PostForm.Get("client_secret")
	req.Scope = r.PostForm.Get("scope")
	req.Code = r.PostForm.Get("code")
	req.RedirectURI = r.PostForm.Get("redirect_uri")
	if req.ClientID == "" {
		if id, secret, ok := r.BasicAuth(); ok {
			req.ClientID, req.ClientSecret = id, secret
		}
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
