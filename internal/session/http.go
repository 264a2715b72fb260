package session

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mcpgateway/pkg/middleware"
	"mcpgateway/pkg/problems"
)

// RegisterHTTP mounts the SallyPort session endpoints.
func RegisterHTTP(r chi.Router, svc *Service) {
	r.Route("/api/sallyport", func(sr chi.Router) {
		sr.Post("/session", svc.handleCreate)
		sr.Get("/verify", svc.handleVerify)
		sr.Post("/logout", svc.handleLogout)
	})
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User
		Nested *User `json:"user"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		problems.Write(w, problems.Wrap(problems.InvalidRequest, "Request body is not valid JSON", err))
		return
	}
	user := body.User
	if body.Nested != nil {
		user = *body.Nested
	}
	tenantID := middleware.TenantFrom(r.Context())
	raw, sess, err := s.Create(r.Context(), tenantID, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"success":       true,
		"session_token": raw,
		"session_id":    sess.ID,
		"tenant":        sess.TenantID,
		"user":          sess.User,
		"expires_at":    sess.ExpiresAt,
	}, http.StatusCreated)
}

func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	raw := tokenFromRequest(r)
	if raw == "" {
		writeJSON(w, Result{Reason: ReasonInvalidToken}, http.StatusUnauthorized)
		return
	}
	res, err := s.Verify(r.Context(), raw)
	if err != nil {
		s.fail(w, r, problems.Wrap(problems.ServerError, "Session lookup failed", err))
		return
	}
	if !res.Valid {
		writeJSON(w, res, http.StatusUnauthorized)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := tokenFromRequest(r)
	if raw == "" {
		var body struct {
			Token string `json:"session_token"`
		}
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body)
		raw = body.Token
	}
	if raw == "" {
		problems.Write(w, problems.New(problems.InvalidRequest, "session token is required"))
		return
	}
	if err := s.Revoke(r.Context(), raw); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true}, http.StatusOK)
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	if pe := problems.Write(w, err); pe.Kind.Status() >= http.StatusInternalServerError {
		s.log.Errorw("session request failed", "path", r.URL.Path, "request_id", middleware.RequestIDFrom(r.Context()), "err", err)
	}
}

// tokenFromRequest reads a bearer token, falling back to ?token=.
func tokenFromRequest(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
