package orchestrator

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mcpgateway/pkg/middleware"
	"mcpgateway/pkg/problems"
)

// RegisterHTTP mounts the deployment endpoints. Deploy and polling require a
// bearer access token; the status callback uses the provisioner's shared token.
func RegisterHTTP(r chi.Router, svc *Service, v middleware.Verifier, callbackToken string, scopes []string) {
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.BearerAuth(v))
		pr.Use(middleware.RequireAnyScope(scopes...))
		pr.Post("/api/deploy-service", svc.handleDeploy)
		pr.Get("/api/deployments/{id}", svc.handleGet)
	})
	r.Post("/api/deployments/{id}/status", callbackHandler(svc, callbackToken))
}

func (s *Service) handleDeploy(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFrom(r.Context())
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, r, problems.Wrap(problems.InvalidRequest, "Request body is not valid JSON", err))
		return
	}
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idemKey) > 255 {
		s.fail(w, r, problems.New(problems.InvalidRequest, "Idempotency-Key must be at most 255 characters"))
		return
	}
	res, err := s.Deploy(r.Context(), tenantID, middleware.ClaimsFrom(r.Context()), idemKey, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	d := res.Deployment
	w.Header().Set("Location", "/api/deployments/"+d.DeploymentID)
	writeJSON(w, map[string]any{
		"success":    true,
		"deployment": d,
		"message":    "Deployment " + d.DeploymentID + " initiated for " + d.ServiceName,
		"next_steps": nextSteps,
	}, http.StatusAccepted)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	d, err := s.Get(r.Context(), middleware.TenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "deployment": d}, http.StatusOK)
}

func callbackHandler(s *Service, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			s.fail(w, r, problems.New(problems.Forbidden, "provisioner callbacks are not enabled"))
			return
		}
		authz := r.Header.Get("Authorization")
		if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(authz[7:])), []byte(token)) != 1 {
			s.fail(w, r, problems.New(problems.InvalidToken, "invalid provisioner credentials"))
			return
		}
		var body struct {
			Status  Status `json:"status"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
			s.fail(w, r, problems.Wrap(problems.InvalidRequest, "Request body is not valid JSON", err))
			return
		}
		d, err := s.Transition(r.Context(), chi.URLParam(r, "id"), body.Status, body.Message)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, map[string]any{"success": true, "deployment": d}, http.StatusOK)
	}
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	if pe := problems.Write(w, err); pe.Kind.Status() >= http.StatusInternalServerError {
		s.log.Errorw("deployment request failed", "tenant", middleware.TenantFrom(r.Context()),
			"path", r.URL.Path, "request_id", middleware.RequestIDFrom(r.Context()), "err", err)
	}
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
