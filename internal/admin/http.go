package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mcpgateway/pkg/problems"
	"mcpgateway/pkg/tenants"
)

// RegisterHTTP mounts the operator API under /admin.
func RegisterHTTP(r chi.Router, a *App, token string) {
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(requireToken(token))
		ar.Get("/tenants/{tenant}", a.getTenant)
		ar.Put("/tenants/{tenant}", a.putTenant)
		ar.Get("/tenants/{tenant}/deployments/{id}", a.getDeployment)
		ar.Post("/clients", a.postClient)
	})
}

func (a *App) getTenant(w http.ResponseWriter, r *http.Request) {
	v, err := a.Tenant(r.Context(), tenants.Slug(chi.URLParam(r, "tenant")))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, v, http.StatusOK)
}

func (a *App) putTenant(w http.ResponseWriter, r *http.Request) {
	var md tenants.Metadata
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&md); err != nil {
		problems.Write(w, problems.Wrap(problems.InvalidRequest, "Request body is not valid JSON", err))
		return
	}
	out, err := a.PutTenant(r.Context(), tenants.Slug(chi.URLParam(r, "tenant")), md)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) getDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := a.Deployment(r.Context(), tenants.Slug(chi.URLParam(r, "tenant")), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, d, http.StatusOK)
}

func (a *App) postClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		problems.Write(w, problems.Wrap(problems.InvalidRequest, "Request body is not valid JSON", err))
		return
	}
	out, err := a.RegisterClient(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, out, http.StatusCreated)
}

func (a *App) fail(w http.ResponseWriter, err error) {
	pe := problems.Write(w, err)
	if pe.Kind.Status() >= http.StatusInternalServerError {
		a.log.Errorw("admin request failed", "err", pe)
	}
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
