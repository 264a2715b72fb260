package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"mcpgateway/internal/facts"
	"mcpgateway/internal/policy"
	"mcpgateway/pkg/config"
	"mcpgateway/pkg/problems"
	"mcpgateway/pkg/tenants"
)

var deploymentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_deployments_total",
	Help: "Deployment status changes by resulting status.",
}, []string{"status"})

// Result of a Deploy call. Replayed is set when an Idempotency-Key matched
// an earlier request and no new deployment was created.
type Result struct {
	Deployment Descriptor
	Replayed   bool
}

type Service struct {
	cfg     config.Config
	tenants tenants.Registry
	policy  *policy.Engine
	store   Store
	idem    IdempotencyStore
	prov    Provisioner
	log     *zap.SugaredLogger

	ids *idGenerator
	now func() time.Time
	wg  sync.WaitGroup
}

func NewService(cfg config.Config, tr tenants.Registry, pol *policy.Engine, store Store, idem IdempotencyStore, prov Provisioner, log *zap.SugaredLogger) *Service {
	if cfg.ProvisionerTimeout <= 0 {
		cfg.ProvisionerTimeout = 15 * time.Second
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 10 * time.Minute
	}
	return &Service{
		cfg: cfg, tenants: tr, policy: pol, store: store, idem: idem, prov: prov, log: log,
		ids: newIDGenerator(), now: time.Now,
	}
}

// Deploy validates req for tenantID and records a new deployment, then hands
// it to the provisioner in the background. claims are the caller's verified
// token claims.
func (s *Service) Deploy(ctx context.Context, tenantID string, claims map[string]any, idemKey string, req Request) (Result, error) {
	name := tenants.Slug(req.ServiceName)
	if strings.TrimSpace(req.ServiceName) == "" {
		return Result{}, problems.New(problems.InvalidRequest, "service_name is required")
	}
	if name == "" {
		return Result{}, problems.New(problems.InvalidRequest, "service_name must contain letters or digits")
	}
	rc, err := resourceConfig(req.Config)
	if err != nil {
		return Result{}, err
	}

	md, known, err := s.tenants.Lookup(ctx, tenantID)
	if err != nil {
		return Result{}, problems.Wrap(problems.DeploymentFailed, "Failed to load tenant metadata", err)
	}
	doc, err := facts.Normalize(claims)
	if err != nil {
		return Result{}, problems.Wrap(problems.DeploymentFailed, "Failed to read token claims", err)
	}

	d := Descriptor{
		Tenant:      tenantID,
		ServiceName: name + "-" + tenantID,
		ServiceType: firstNonEmpty(req.ServiceType, s.cfg.DefaultServiceType, "mcp-client"),
		Region:      firstNonEmpty(req.Region, s.cfg.DefaultRegion, "us-west1"),
		Status:      StatusInitiated,
		Config:      rc,
		AutoStart:   req.AutoStart == nil || *req.AutoStart,
		RequestedBy: stringOf(doc["sub"]),
	}

	allowed := []string{}
	if known && len(md.AllowedServiceTypes) > 0 {
		allowed = md.AllowedServiceTypes
	}
	dec, err := s.policy.Evaluate(ctx, map[string]any{
		"tenant": map[string]any{"id": tenantID, "known": known, "allowed_service_types": allowed},
		"deployment": map[string]any{
			"service_name": d.ServiceName,
			"service_type": d.ServiceType,
			"region":       d.Region,
			"config":       map[string]any{"memory": rc.Memory, "cpu": rc.CPU, "concurrency": rc.Concurrency, "min_instances": rc.MinInstances, "max_instances": rc.MaxInstances},
		},
		"token": doc,
	})
	if err != nil {
		return Result{}, problems.Wrap(problems.DeploymentFailed, "Deploy policy evaluation failed", err)
	}
	if dec.Deny {
		reason := "Deployment denied by policy"
		if len(dec.Reasons) > 0 {
			reason = strings.Join(dec.Reasons, "; ")
		}
		s.log.Warnw("deployment denied", "tenant", tenantID, "service", d.ServiceName, "reasons", dec.Reasons)
		return Result{}, problems.New(problems.Forbidden, reason)
	}

	env, err := s.environment(d, md, known, doc, req)
	if err != nil {
		return Result{}, err
	}
	d.Config.EnvVars = env

	var claimKey string
	if idemKey != "" {
		claimKey = tenantID + ":" + idemKey
		d.IdempotencyKey = idemKey
		claimed, prior, err := s.idem.Claim(ctx, claimKey, s.cfg.IdempotencyTTL)
		if err != nil {
			return Result{}, problems.Wrap(problems.DeploymentFailed, "Idempotency store unavailable", err)
		}
		if !claimed {
			if prior == "" {
				return Result{}, problems.New(problems.Conflict, "A request with this Idempotency-Key is still in progress")
			}
			existing, err := s.store.Get(ctx, tenantID, prior)
			if err != nil {
				return Result{}, problems.Wrap(problems.DeploymentFailed, "Failed to load prior deployment", err)
			}
			s.log.Infow("idempotent replay", "tenant", tenantID, "deployment_id", prior)
			return Result{Deployment: existing, Replayed: true}, nil
		}
	}

	now := s.now().UTC()
	d.DeploymentID = s.ids.Next(tenantID)
	d.CreatedAt = now
	d.UpdatedAt = now
	d.EstimatedCompletion = now.Add(estimatedDuration)
	d.Endpoints = endpoints(d.ServiceName, md, known)

	if err := s.store.Create(ctx, d); err != nil {
		if claimKey != "" {
			_ = s.idem.Release(ctx, claimKey)
		}
		return Result{}, problems.Wrap(problems.DeploymentFailed, "Failed to record deployment", err)
	}
	if claimKey != "" {
		if err := s.idem.Complete(ctx, claimKey, d.DeploymentID, s.cfg.IdempotencyTTL); err != nil {
			s.log.Warnw("idempotency key not recorded", "tenant", tenantID, "deployment_id", d.DeploymentID, "err", err)
		}
	}
	deploymentTransitions.WithLabelValues(string(StatusInitiated)).Inc()
	s.log.Infow("deployment initiated", "tenant", tenantID, "deployment_id", d.DeploymentID,
		"service", d.ServiceName, "type", d.ServiceType, "region", d.Region)

	s.handOff(d)
	return Result{Deployment: d}, nil
}

// handOff runs the provisioner outside the request. Acceptance moves the
// deployment to in_progress; an error fails it. Completion is never assumed.
func (s *Service) handOff(d Descriptor) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProvisionerTimeout)
		defer cancel()
		next, msg := StatusInProgress, "accepted by provisioner"
		if err := s.prov.Provision(ctx, d); err != nil {
			s.log.Errorw("provisioner rejected deployment", "deployment_id", d.DeploymentID, "err", err)
			next, msg = StatusFailed, "provisioning request failed: "+err.Error()
		}
		if _, err := s.Transition(context.Background(), d.DeploymentID, next, msg); err != nil && !errors.Is(err, ErrIllegalTransition) {
			s.log.Errorw("deployment status not updated", "deployment_id", d.DeploymentID, "status", next, "err", err)
		}
	}()
}

// Wait blocks until in-flight provisioner hand-offs finish.
func (s *Service) Wait() { s.wg.Wait() }

// Get returns a tenant's deployment.
func (s *Service) Get(ctx context.Context, tenantID, id string) (Descriptor, error) {
	d, err := s.store.Get(ctx, tenantID, id)
	if errors.Is(err, ErrNotFound) {
		return Descriptor{}, problems.New(problems.NotFound, "deployment not found")
	}
	if err != nil {
		return Descriptor{}, problems.Wrap(problems.ServerError, "Failed to load deployment", err)
	}
	return d, nil
}

// Transition applies a status change reported by the provisioning system.
func (s *Service) Transition(ctx context.Context, id string, next Status, message string) (Descriptor, error) {
	if !next.Valid() {
		return Descriptor{}, problems.New(problems.InvalidRequest, "unknown status "+string(next))
	}
	d, err := s.store.Transition(ctx, id, next, message)
	switch {
	case errors.Is(err, ErrNotFound):
		return Descriptor{}, problems.New(problems.NotFound, "deployment not found")
	case errors.Is(err, ErrIllegalTransition):
		s.log.Warnw("illegal deployment transition", "deployment_id", id, "from", d.Status, "to", next)
		return d, problems.Wrap(problems.Conflict, "cannot move deployment from "+string(d.Status)+" to "+string(next), err)
	case err != nil:
		return Descriptor{}, problems.Wrap(problems.ServerError, "Failed to update deployment", err)
	}
	deploymentTransitions.WithLabelValues(string(d.Status)).Inc()
	s.log.Infow("deployment status changed", "deployment_id", id, "tenant", d.Tenant, "status", d.Status)
	return d, nil
}

// environment layers env vars: platform values, tenant metadata, claim
// mappings, then request values. TENANT_ID cannot be overridden.
func (s *Service) environment(d Descriptor, md tenants.Metadata, known bool, doc map[string]any, req Request) (map[string]string, error) {
	env := map[string]string{
		"TENANT_ID":    d.Tenant,
		"SERVICE_TYPE": d.ServiceType,
		"REGION":       d.Region,
		"NODE_ENV":     "production",
	}
	if known {
		for k, v := range md.DeploymentEnv() {
			env[k] = v
		}
		claimEnv, err := facts.ClaimEnv(md.ClaimEnv, doc)
		if err != nil {
			return nil, problems.Wrap(problems.DeploymentFailed, "Tenant claim mapping is invalid", err)
		}
		for k, v := range claimEnv {
			env[k] = v
		}
	}
	if req.Config != nil {
		for k, v := range req.Config.EnvVars {
			env[k] = v
		}
	}
	for k, v := range req.EnvVars {
		env[k] = v
	}
	env["TENANT_ID"] = d.Tenant
	return env, nil
}

func resourceConfig(o *ConfigOverrides) (ResourceConfig, error) {
	rc := ResourceConfig{
		Memory:       DefaultMemory,
		CPU:          DefaultCPU,
		Concurrency:  DefaultConcurrency,
		MinInstances: DefaultMinInstances,
		MaxInstances: DefaultMaxInstances,
	}
	if o == nil {
		return rc, nil
	}
	if o.Memory != "" {
		rc.Memory = o.Memory
	}
	if o.CPU != "" {
		rc.CPU = o.CPU
	}
	if o.Concurrency != nil {
		rc.Concurrency = *o.Concurrency
	}
	if o.MinInstances != nil {
		rc.MinInstances = *o.MinInstances
	}
	if o.MaxInstances != nil {
		rc.MaxInstances = *o.MaxInstances
	}
	switch {
	case rc.Concurrency < 1:
		return rc, problems.New(problems.InvalidRequest, "config.concurrency must be at least 1")
	case rc.MinInstances < 0 || rc.MaxInstances < 0:
		return rc, problems.New(problems.InvalidRequest, "config instance counts must not be negative")
	case rc.MinInstances > rc.MaxInstances:
		return rc, problems.New(problems.InvalidRequest, "config.min_instances must not exceed config.max_instances")
	}
	return rc, nil
}

func endpoints(serviceName string, md tenants.Metadata, known bool) map[string]string {
	primary := "https://" + serviceName + ".run.app"
	out := map[string]string{
		"primary": primary,
		"health":  primary + "/health",
		"api":     primary + "/api",
	}
	if known && md.MCPEndpoint != "" {
		out["mcp"] = "https://" + md.MCPEndpoint
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}
