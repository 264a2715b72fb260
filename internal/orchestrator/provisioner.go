package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mcpgateway/pkg/middleware"
)

// Provisioner hands a descriptor to the external provisioning system.
// A nil error means the request was accepted, not that it finished;
// completion is reported back through the status callback.
type Provisioner interface {
	Provision(ctx context.Context, d Descriptor) error
}

// LogProvisioner only records the hand-off. Used when no provisioning
// system is configured.
type LogProvisioner struct {
	Log *zap.SugaredLogger
}

func (p LogProvisioner) Provision(_ context.Context, d Descriptor) error {
	p.Log.Infow("deployment handed off (no provisioner configured)",
		"deployment_id", d.DeploymentID, "tenant", d.Tenant, "service", d.ServiceName, "region", d.Region)
	return nil
}

// HTTPProvisioner POSTs the descriptor as JSON and expects a 2xx answer.
type HTTPProvisioner struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPProvisioner(url, token string, timeout time.Duration) *HTTPProvisioner {
	return &HTTPProvisioner{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout, Transport: middleware.HTTPTransport(nil)},
	}
}

func (p *HTTPProvisioner) Provision(ctx context.Context, d Descriptor) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", d.DeploymentID)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provisioner returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
