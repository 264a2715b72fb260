package orchestrator

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a deployment.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// validTransitions only moves forward; completed and failed are terminal.
// A provisioner may report completion before its hand-off is acknowledged,
// so initiated can jump straight to completed.
var validTransitions = map[Status][]Status{
	StatusInitiated:  {StatusInProgress, StatusCompleted, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusFailed }

func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// advance applies next to d. Repeating the current status reports no change.
func advance(d Descriptor, next Status, message string, now time.Time) (Descriptor, bool, error) {
	if d.Status == next {
		return d, false, nil
	}
	if !d.Status.CanTransitionTo(next) {
		return d, false, ErrIllegalTransition
	}
	d.Status = next
	d.StatusMessage = message
	d.UpdatedAt = now.UTC()
	return d, true, nil
}

var (
	ErrNotFound          = errors.New("deployment not found")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// ResourceConfig is the sizing handed to the provisioning system.
type ResourceConfig struct {
	Memory       string            `json:"memory"`
	CPU          string            `json:"cpu"`
	Concurrency  int               `json:"concurrency"`
	MinInstances int               `json:"min_instances"`
	MaxInstances int               `json:"max_instances"`
	EnvVars      map[string]string `json:"env_vars"`
}

// Descriptor is the declarative record of a requested service instance.
type Descriptor struct {
	DeploymentID        string            `json:"deployment_id"`
	Tenant              string            `json:"tenant"`
	ServiceName         string            `json:"service_name"`
	ServiceType         string            `json:"service_type"`
	Region              string            `json:"region"`
	Status              Status            `json:"status"`
	StatusMessage       string            `json:"status_message,omitempty"`
	Endpoints           map[string]string `json:"endpoints"`
	Config              ResourceConfig    `json:"config"`
	AutoStart           bool              `json:"auto_start"`
	IdempotencyKey      string            `json:"idempotency_key,omitempty"`
	RequestedBy         string            `json:"requested_by,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	EstimatedCompletion time.Time         `json:"estimated_completion"`
}

// Request is the body of POST /api/deploy-service.
type Request struct {
	ServiceName string            `json:"service_name"`
	ServiceType string            `json:"service_type"`
	Region      string            `json:"region"`
	Config      *ConfigOverrides  `json:"config"`
	EnvVars     map[string]string `json:"env_vars"`
	AutoStart   *bool             `json:"auto_start"`
}

// ConfigOverrides are optional; nil fields take the defaults.
type ConfigOverrides struct {
	Memory       string            `json:"memory"`
	CPU          string            `json:"cpu"`
	Concurrency  *int              `json:"concurrency"`
	MinInstances *int              `json:"min_instances"`
	MaxInstances *int              `json:"max_instances"`
	EnvVars      map[string]string `json:"env_vars"`
}

// Defaults for ResourceConfig.
const (
	DefaultMemory       = "1Gi"
	DefaultCPU          = "1000m"
	DefaultConcurrency  = 100
	DefaultMinInstances = 0
	DefaultMaxInstances = 10

	estimatedDuration = 5 * time.Minute
)

var nextSteps = []string{
	"Poll GET /api/deployments/{deployment_id} for status updates",
	"The provisioning system reports completion through the status callback",
	"Verify the health endpoint once the deployment reports completed",
	"Configure the MCP client with the primary endpoint",
}
