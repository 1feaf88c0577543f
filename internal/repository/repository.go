package repository

import (
	"context"
	"time"

	"github.com/hysmio/deployments-dashboard/internal/domain"
)

// Variant selects which event schema the store exposes.
type Variant string

const (
	// VariantInstance stores events directly against instances; episodes are
	// keyed by the Buildkite build URL in the payload.
	VariantInstance Variant = "instance"
	// VariantDeployment stores events against deployment rows.
	VariantDeployment Variant = "deployment"
)

// ParseVariant validates a schema variant name.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantInstance, VariantDeployment:
		return Variant(s), nil
	}
	return "", domain.Invalid("event_schema", "must be instance or deployment")
}

// ServiceRepository reads services.
type ServiceRepository interface {
	ListServices(ctx context.Context) ([]domain.Service, error)
	GetServiceByName(ctx context.Context, name string) (*domain.Service, error)
}

// InstanceRepository reads instances. Listings are ordered by created_at, id.
type InstanceRepository interface {
	ListInstances(ctx context.Context) ([]domain.Instance, error)
	ListInstancesByService(ctx context.Context, service string) ([]domain.Instance, error)
	GetInstanceByID(ctx context.Context, id string) (*domain.Instance, error)
}

// EventRepository reads lifecycle events. Listings are ordered by
// created_at descending.
type EventRepository interface {
	ListEventsByInstance(ctx context.Context, instanceID string) ([]domain.Event, error)
	ListEventsByDeployment(ctx context.Context, deploymentID string) ([]domain.Event, error)
	ListEventsSince(ctx context.Context, since time.Time) ([]domain.Event, error)
	ListEventsSinceForInstances(ctx context.Context, instanceIDs []string, since time.Time) ([]domain.Event, error)
	GetEventByID(ctx context.Context, id string) (*domain.Event, error)
}

// DeploymentRepository reads stored deployment rows of the deployment schema.
type DeploymentRepository interface {
	ListDeploymentsByInstance(ctx context.Context, instanceID string) ([]domain.DeploymentRecord, error)
	ListLatestDeploymentsSince(ctx context.Context, since time.Time) ([]domain.DeploymentRecord, error)
	GetDeploymentByID(ctx context.Context, id string) (*domain.DeploymentRecord, error)
	CountDeploymentsByStatusSince(ctx context.Context, instanceIDs []string, status domain.DeploymentStatus, since time.Time) (int, error)
}

// Store is the full read surface used by the services.
type Store interface {
	ServiceRepository
	InstanceRepository
	EventRepository
	DeploymentRepository
	Variant() Variant
}
