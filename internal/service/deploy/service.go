package deploy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/repository"
)

// UnknownEnvironment is reported when a deployment's instance is gone.
const UnknownEnvironment = "unknown"

// Service reconstructs deployments for instances, services and environments.
type Service struct {
	services    repository.ServiceRepository
	instances   repository.InstanceRepository
	events      repository.EventRepository
	deployments repository.DeploymentRepository
	variant     repository.Variant
	key         GroupingKey
	logger      *slog.Logger
}

// New returns a deployment service reading from store.
func New(store repository.Store, logger *slog.Logger) Service {
	return Service{
		services:    store,
		instances:   store,
		events:      store,
		deployments: store,
		variant:     store.Variant(),
		key:         GroupingFor(store.Variant()),
		logger:      logger,
	}
}

// Filter selects the deployments listed by List. One of InstanceID or
// Service is required; Environment narrows a service listing.
type Filter struct {
	InstanceID  string
	Service     string
	Environment string
}

// List dispatches on the filter.
func (s Service) List(ctx context.Context, f Filter) ([]domain.Deployment, error) {
	instanceID := strings.TrimSpace(f.InstanceID)
	service := strings.TrimSpace(f.Service)
	env := strings.TrimSpace(f.Environment)
	switch {
	case instanceID != "":
		return s.ListByInstance(ctx, instanceID)
	case service != "" && env != "":
		return s.ListByEnvironment(ctx, service, env)
	case service != "":
		return s.ListByService(ctx, service)
	}
	return nil, domain.Invalid("instanceId", "instanceId or service is required")
}

// ListByInstance reconstructs every deployment of one instance.
func (s Service) ListByInstance(ctx context.Context, instanceID string) ([]domain.Deployment, error) {
	if strings.TrimSpace(instanceID) == "" {
		return nil, domain.Invalid("instanceId", "required")
	}
	if _, err := s.instance(ctx, instanceID); err != nil {
		return nil, err
	}
	events, err := s.events.ListEventsByInstance(ctx, instanceID)
	if err != nil {
		return nil, domain.Upstream("list events", err)
	}
	return s.withStoredRows(ctx, []string{instanceID}, Reconstruct(events, s.key))
}

// ListByService reconstructs the deployments of every instance of a service.
func (s Service) ListByService(ctx context.Context, service string) ([]domain.Deployment, error) {
	_, deployments, err := s.serviceDeployments(ctx, service)
	return deployments, err
}

// ListByEnvironment lists a service's deployments on instances of env.
func (s Service) ListByEnvironment(ctx context.Context, service, env string) ([]domain.Deployment, error) {
	instances, deployments, err := s.serviceDeployments(ctx, service)
	if err != nil {
		return nil, err
	}
	return FilterByEnvironment(deployments, instances, env), nil
}

func (s Service) serviceDeployments(ctx context.Context, service string) ([]domain.Instance, []domain.Deployment, error) {
	if strings.TrimSpace(service) == "" {
		return nil, nil, domain.Invalid("service", "required")
	}
	if _, err := s.services.GetServiceByName(ctx, service); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domain.NotFound("service", service)
		}
		return nil, nil, domain.Upstream("get service", err)
	}
	instances, err := s.instances.ListInstancesByService(ctx, service)
	if err != nil {
		return nil, nil, domain.Upstream("list instances", err)
	}
	if len(instances) == 0 {
		return instances, []domain.Deployment{}, nil
	}
	ids := make([]string, 0, len(instances))
	for _, in := range instances {
		ids = append(ids, in.ID)
	}
	events, err := s.events.ListEventsSinceForInstances(ctx, ids, time.Time{})
	if err != nil {
		return nil, nil, domain.Upstream("list events", err)
	}
	deployments, err := s.withStoredRows(ctx, ids, Reconstruct(events, s.key))
	if err != nil {
		return nil, nil, err
	}
	return instances, deployments, nil
}

// withStoredRows adds the stored deployments of the deployment schema that
// have no events yet. The instance schema has no rows to add.
func (s Service) withStoredRows(ctx context.Context, instanceIDs []string, deployments []domain.Deployment) ([]domain.Deployment, error) {
	if s.variant != repository.VariantDeployment {
		return deployments, nil
	}
	var records []domain.DeploymentRecord
	for _, id := range instanceIDs {
		found, err := s.deployments.ListDeploymentsByInstance(ctx, id)
		if err != nil {
			return nil, domain.Upstream("list deployments", err)
		}
		records = append(records, found...)
	}
	return MergeRecords(deployments, records), nil
}

// Get returns one deployment with its instance environment. The id is the
// one a listing reports, or the id of any event of the episode.
func (s Service) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.Invalid("id", "required")
	}
	var (
		d   *domain.Deployment
		err error
	)
	if s.variant == repository.VariantDeployment {
		d, err = s.getStored(ctx, id)
	} else {
		d, err = s.getByEvent(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	d.Environment = UnknownEnvironment
	instance, err := s.instances.GetInstanceByID(ctx, d.InstanceID)
	switch {
	case err == nil:
		d.Environment = instance.Environment
	case !errors.Is(err, repository.ErrNotFound):
		return nil, domain.Upstream("get instance", err)
	default:
		s.logger.Warn("deployment instance missing", "deployment_id", d.ID, "instance_id", d.InstanceID)
	}
	return d, nil
}

func (s Service) getStored(ctx context.Context, id string) (*domain.Deployment, error) {
	record, err := s.record(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.events.ListEventsByDeployment(ctx, record.ID)
	if err != nil {
		return nil, domain.Upstream("list events", err)
	}
	if found := Reconstruct(events, s.key); len(found) > 0 {
		d := found[0]
		d.ID = record.ID
		d.InstanceID = record.InstanceID
		return &d, nil
	}
	d := FromRecord(*record)
	return &d, nil
}

// record resolves id as a deployment row, then as one of its events.
func (s Service) record(ctx context.Context, id string) (*domain.DeploymentRecord, error) {
	record, err := s.deployments.GetDeploymentByID(ctx, id)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, domain.Upstream("get deployment", err)
	}
	event, err := s.events.GetEventByID(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, domain.NotFound("deployment", id)
	case err != nil:
		return nil, domain.Upstream("get event", err)
	case event.DeploymentID == "" || event.DeploymentID == id:
		return nil, domain.NotFound("deployment", id)
	}
	record, err = s.deployments.GetDeploymentByID(ctx, event.DeploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("deployment", id)
		}
		return nil, domain.Upstream("get deployment", err)
	}
	return record, nil
}

func (s Service) getByEvent(ctx context.Context, id string) (*domain.Deployment, error) {
	event, err := s.events.GetEventByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("deployment", id)
		}
		return nil, domain.Upstream("get event", err)
	}
	want, ok := s.key(*event)
	if !ok {
		return nil, domain.NotFound("deployment", id)
	}
	events, err := s.events.ListEventsByInstance(ctx, event.InstanceID)
	if err != nil {
		return nil, domain.Upstream("list events", err)
	}
	group := make([]domain.Event, 0)
	for _, e := range events {
		if k, ok := s.key(e); ok && k == want {
			group = append(group, e)
		}
	}
	found := Reconstruct(group, s.key)
	if len(found) == 0 {
		return nil, domain.NotFound("deployment", id)
	}
	return &found[0], nil
}

func (s Service) instance(ctx context.Context, id string) (*domain.Instance, error) {
	instance, err := s.instances.GetInstanceByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("instance", id)
		}
		return nil, domain.Upstream("get instance", err)
	}
	return instance, nil
}
