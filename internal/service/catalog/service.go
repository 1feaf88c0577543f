package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/repository"
)

// Service answers service and instance lookups.
type Service struct {
	services  repository.ServiceRepository
	instances repository.InstanceRepository
}

// New returns a catalog service.
func New(services repository.ServiceRepository, instances repository.InstanceRepository) Service {
	return Service{services: services, instances: instances}
}

// ListServices returns every service.
func (s Service) ListServices(ctx context.Context) ([]domain.Service, error) {
	services, err := s.services.ListServices(ctx)
	if err != nil {
		return nil, domain.Upstream("list services", err)
	}
	return services, nil
}

// GetService returns one service by name.
func (s Service) GetService(ctx context.Context, name string) (*domain.Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Invalid("name", "required")
	}
	svc, err := s.services.GetServiceByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("service", name)
		}
		return nil, domain.Upstream("get service", err)
	}
	return svc, nil
}

// ListInstances returns the instances of a service, or every instance when
// service is empty.
func (s Service) ListInstances(ctx context.Context, service string) ([]domain.Instance, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		instances, err := s.instances.ListInstances(ctx)
		if err != nil {
			return nil, domain.Upstream("list instances", err)
		}
		return instances, nil
	}
	if _, err := s.GetService(ctx, service); err != nil {
		return nil, err
	}
	instances, err := s.instances.ListInstancesByService(ctx, service)
	if err != nil {
		return nil, domain.Upstream("list instances", err)
	}
	return instances, nil
}

// GetInstance returns one instance by id.
func (s Service) GetInstance(ctx context.Context, id string) (*domain.Instance, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.Invalid("id", "required")
	}
	instance, err := s.instances.GetInstanceByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("instance", id)
		}
		return nil, domain.Upstream("get instance", err)
	}
	return instance, nil
}

// Environments returns the distinct environment names in use, sorted.
func (s Service) Environments(ctx context.Context) ([]string, error) {
	instances, err := s.instances.ListInstances(ctx)
	if err != nil {
		return nil, domain.Upstream("list instances", err)
	}
	seen := make(map[string]struct{})
	envs := make([]string, 0)
	for _, in := range instances {
		if _, ok := seen[in.Environment]; ok || in.Environment == "" {
			continue
		}
		seen[in.Environment] = struct{}{}
		envs = append(envs, in.Environment)
	}
	sort.Strings(envs)
	return envs, nil
}
