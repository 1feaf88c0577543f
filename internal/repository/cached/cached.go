// Package cached decorates a repository.Store with the read cache.
package cached

import (
	"context"

	"github.com/hysmio/deployments-dashboard/internal/cache"
	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/repository"
)

// Store caches catalog and per-instance event listings. Time-windowed
// queries pass through.
type Store struct {
	repository.Store
	cache cache.Store
}

var _ repository.Store = (*Store)(nil)

// New wraps next. A nil cache disables caching.
func New(next repository.Store, c cache.Store) *Store {
	return &Store{Store: next, cache: c}
}

// Reset drops every cached listing.
func (s *Store) Reset(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Reset(ctx)
}

// ListServices caches the service catalog under "services".
func (s *Store) ListServices(ctx context.Context) ([]domain.Service, error) {
	return cache.Load(ctx, s.cache, "services", s.Store.ListServices)
}

// GetServiceByName caches one service by name.
func (s *Store) GetServiceByName(ctx context.Context, name string) (*domain.Service, error) {
	return cache.Load(ctx, s.cache, "service:"+name, func(ctx context.Context) (*domain.Service, error) {
		return s.Store.GetServiceByName(ctx, name)
	})
}

// ListInstances caches every instance under "instances".
func (s *Store) ListInstances(ctx context.Context) ([]domain.Instance, error) {
	return cache.Load(ctx, s.cache, "instances", s.Store.ListInstances)
}

// ListInstancesByService caches a service's instances.
func (s *Store) ListInstancesByService(ctx context.Context, service string) ([]domain.Instance, error) {
	return cache.Load(ctx, s.cache, "instances:service:"+service, func(ctx context.Context) ([]domain.Instance, error) {
		return s.Store.ListInstancesByService(ctx, service)
	})
}

// GetInstanceByID caches one instance by id.
func (s *Store) GetInstanceByID(ctx context.Context, id string) (*domain.Instance, error) {
	return cache.Load(ctx, s.cache, "instance:"+id, func(ctx context.Context) (*domain.Instance, error) {
		return s.Store.GetInstanceByID(ctx, id)
	})
}

// ListEventsByInstance caches an instance's full event history until the
// next Reset, which the live feed issues on every notification.
func (s *Store) ListEventsByInstance(ctx context.Context, instanceID string) ([]domain.Event, error) {
	return cache.Load(ctx, s.cache, "events:instance:"+instanceID, func(ctx context.Context) ([]domain.Event, error) {
		return s.Store.ListEventsByInstance(ctx, instanceID)
	})
}
