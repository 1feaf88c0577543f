package events

import (
	"context"
	"errors"
	"strings"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/presenter"
	"github.com/hysmio/deployments-dashboard/internal/repository"
	"github.com/hysmio/deployments-dashboard/internal/service/deploy"
)

// Service answers event queries.
type Service struct {
	store repository.Store
	key   deploy.GroupingKey
}

// New returns an events service.
func New(store repository.Store) Service {
	return Service{store: store, key: deploy.GroupingFor(store.Variant())}
}

// ListByInstance returns one page of an instance's events, newest first.
func (s Service) ListByInstance(ctx context.Context, instanceID string, page, limit int) (presenter.Page[domain.Event], error) {
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return presenter.Page[domain.Event]{}, domain.Invalid("instanceId", "required")
	}
	if _, err := s.store.GetInstanceByID(ctx, instanceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return presenter.Page[domain.Event]{}, domain.NotFound("instance", instanceID)
		}
		return presenter.Page[domain.Event]{}, domain.Upstream("get instance", err)
	}
	events, err := s.store.ListEventsByInstance(ctx, instanceID)
	if err != nil {
		return presenter.Page[domain.Event]{}, domain.Upstream("list events", err)
	}
	sorted := append([]domain.Event(nil), events...)
	deploy.SortEvents(sorted)
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return presenter.Paginate(sorted, page, limit), nil
}

// FindStart returns the deployment_started event of the episode the given
// event belongs to: the latest start with the same grouping key at or before
// it. Without a key, the latest earlier start on the same instance is used.
func (s Service) FindStart(ctx context.Context, eventID string) (*domain.Event, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, domain.Invalid("completionEventId", "required")
	}
	event, err := s.store.GetEventByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("event", eventID)
		}
		return nil, domain.Upstream("get event", err)
	}

	want, keyed := s.key(*event)
	var candidates []domain.Event
	if keyed && s.store.Variant() == repository.VariantDeployment {
		candidates, err = s.store.ListEventsByDeployment(ctx, want)
	} else {
		candidates, err = s.store.ListEventsByInstance(ctx, event.InstanceID)
	}
	if err != nil {
		return nil, domain.Upstream("list events", err)
	}

	var start *domain.Event
	for i := range candidates {
		c := &candidates[i]
		if c.Type != domain.EventDeploymentStarted || c.CreatedAt.After(event.CreatedAt) {
			continue
		}
		if keyed {
			if k, ok := s.key(*c); !ok || k != want {
				continue
			}
		} else if !c.CreatedAt.Before(event.CreatedAt) && c.ID != event.ID {
			continue
		}
		if start == nil || c.CreatedAt.After(start.CreatedAt) || (c.CreatedAt.Equal(start.CreatedAt) && c.ID > start.ID) {
			start = c
		}
	}
	if start == nil {
		return nil, domain.NotFound("start event for", eventID)
	}
	out := *start
	return &out, nil
}
