package stats

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/presenter"
	"github.com/hysmio/deployments-dashboard/internal/repository"
	"github.com/hysmio/deployments-dashboard/internal/service/deploy"
)

// DefaultWindowDays is the trailing window of dashboard rollups.
const DefaultWindowDays = 30

// Scope selects the instances a rollup covers. Exactly one field is used;
// InstanceID takes precedence.
type Scope struct {
	Service    string
	InstanceID string
}

// Service computes deployment rollups.
type Service struct {
	store      repository.Store
	key        deploy.GroupingKey
	windowDays int
	now        func() time.Time
	logger     *slog.Logger
}

// New returns a stats service. windowDays <= 0 uses DefaultWindowDays.
func New(store repository.Store, windowDays int, logger *slog.Logger) Service {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return Service{
		store:      store,
		key:        deploy.GroupingFor(store.Variant()),
		windowDays: windowDays,
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock returns a copy of the service reading time from now.
func (s Service) WithClock(now func() time.Time) Service {
	s.now = now
	return s
}

func (s Service) windowStart(days int) (time.Time, time.Time) {
	if days <= 0 {
		days = s.windowDays
	}
	now := s.now().UTC()
	return now.Add(-time.Duration(days) * 24 * time.Hour), now
}

// CountRecentByStatus counts the deployments in scope that finished within
// the last windowDays. In-progress deployments are not counted. The
// deployment schema pushes the count down to the store, which resolves each
// row's status from its events the way Reconstruct does.
func (s Service) CountRecentByStatus(ctx context.Context, scope Scope, windowDays int) (domain.DeploymentCounts, error) {
	ids, err := s.scopeInstances(ctx, scope)
	if err != nil {
		return domain.DeploymentCounts{}, err
	}
	since, now := s.windowStart(windowDays)
	if len(ids) == 0 {
		return domain.DeploymentCounts{}, nil
	}

	if s.store.Variant() == repository.VariantDeployment {
		var counts domain.DeploymentCounts
		if counts.Succeeded, err = s.store.CountDeploymentsByStatusSince(ctx, ids, domain.StatusSucceeded, since); err != nil {
			return domain.DeploymentCounts{}, domain.Upstream("count deployments", err)
		}
		if counts.Failed, err = s.store.CountDeploymentsByStatusSince(ctx, ids, domain.StatusFailed, since); err != nil {
			return domain.DeploymentCounts{}, domain.Upstream("count deployments", err)
		}
		return counts, nil
	}

	events, err := s.store.ListEventsSinceForInstances(ctx, ids, since)
	if err != nil {
		return domain.DeploymentCounts{}, domain.Upstream("list events", err)
	}
	return countTerminal(deploy.Reconstruct(events, s.key), since, now), nil
}

func countTerminal(deployments []domain.Deployment, from, to time.Time) domain.DeploymentCounts {
	var counts domain.DeploymentCounts
	for _, d := range deployments {
		if !deploy.TerminalWithin(d, from, to) {
			continue
		}
		switch d.Status {
		case domain.StatusSucceeded:
			counts.Succeeded++
		case domain.StatusFailed:
			counts.Failed++
		}
	}
	return counts
}

// LastDeploymentForInstance returns the most recently started finished
// deployment of an instance, or the most recent of any status when none has
// finished. It returns nil when the instance has no deployments.
func (s Service) LastDeploymentForInstance(ctx context.Context, instanceID string) (*domain.Deployment, error) {
	if strings.TrimSpace(instanceID) == "" {
		return nil, domain.Invalid("instanceId", "required")
	}
	if _, err := s.store.GetInstanceByID(ctx, instanceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("instance", instanceID)
		}
		return nil, domain.Upstream("get instance", err)
	}
	events, err := s.store.ListEventsByInstance(ctx, instanceID)
	if err != nil {
		return nil, domain.Upstream("list events", err)
	}
	deployments, err := s.withStoredRows(ctx, []string{instanceID}, deploy.Reconstruct(events, s.key))
	if err != nil {
		return nil, err
	}
	return latest(deployments), nil
}

// withStoredRows adds the deployment schema's rows that have no events.
func (s Service) withStoredRows(ctx context.Context, instanceIDs []string, deployments []domain.Deployment) ([]domain.Deployment, error) {
	if s.store.Variant() != repository.VariantDeployment {
		return deployments, nil
	}
	var records []domain.DeploymentRecord
	for _, id := range instanceIDs {
		found, err := s.store.ListDeploymentsByInstance(ctx, id)
		if err != nil {
			return nil, domain.Upstream("list deployments", err)
		}
		records = append(records, found...)
	}
	return deploy.MergeRecords(deployments, records), nil
}

// latest picks from deployments ordered newest first.
func latest(deployments []domain.Deployment) *domain.Deployment {
	for i := range deployments {
		if deployments[i].Status.Terminal() {
			return &deployments[i]
		}
	}
	if len(deployments) > 0 {
		return &deployments[0]
	}
	return nil
}

// LastProductionDeployment applies LastDeploymentForInstance to the
// service's prod instance. It returns nil when there is none.
func (s Service) LastProductionDeployment(ctx context.Context, service string) (*domain.Deployment, error) {
	instances, err := s.serviceInstances(ctx, service)
	if err != nil {
		return nil, err
	}
	for _, in := range instances {
		if in.IsProduction() {
			return s.LastDeploymentForInstance(ctx, in.ID)
		}
	}
	return nil, nil
}

// ServiceStats reports recent successes, all-time deployments and instance
// counts per environment for one service.
func (s Service) ServiceStats(ctx context.Context, service string, windowDays int) (domain.ServiceStats, error) {
	instances, err := s.serviceInstances(ctx, service)
	if err != nil {
		return domain.ServiceStats{}, err
	}
	out := domain.ServiceStats{InstancesByEnvironment: make(map[string]int)}
	ids := make([]string, 0, len(instances))
	for _, in := range instances {
		out.InstancesByEnvironment[in.Environment]++
		ids = append(ids, in.ID)
	}
	if len(ids) == 0 {
		return out, nil
	}

	counts, err := s.CountRecentByStatus(ctx, Scope{Service: service}, windowDays)
	if err != nil {
		return domain.ServiceStats{}, err
	}
	out.RecentDeployments = counts.Succeeded

	events, err := s.store.ListEventsSinceForInstances(ctx, ids, time.Time{})
	if err != nil {
		return domain.ServiceStats{}, domain.Upstream("list events", err)
	}
	all, err := s.withStoredRows(ctx, ids, deploy.Reconstruct(events, s.key))
	if err != nil {
		return domain.ServiceStats{}, err
	}
	out.TotalDeployments = len(all)
	return out, nil
}

// DashboardSummary builds one row per service from three bulk reads: all
// services, all instances and every event inside the window. The deployment
// schema adds a fourth read of the rows active inside the window, so rows
// without events are reported too.
func (s Service) DashboardSummary(ctx context.Context) ([]domain.ServiceSummary, error) {
	since, now := s.windowStart(s.windowDays)

	var (
		services  []domain.Service
		instances []domain.Instance
		events    []domain.Event
		records   []domain.DeploymentRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		services, err = s.store.ListServices(gctx)
		return domain.Upstream("list services", err)
	})
	g.Go(func() error {
		var err error
		instances, err = s.store.ListInstances(gctx)
		return domain.Upstream("list instances", err)
	})
	g.Go(func() error {
		var err error
		events, err = s.store.ListEventsSince(gctx, since)
		return domain.Upstream("list events", err)
	})
	if s.store.Variant() == repository.VariantDeployment {
		g.Go(func() error {
			var err error
			records, err = s.store.ListLatestDeploymentsSince(gctx, since)
			return domain.Upstream("list deployments", err)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byService := make(map[string][]domain.Instance)
	for _, in := range instances {
		byService[in.Service] = append(byService[in.Service], in)
	}
	eventsByInstance := make(map[string][]domain.Event)
	for _, e := range events {
		eventsByInstance[e.InstanceID] = append(eventsByInstance[e.InstanceID], e)
	}
	recordsByInstance := make(map[string][]domain.DeploymentRecord)
	for _, r := range records {
		recordsByInstance[r.InstanceID] = append(recordsByInstance[r.InstanceID], r)
	}
	deploymentsByInstance := make(map[string][]domain.Deployment, len(eventsByInstance))
	for id, evs := range eventsByInstance {
		deploymentsByInstance[id] = deploy.Reconstruct(evs, s.key)
	}
	for id, rs := range recordsByInstance {
		deploymentsByInstance[id] = deploy.MergeRecords(deploymentsByInstance[id], rs)
	}

	summaries := make([]domain.ServiceSummary, 0, len(services))
	for _, svc := range services {
		own := byService[svc.Name]
		summary := domain.ServiceSummary{
			Service:       svc,
			Instances:     presenter.InstanceRefs(own),
			InstanceCount: len(own),
		}
		for _, in := range own {
			deps := deploymentsByInstance[in.ID]
			if in.IsProduction() && summary.ProdDeployment == nil {
				summary.ProdDeployment = presenter.ProdDeployment(latest(deps))
			}
			c := countTerminal(deps, since, now)
			summary.DeploymentStats.Succeeded += c.Succeeded
			summary.DeploymentStats.Failed += c.Failed
		}
		if len(own) > 0 {
			summary.RecentActivity = recentActivity(own[0], deploymentsByInstance[own[0].ID])
		}
		summaries = append(summaries, summary)
	}
	s.logger.Debug("dashboard summary built", "services", len(summaries), "events", len(events))
	return summaries, nil
}

// recentActivity reports the newest event among an instance's deployments.
func recentActivity(in domain.Instance, deployments []domain.Deployment) *domain.RecentActivity {
	var (
		newest   domain.Event
		owner    string
		hasEvent bool
	)
	for _, d := range deployments {
		e, ok := d.LatestEvent()
		if !ok {
			continue
		}
		if !hasEvent || e.CreatedAt.After(newest.CreatedAt) || (e.CreatedAt.Equal(newest.CreatedAt) && e.ID > newest.ID) {
			newest, owner, hasEvent = e, d.ID, true
		}
	}
	if !hasEvent {
		return nil
	}
	return presenter.RecentActivity(newest, owner, in.Environment)
}

func (s Service) scopeInstances(ctx context.Context, scope Scope) ([]string, error) {
	if id := strings.TrimSpace(scope.InstanceID); id != "" {
		if _, err := s.store.GetInstanceByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domain.NotFound("instance", id)
			}
			return nil, domain.Upstream("get instance", err)
		}
		return []string{id}, nil
	}
	instances, err := s.serviceInstances(ctx, scope.Service)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(instances))
	for _, in := range instances {
		ids = append(ids, in.ID)
	}
	return ids, nil
}

func (s Service) serviceInstances(ctx context.Context, service string) ([]domain.Instance, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return nil, domain.Invalid("service", "required")
	}
	if _, err := s.store.GetServiceByName(ctx, service); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("service", service)
		}
		return nil, domain.Upstream("get service", err)
	}
	instances, err := s.store.ListInstancesByService(ctx, service)
	if err != nil {
		return nil, domain.Upstream("list instances", err)
	}
	return instances, nil
}
