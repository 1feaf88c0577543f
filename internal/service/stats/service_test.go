package stats

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/repository"
	"github.com/hysmio/deployments-dashboard/internal/repository/fixture"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixtureService(t *testing.T) Service {
	t.Helper()
	store, err := fixture.Load("../../repository/fixture/testdata", repository.VariantInstance)
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	return New(store, 30, discardLogger()).WithClock(func() time.Time { return now })
}

func completed(id string, finishedAt time.Time) []domain.Event {
	url := "https://bk/" + id
	return []domain.Event{
		{ID: id + "-s", InstanceID: "i1", Type: domain.EventDeploymentStarted, Data: domain.StartedData{BuildkiteBuildURL: url}, CreatedAt: finishedAt.Add(-time.Minute)},
		{ID: id + "-d", InstanceID: "i1", Type: domain.EventDeploymentSucceeded, Data: domain.SucceededData{BuildkiteBuildURL: url}, CreatedAt: finishedAt},
	}
}

func TestCountRecentByStatusWindow(t *testing.T) {
	events := append(completed("old", now.Add(-31*24*time.Hour)), completed("new", now.Add(-29*24*time.Hour))...)
	store := fixture.New(repository.VariantInstance, fixture.Data{
		Services:  []domain.Service{{Name: "api"}},
		Instances: []domain.Instance{{ID: "i1", Service: "api", Environment: "prod"}},
		Events:    events,
	})
	svc := New(store, 30, discardLogger()).WithClock(func() time.Time { return now })

	counts, err := svc.CountRecentByStatus(context.Background(), Scope{Service: "api"}, 30)
	if err != nil {
		t.Fatalf("CountRecentByStatus returned error: %v", err)
	}
	if counts.Succeeded != 1 || counts.Failed != 0 {
		t.Fatalf("expected only the 29-day deployment counted, got %+v", counts)
	}
}

func TestCountRecentByStatusDeploymentSchema(t *testing.T) {
	inWindow := now.Add(-2 * 24 * time.Hour)
	outside := now.Add(-40 * 24 * time.Hour)
	store := fixture.New(repository.VariantDeployment, fixture.Data{
		Services:  []domain.Service{{Name: "api"}},
		Instances: []domain.Instance{{ID: "i1", Service: "api", Environment: "prod"}},
		Deployments: []domain.DeploymentRecord{
			{ID: "d1", InstanceID: "i1", Status: domain.StatusSucceeded, StartedAt: inWindow, CompletedAt: &inWindow},
			{ID: "d2", InstanceID: "i1", Status: domain.StatusFailed, StartedAt: inWindow, CompletedAt: &inWindow},
			{ID: "d3", InstanceID: "i1", Status: domain.StatusSucceeded, StartedAt: outside, CompletedAt: &outside},
			{ID: "d4", InstanceID: "i1", Status: domain.StatusInProgress, StartedAt: inWindow},
		},
	}).WithClock(func() time.Time { return now })
	svc := New(store, 30, discardLogger()).WithClock(func() time.Time { return now })

	counts, err := svc.CountRecentByStatus(context.Background(), Scope{InstanceID: "i1"}, 30)
	if err != nil {
		t.Fatalf("CountRecentByStatus returned error: %v", err)
	}
	if counts.Succeeded != 1 || counts.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	summaries, err := svc.DashboardSummary(context.Background())
	if err != nil {
		t.Fatalf("DashboardSummary returned error: %v", err)
	}
	if len(summaries) != 1 || summaries[0].DeploymentStats != counts {
		t.Fatalf("expected dashboard stats %+v, got %+v", counts, summaries)
	}
}

func TestDeploymentSchemaCountsFollowEvents(t *testing.T) {
	startedAt := now.Add(-2*24*time.Hour - time.Minute)
	finishedAt := now.Add(-2 * 24 * time.Hour)
	store := fixture.New(repository.VariantDeployment, fixture.Data{
		Services:  []domain.Service{{Name: "api"}},
		Instances: []domain.Instance{{ID: "i1", Service: "api", Environment: "prod"}},
		Deployments: []domain.DeploymentRecord{
			// The row still says in-progress; its events say it succeeded.
			{ID: "dep-1", InstanceID: "i1", Status: domain.StatusInProgress, StartedAt: startedAt},
			// A stale stored failure that its events overrule.
			{ID: "dep-2", InstanceID: "i1", Status: domain.StatusFailed, StartedAt: startedAt, CompletedAt: &finishedAt},
		},
		Events: []domain.Event{
			{ID: "e1", DeploymentID: "dep-1", Type: domain.EventDeploymentStarted, Data: domain.StartedData{}, CreatedAt: startedAt},
			{ID: "e2", DeploymentID: "dep-1", Type: domain.EventDeploymentSucceeded, Data: domain.SucceededData{}, CreatedAt: finishedAt},
			{ID: "e3", DeploymentID: "dep-2", Type: domain.EventDeploymentStarted, Data: domain.StartedData{}, CreatedAt: startedAt},
		},
	}).WithClock(func() time.Time { return now })
	svc := New(store, 30, discardLogger()).WithClock(func() time.Time { return now })

	counts, err := svc.CountRecentByStatus(context.Background(), Scope{InstanceID: "i1"}, 30)
	if err != nil {
		t.Fatalf("CountRecentByStatus returned error: %v", err)
	}
	if counts.Succeeded != 1 || counts.Failed != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	summaries, err := svc.DashboardSummary(context.Background())
	if err != nil {
		t.Fatalf("DashboardSummary returned error: %v", err)
	}
	if len(summaries) != 1 || summaries[0].DeploymentStats != counts {
		t.Fatalf("expected dashboard stats %+v, got %+v", counts, summaries)
	}
	if prod := summaries[0].ProdDeployment; prod == nil || prod.ID != "dep-1" {
		t.Fatalf("expected prod deployment dep-1, got %+v", prod)
	}
}

func TestLastProductionDeployment(t *testing.T) {
	svc := newFixtureService(t)
	d, err := svc.LastProductionDeployment(context.Background(), "payments")
	if err != nil {
		t.Fatalf("LastProductionDeployment returned error: %v", err)
	}
	if d == nil || d.ID != "evt-4" || d.Status != domain.StatusFailed {
		t.Fatalf("expected failed evt-4, got %+v", d)
	}
}

func TestLastDeploymentFallsBackToInProgress(t *testing.T) {
	svc := newFixtureService(t)
	d, err := svc.LastDeploymentForInstance(context.Background(), "inst-pay-dev")
	if err != nil {
		t.Fatalf("LastDeploymentForInstance returned error: %v", err)
	}
	if d == nil || d.Status != domain.StatusInProgress {
		t.Fatalf("expected in-progress fallback, got %+v", d)
	}
}

func TestServiceStats(t *testing.T) {
	svc := newFixtureService(t)
	got, err := svc.ServiceStats(context.Background(), "payments", 30)
	if err != nil {
		t.Fatalf("ServiceStats returned error: %v", err)
	}
	if got.RecentDeployments != 1 || got.TotalDeployments != 3 {
		t.Fatalf("unexpected stats: %+v", got)
	}
	if got.InstancesByEnvironment["prod"] != 1 || got.InstancesByEnvironment["dev"] != 1 {
		t.Fatalf("unexpected environment counts: %v", got.InstancesByEnvironment)
	}
}

func TestDashboardSummary(t *testing.T) {
	svc := newFixtureService(t)
	summaries, err := svc.DashboardSummary(context.Background())
	if err != nil {
		t.Fatalf("DashboardSummary returned error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 services, got %d", len(summaries))
	}

	payments := summaries[0]
	if payments.Name != "payments" || payments.InstanceCount != 2 {
		t.Fatalf("unexpected payments row: %+v", payments)
	}
	if payments.DeploymentStats.Succeeded != 1 || payments.DeploymentStats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", payments.DeploymentStats)
	}
	prod := payments.ProdDeployment
	if prod == nil || prod.ID != "evt-4" || prod.EventType != domain.EventDeploymentFailed {
		t.Fatalf("unexpected prod deployment: %+v", prod)
	}
	if prod.CommitInfo == nil || prod.CommitInfo.ShortCommit != "1234567" {
		t.Fatalf("unexpected commit info: %+v", prod.CommitInfo)
	}
	activity := payments.RecentActivity
	if activity == nil || activity.ID != "evt-6" || activity.Environment != "dev" {
		t.Fatalf("expected activity from the first instance, got %+v", activity)
	}

	search := summaries[1]
	if search.ProdDeployment != nil || search.RecentActivity != nil {
		t.Fatalf("expected no activity inside the window for search, got %+v", search)
	}
}

type countingStore struct {
	repository.Store
	services, instances, eventsSince, other atomic.Int32
}

func (c *countingStore) ListServices(ctx context.Context) ([]domain.Service, error) {
	c.services.Add(1)
	return c.Store.ListServices(ctx)
}

func (c *countingStore) ListInstances(ctx context.Context) ([]domain.Instance, error) {
	c.instances.Add(1)
	return c.Store.ListInstances(ctx)
}

func (c *countingStore) ListEventsSince(ctx context.Context, since time.Time) ([]domain.Event, error) {
	c.eventsSince.Add(1)
	return c.Store.ListEventsSince(ctx, since)
}

func (c *countingStore) ListInstancesByService(ctx context.Context, service string) ([]domain.Instance, error) {
	c.other.Add(1)
	return c.Store.ListInstancesByService(ctx, service)
}

func (c *countingStore) ListEventsByInstance(ctx context.Context, id string) ([]domain.Event, error) {
	c.other.Add(1)
	return c.Store.ListEventsByInstance(ctx, id)
}

func (c *countingStore) ListEventsSinceForInstances(ctx context.Context, ids []string, since time.Time) ([]domain.Event, error) {
	c.other.Add(1)
	return c.Store.ListEventsSinceForInstances(ctx, ids, since)
}

func TestDashboardSummaryUsesThreeBulkReads(t *testing.T) {
	inner, err := fixture.Load("../../repository/fixture/testdata", repository.VariantInstance)
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	store := &countingStore{Store: inner}
	svc := New(store, 30, discardLogger()).WithClock(func() time.Time { return now })

	if _, err := svc.DashboardSummary(context.Background()); err != nil {
		t.Fatalf("DashboardSummary returned error: %v", err)
	}
	if store.services.Load() != 1 || store.instances.Load() != 1 || store.eventsSince.Load() != 1 {
		t.Fatalf("expected one read of each collection, got %d/%d/%d",
			store.services.Load(), store.instances.Load(), store.eventsSince.Load())
	}
	if store.other.Load() != 0 {
		t.Fatalf("expected no per-service reads, got %d", store.other.Load())
	}
}
