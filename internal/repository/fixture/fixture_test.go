package fixture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/repository"
)

func TestLoadReadsJSONAndYAML(t *testing.T) {
	store, err := Load("testdata", repository.VariantInstance)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	ctx := context.Background()

	services, _ := store.ListServices(ctx)
	if len(services) != 2 || services[0].Name != "payments" {
		t.Fatalf("unexpected services: %+v", services)
	}

	instances, _ := store.ListInstancesByService(ctx, "payments")
	if len(instances) != 2 {
		t.Fatalf("expected 2 payments instances, got %d", len(instances))
	}
	if instances[0].ID != "inst-pay-dev" {
		t.Fatalf("expected instances ordered by created_at, got %s first", instances[0].ID)
	}

	events, _ := store.ListEventsByInstance(ctx, "inst-pay-prod")
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[0].ID != "evt-5" {
		t.Fatalf("expected newest event first, got %s", events[0].ID)
	}
	started, ok := events[4].Started()
	if !ok || started.CommitMessage != "Add refunds" {
		t.Fatalf("expected decoded start payload, got %+v", events[4].Data)
	}
}

func TestLoadMissingSetFails(t *testing.T) {
	if _, err := Load(t.TempDir(), repository.VariantInstance); err == nil {
		t.Fatal("expected error for empty fixture directory")
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := New(repository.VariantInstance, Data{})
	if _, err := store.GetInstanceByID(context.Background(), "nope"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetEventByID(context.Background(), "nope"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeploymentVariantFillsInstanceFromDeployment(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	done := base.Add(10 * time.Minute)
	store := New(repository.VariantDeployment, Data{
		Deployments: []domain.DeploymentRecord{
			{ID: "dep-1", InstanceID: "inst-1", Status: domain.StatusSucceeded, StartedAt: base, CompletedAt: &done},
		},
		Events: []domain.Event{
			{ID: "e1", DeploymentID: "dep-1", Type: domain.EventDeploymentStarted, Data: domain.StartedData{}, CreatedAt: base},
		},
	})

	events, _ := store.ListEventsByInstance(context.Background(), "inst-1")
	if len(events) != 1 || events[0].InstanceID != "inst-1" {
		t.Fatalf("expected event attributed to inst-1, got %+v", events)
	}

	rows, _ := store.ListDeploymentsByInstance(context.Background(), "inst-1")
	if len(rows) != 1 || rows[0].ID != "dep-1" {
		t.Fatalf("expected dep-1 stored for inst-1, got %+v", rows)
	}
	if rows, _ := store.ListDeploymentsByInstance(context.Background(), "inst-2"); len(rows) != 0 {
		t.Fatalf("expected no rows for inst-2, got %+v", rows)
	}
}

func TestCountDeploymentsByStatusResolvesFromEvents(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	done := base.Add(10 * time.Minute)
	old := base.Add(-60 * 24 * time.Hour)
	store := New(repository.VariantDeployment, Data{
		Deployments: []domain.DeploymentRecord{
			// Stored as in-progress, but its events end in success then failure
			// at the same instant.
			{ID: "dep-1", InstanceID: "inst-1", Status: domain.StatusInProgress, StartedAt: base},
			// No events: the stored columns decide.
			{ID: "dep-2", InstanceID: "inst-1", Status: domain.StatusSucceeded, StartedAt: base, CompletedAt: &done},
			{ID: "dep-3", InstanceID: "inst-1", Status: domain.StatusSucceeded, StartedAt: old, CompletedAt: &old},
		},
		Events: []domain.Event{
			{ID: "e1", DeploymentID: "dep-1", Type: domain.EventDeploymentStarted, Data: domain.StartedData{}, CreatedAt: base},
			{ID: "e2", DeploymentID: "dep-1", Type: domain.EventDeploymentSucceeded, Data: domain.SucceededData{}, CreatedAt: done},
			{ID: "e3", DeploymentID: "dep-1", Type: domain.EventDeploymentFailed, Data: domain.FailedData{}, CreatedAt: done},
		},
	}).WithClock(func() time.Time { return base.Add(time.Hour) })
	ctx := context.Background()
	since := base.Add(-24 * time.Hour)

	if n, _ := store.CountDeploymentsByStatusSince(ctx, []string{"inst-1"}, domain.StatusFailed, since); n != 1 {
		t.Fatalf("expected dep-1 counted as failed, got %d", n)
	}
	if n, _ := store.CountDeploymentsByStatusSince(ctx, []string{"inst-1"}, domain.StatusSucceeded, since); n != 1 {
		t.Fatalf("expected only dep-2 counted as succeeded, got %d", n)
	}
	if n, _ := store.CountDeploymentsByStatusSince(ctx, []string{"inst-2"}, domain.StatusSucceeded, since); n != 0 {
		t.Fatalf("expected nothing for inst-2, got %d", n)
	}

	recent, _ := store.ListLatestDeploymentsSince(ctx, since)
	if len(recent) != 2 {
		t.Fatalf("expected dep-1 and dep-2 active since the cutoff, got %+v", recent)
	}
	for _, r := range recent {
		if r.HasEvents != (r.ID == "dep-1") {
			t.Fatalf("unexpected HasEvents on %s: %v", r.ID, r.HasEvents)
		}
	}
}
