package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/repository"
	"github.com/hysmio/deployments-dashboard/internal/repository/fixture"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	store, err := fixture.Load("../../repository/fixture/testdata", repository.VariantInstance)
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListByInstance(t *testing.T) {
	svc := newTestService(t)
	got, err := svc.ListByInstance(context.Background(), "inst-pay-prod")
	if err != nil {
		t.Fatalf("ListByInstance returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deployments, got %d", len(got))
	}
	if got[0].ID != "evt-4" || got[0].Status != domain.StatusFailed {
		t.Fatalf("expected newest failed deployment first, got %s %s", got[0].ID, got[0].Status)
	}
	if len(got[0].FailedJobs) != 1 || got[0].FailedJobs[0] != "apply" {
		t.Fatalf("expected failed job apply, got %v", got[0].FailedJobs)
	}
	if got[1].Status != domain.StatusSucceeded || len(got[1].Events) != 3 {
		t.Fatalf("unexpected older deployment: %+v", got[1])
	}
}

func TestListByInstanceUnknown(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.ListByInstance(context.Background(), "missing")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestListRequiresScope(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.List(context.Background(), Filter{})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestListByServiceAndEnvironment(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	all, err := svc.List(ctx, Filter{Service: "payments"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 payments deployments, got %d", len(all))
	}
	if all[0].ID != "evt-6" || all[0].Status != domain.StatusInProgress {
		t.Fatalf("expected in-progress dev deployment first, got %s %s", all[0].ID, all[0].Status)
	}

	prod, err := svc.List(ctx, Filter{Service: "payments", Environment: "prod"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(prod) != 2 {
		t.Fatalf("expected 2 prod deployments, got %d", len(prod))
	}

	if _, err := svc.List(ctx, Filter{Service: "nope"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found for unknown service, got %v", err)
	}
}

func TestGetAddsEnvironment(t *testing.T) {
	svc := newTestService(t)
	d, err := svc.Get(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if d.Environment != "prod" || d.Status != domain.StatusSucceeded {
		t.Fatalf("unexpected deployment: env=%s status=%s", d.Environment, d.Status)
	}
}

func TestGetUnknownInstanceEnvironment(t *testing.T) {
	store := fixture.New(repository.VariantInstance, fixture.Data{
		Events: []domain.Event{started("e1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), buildURL, "abc")},
	})
	svc := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d, err := svc.Get(context.Background(), "e1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if d.Environment != UnknownEnvironment {
		t.Fatalf("expected unknown environment, got %q", d.Environment)
	}
}

func TestGetStoredDeployment(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	done := base.Add(time.Minute)
	start := started("e1", base, "", "abc")
	start.DeploymentID = "dep-1"
	store := fixture.New(repository.VariantDeployment, fixture.Data{
		Instances:   []domain.Instance{{ID: "i1", Service: "api", Environment: "staging"}},
		Deployments: []domain.DeploymentRecord{{ID: "dep-1", InstanceID: "i1", Status: domain.StatusSucceeded, StartedAt: base, CompletedAt: &done}},
		Events:      []domain.Event{start},
	})
	svc := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	d, err := svc.Get(context.Background(), "dep-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if d.ID != "dep-1" || d.Environment != "staging" || d.Commit == nil {
		t.Fatalf("unexpected deployment: %+v", d)
	}
	if _, err := svc.Get(context.Background(), "dep-2"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeploymentSchemaListThenGet(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	start := started("e1", base, "", "abc")
	start.DeploymentID = "dep-1"
	done := succeeded("e2", base.Add(time.Minute), "")
	done.DeploymentID = "dep-1"
	store := fixture.New(repository.VariantDeployment, fixture.Data{
		Services:  []domain.Service{{Name: "api"}},
		Instances: []domain.Instance{{ID: "i1", Service: "api", Environment: "prod"}},
		Deployments: []domain.DeploymentRecord{
			{ID: "dep-1", InstanceID: "i1", Status: domain.StatusInProgress, StartedAt: base},
			{ID: "dep-2", InstanceID: "i1", Status: domain.StatusInProgress, StartedAt: base.Add(time.Hour)},
		},
		Events: []domain.Event{start, done},
	})
	svc := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	listed, err := svc.ListByInstance(ctx, "i1")
	if err != nil {
		t.Fatalf("ListByInstance returned error: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "dep-2" || listed[1].ID != "dep-1" {
		t.Fatalf("expected dep-2 then dep-1, got %+v", listed)
	}
	if listed[0].Status != domain.StatusInProgress || len(listed[0].Events) != 0 {
		t.Fatalf("expected event-less dep-2 in progress, got %+v", listed[0])
	}
	if listed[1].Status != domain.StatusSucceeded {
		t.Fatalf("expected dep-1 succeeded from its events, got %s", listed[1].Status)
	}

	byService, err := svc.ListByService(ctx, "api")
	if err != nil {
		t.Fatalf("ListByService returned error: %v", err)
	}
	if len(byService) != 2 {
		t.Fatalf("expected 2 deployments for api, got %d", len(byService))
	}

	for _, d := range listed {
		got, err := svc.Get(ctx, d.ID)
		if err != nil {
			t.Fatalf("Get(%q) returned error: %v", d.ID, err)
		}
		if got.ID != d.ID || got.Status != d.Status {
			t.Fatalf("Get(%q) = %s %s, listed as %s %s", d.ID, got.ID, got.Status, d.ID, d.Status)
		}
	}

	viaEvent, err := svc.Get(ctx, "e2")
	if err != nil {
		t.Fatalf("Get by event id returned error: %v", err)
	}
	if viaEvent.ID != "dep-1" {
		t.Fatalf("expected event e2 to resolve to dep-1, got %q", viaEvent.ID)
	}
}
