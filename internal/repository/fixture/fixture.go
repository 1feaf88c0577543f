// Package fixture serves the dashboard read model from JSON or YAML files.
// It backs local development without a database and the service tests.
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/repository"
)

// Store is an immutable in-memory repository.
type Store struct {
	variant     repository.Variant
	services    []domain.Service
	instances   []domain.Instance
	events      []domain.Event
	deployments []domain.DeploymentRecord
	now         func() time.Time
}

var _ repository.Store = (*Store)(nil)

// Data is the content of a fixture set.
type Data struct {
	Services    []domain.Service
	Instances   []domain.Instance
	Events      []domain.Event
	Deployments []domain.DeploymentRecord
}

// New builds a Store from in-memory data.
func New(variant repository.Variant, data Data) *Store {
	s := &Store{
		variant:     variant,
		services:    append([]domain.Service(nil), data.Services...),
		instances:   append([]domain.Instance(nil), data.Instances...),
		events:      append([]domain.Event(nil), data.Events...),
		deployments: append([]domain.DeploymentRecord(nil), data.Deployments...),
		now:         time.Now,
	}

	owner := make(map[string]string, len(s.deployments))
	for _, d := range s.deployments {
		owner[d.ID] = d.InstanceID
	}
	withEvents := make(map[string]bool)
	for i := range s.events {
		if s.events[i].InstanceID == "" && s.events[i].DeploymentID != "" {
			s.events[i].InstanceID = owner[s.events[i].DeploymentID]
		}
		withEvents[s.events[i].DeploymentID] = true
	}
	for i := range s.deployments {
		s.deployments[i].HasEvents = withEvents[s.deployments[i].ID]
	}

	sort.SliceStable(s.services, func(i, j int) bool { return s.services[i].Name < s.services[j].Name })
	sort.SliceStable(s.instances, func(i, j int) bool {
		a, b := s.instances[i], s.instances[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	sort.SliceStable(s.events, func(i, j int) bool {
		a, b := s.events[i], s.events[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	sort.SliceStable(s.deployments, func(i, j int) bool {
		return s.deployments[i].StartedAt.After(s.deployments[j].StartedAt)
	})
	return s
}

// WithClock replaces the clock that bounds status counts.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Load reads services, instances, events and optional deployments from dir.
// Each set may be stored as <name>.json, <name>.yaml or <name>.yml.
func Load(dir string, variant repository.Variant) (*Store, error) {
	var data Data
	if err := readSet(dir, "services", &data.Services, true); err != nil {
		return nil, err
	}
	if err := readSet(dir, "instances", &data.Instances, true); err != nil {
		return nil, err
	}
	if err := readSet(dir, "events", &data.Events, true); err != nil {
		return nil, err
	}
	if err := readSet(dir, "deployments", &data.Deployments, false); err != nil {
		return nil, err
	}
	return New(variant, data), nil
}

func readSet(dir, name string, dst any, required bool) error {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(dir, name+ext)
		raw, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if ext != ".json" {
			if raw, err = yamlToJSON(raw); err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}
	if required {
		return fmt.Errorf("fixture %s not found in %s", name, dir)
	}
	return nil
}

// yamlToJSON re-encodes a YAML document as JSON so the JSON decoders of the
// domain types apply unchanged.
func yamlToJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// Variant reports the schema variant served.
func (s *Store) Variant() repository.Variant { return s.variant }

// ListServices returns all services ordered by name.
func (s *Store) ListServices(_ context.Context) ([]domain.Service, error) {
	return append([]domain.Service{}, s.services...), nil
}

// GetServiceByName fetches one service.
func (s *Store) GetServiceByName(_ context.Context, name string) (*domain.Service, error) {
	for _, svc := range s.services {
		if svc.Name == name {
			out := svc
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ListInstances returns all instances.
func (s *Store) ListInstances(_ context.Context) ([]domain.Instance, error) {
	return append([]domain.Instance{}, s.instances...), nil
}

// ListInstancesByService returns the instances of one service.
func (s *Store) ListInstancesByService(_ context.Context, service string) ([]domain.Instance, error) {
	out := make([]domain.Instance, 0)
	for _, in := range s.instances {
		if in.Service == service {
			out = append(out, in)
		}
	}
	return out, nil
}

// GetInstanceByID fetches one instance.
func (s *Store) GetInstanceByID(_ context.Context, id string) (*domain.Instance, error) {
	for _, in := range s.instances {
		if in.ID == id {
			out := in
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ListEventsByInstance returns the events of an instance, newest first.
func (s *Store) ListEventsByInstance(_ context.Context, instanceID string) ([]domain.Event, error) {
	return s.filterEvents(func(e domain.Event) bool { return e.InstanceID == instanceID }), nil
}

// ListEventsByDeployment returns the events of a stored deployment.
func (s *Store) ListEventsByDeployment(_ context.Context, deploymentID string) ([]domain.Event, error) {
	if s.variant != repository.VariantDeployment {
		return []domain.Event{}, nil
	}
	return s.filterEvents(func(e domain.Event) bool { return e.DeploymentID == deploymentID }), nil
}

// ListEventsSince returns events created after since.
func (s *Store) ListEventsSince(_ context.Context, since time.Time) ([]domain.Event, error) {
	return s.filterEvents(func(e domain.Event) bool { return e.CreatedAt.After(since) }), nil
}

// ListEventsSinceForInstances returns events of the given instances created after since.
func (s *Store) ListEventsSinceForInstances(_ context.Context, instanceIDs []string, since time.Time) ([]domain.Event, error) {
	wanted := toSet(instanceIDs)
	return s.filterEvents(func(e domain.Event) bool {
		_, ok := wanted[e.InstanceID]
		return ok && e.CreatedAt.After(since)
	}), nil
}

// GetEventByID fetches one event.
func (s *Store) GetEventByID(_ context.Context, id string) (*domain.Event, error) {
	for _, e := range s.events {
		if e.ID == id {
			out := e
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) filterEvents(keep func(domain.Event) bool) []domain.Event {
	out := make([]domain.Event, 0)
	for _, e := range s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// ListDeploymentsByInstance returns stored deployments of an instance, newest first.
func (s *Store) ListDeploymentsByInstance(_ context.Context, instanceID string) ([]domain.DeploymentRecord, error) {
	out := make([]domain.DeploymentRecord, 0)
	for _, d := range s.deployments {
		if d.InstanceID == instanceID {
			out = append(out, d)
		}
	}
	return out, nil
}

// ListLatestDeploymentsSince returns stored deployments whose latest
// activity, completion or else start, is at or after since.
func (s *Store) ListLatestDeploymentsSince(_ context.Context, since time.Time) ([]domain.DeploymentRecord, error) {
	out := make([]domain.DeploymentRecord, 0)
	for _, d := range s.deployments {
		latest := d.StartedAt
		if d.CompletedAt != nil {
			latest = *d.CompletedAt
		}
		if !latest.Before(since) {
			out = append(out, d)
		}
	}
	return out, nil
}

// CountDeploymentsByStatusSince counts the deployments of the given
// instances that finished with status between since and now. A row with
// events takes the status of its latest terminal event, a failure winning a
// timestamp tie; a row without events keeps its stored status.
func (s *Store) CountDeploymentsByStatusSince(_ context.Context, instanceIDs []string, status domain.DeploymentStatus, since time.Time) (int, error) {
	if !status.Terminal() {
		return 0, nil
	}
	wanted := toSet(instanceIDs)
	now := s.now()
	count := 0
	for _, d := range s.deployments {
		if _, ok := wanted[d.InstanceID]; !ok {
			continue
		}
		got, at, ok := s.resolvedStatus(d)
		if !ok || got != status || at.Before(since) || at.After(now) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) resolvedStatus(d domain.DeploymentRecord) (domain.DeploymentStatus, time.Time, bool) {
	if !d.HasEvents {
		if !d.Status.Terminal() || d.CompletedAt == nil {
			return "", time.Time{}, false
		}
		return d.Status, *d.CompletedAt, true
	}
	var last *domain.Event
	for i := range s.events {
		e := &s.events[i]
		if e.DeploymentID != d.ID {
			continue
		}
		if e.Type != domain.EventDeploymentSucceeded && e.Type != domain.EventDeploymentFailed {
			continue
		}
		if last == nil || e.CreatedAt.After(last.CreatedAt) ||
			(e.CreatedAt.Equal(last.CreatedAt) && e.Type == domain.EventDeploymentFailed) {
			last = e
		}
	}
	if last == nil {
		return "", time.Time{}, false
	}
	if last.Type == domain.EventDeploymentFailed {
		return domain.StatusFailed, last.CreatedAt, true
	}
	return domain.StatusSucceeded, last.CreatedAt, true
}

// GetDeploymentByID fetches one stored deployment.
func (s *Store) GetDeploymentByID(_ context.Context, id string) (*domain.DeploymentRecord, error) {
	for _, d := range s.deployments {
		if d.ID == id {
			out := d
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[strings.TrimSpace(id)] = struct{}{}
	}
	return set
}
