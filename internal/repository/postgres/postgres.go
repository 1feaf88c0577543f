package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/repository"
)

// Repository implements the read interfaces on PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	variant repository.Variant
	logger  *slog.Logger
	events  eventQueries
}

// New constructs a Repository for the given schema variant.
func New(pool *pgxpool.Pool, variant repository.Variant, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		pool:    pool,
		variant: variant,
		logger:  logger,
		events:  queriesFor(variant),
	}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ServiceRepository    = (*Repository)(nil)
	_ repository.InstanceRepository   = (*Repository)(nil)
	_ repository.EventRepository      = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.Store                = (*Repository)(nil)
)

// Variant reports the schema variant the repository reads.
func (r *Repository) Variant() repository.Variant {
	return r.variant
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ListServices returns every service ordered by name.
func (r *Repository) ListServices(ctx context.Context) ([]domain.Service, error) {
	const query = `SELECT name, repo_url, repo_path, created_at FROM api_service ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := make([]domain.Service, 0)
	for rows.Next() {
		var s domain.Service
		if err := rows.Scan(&s.Name, &s.RepoURL, &s.RepoPath, &s.CreatedAt); err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

// GetServiceByName fetches one service.
func (r *Repository) GetServiceByName(ctx context.Context, name string) (*domain.Service, error) {
	const query = `SELECT name, repo_url, repo_path, created_at FROM api_service WHERE name = $1`
	var s domain.Service
	if err := r.pool.QueryRow(ctx, query, name).Scan(&s.Name, &s.RepoURL, &s.RepoPath, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

const instanceColumns = `id, name, service, environment, created_at`

// ListInstances returns every instance.
func (r *Repository) ListInstances(ctx context.Context) ([]domain.Instance, error) {
	const query = `SELECT ` + instanceColumns + ` FROM api_service_instance ORDER BY created_at, id`
	return r.queryInstances(ctx, query)
}

// ListInstancesByService returns the instances of one service.
func (r *Repository) ListInstancesByService(ctx context.Context, service string) ([]domain.Instance, error) {
	const query = `SELECT ` + instanceColumns + ` FROM api_service_instance WHERE service = $1 ORDER BY created_at, id`
	return r.queryInstances(ctx, query, service)
}

// GetInstanceByID fetches one instance.
func (r *Repository) GetInstanceByID(ctx context.Context, id string) (*domain.Instance, error) {
	const query = `SELECT ` + instanceColumns + ` FROM api_service_instance WHERE id = $1`
	var in domain.Instance
	if err := r.pool.QueryRow(ctx, query, id).Scan(&in.ID, &in.Name, &in.Service, &in.Environment, &in.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &in, nil
}

func (r *Repository) queryInstances(ctx context.Context, query string, args ...any) ([]domain.Instance, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := make([]domain.Instance, 0)
	for rows.Next() {
		var in domain.Instance
		if err := rows.Scan(&in.ID, &in.Name, &in.Service, &in.Environment, &in.CreatedAt); err != nil {
			return nil, err
		}
		instances = append(instances, in)
	}
	return instances, rows.Err()
}

// eventQueries holds the SQL for one schema variant. Every statement selects
// id, instance_id, deployment_id, event_type, event_data, created_at.
type eventQueries struct {
	byInstance       string
	byDeployment     string
	since            string
	sinceForInstance string
	byID             string
}

func queriesFor(variant repository.Variant) eventQueries {
	if variant == repository.VariantDeployment {
		const base = `SELECT e.id, d.instance_id, e.deployment_id, e.event_type, e.event_data, e.created_at
			FROM api_service_instance_deployment_event e
			INNER JOIN api_service_instance_deployment d ON d.id = e.deployment_id`
		return eventQueries{
			byInstance:       base + ` WHERE d.instance_id = $1 ORDER BY e.created_at DESC, e.id DESC`,
			byDeployment:     base + ` WHERE e.deployment_id = $1 ORDER BY e.created_at DESC, e.id DESC`,
			since:            base + ` WHERE e.created_at > $1 ORDER BY e.created_at DESC, e.id DESC`,
			sinceForInstance: base + ` WHERE d.instance_id = ANY($1) AND e.created_at > $2 ORDER BY e.created_at DESC, e.id DESC`,
			byID:             base + ` WHERE e.id = $1`,
		}
	}
	const base = `SELECT id, instance_id, '' AS deployment_id, event_type, event_data, created_at
		FROM api_service_instance_event`
	return eventQueries{
		byInstance:       base + ` WHERE instance_id = $1 ORDER BY created_at DESC, id DESC`,
		since:            base + ` WHERE created_at > $1 ORDER BY created_at DESC, id DESC`,
		sinceForInstance: base + ` WHERE instance_id = ANY($1) AND created_at > $2 ORDER BY created_at DESC, id DESC`,
		byID:             base + ` WHERE id = $1`,
	}
}

// ListEventsByInstance returns all events of an instance, newest first.
func (r *Repository) ListEventsByInstance(ctx context.Context, instanceID string) ([]domain.Event, error) {
	return r.queryEvents(ctx, r.events.byInstance, instanceID)
}

// ListEventsByDeployment returns the events of a stored deployment. The
// instance schema has no deployment rows and yields no events.
func (r *Repository) ListEventsByDeployment(ctx context.Context, deploymentID string) ([]domain.Event, error) {
	if r.events.byDeployment == "" {
		return []domain.Event{}, nil
	}
	return r.queryEvents(ctx, r.events.byDeployment, deploymentID)
}

// ListEventsSince returns every event created after since.
func (r *Repository) ListEventsSince(ctx context.Context, since time.Time) ([]domain.Event, error) {
	return r.queryEvents(ctx, r.events.since, since)
}

// ListEventsSinceForInstances returns events of the given instances created after since.
func (r *Repository) ListEventsSinceForInstances(ctx context.Context, instanceIDs []string, since time.Time) ([]domain.Event, error) {
	if len(instanceIDs) == 0 {
		return []domain.Event{}, nil
	}
	return r.queryEvents(ctx, r.events.sinceForInstance, instanceIDs, since)
}

// GetEventByID fetches one event.
func (r *Repository) GetEventByID(ctx context.Context, id string) (*domain.Event, error) {
	events, err := r.queryEvents(ctx, r.events.byID, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, repository.ErrNotFound
	}
	return &events[0], nil
}

func (r *Repository) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			ev   domain.Event
			raw  []byte
			kind string
		)
		if err := rows.Scan(&ev.ID, &ev.InstanceID, &ev.DeploymentID, &kind, &raw, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = domain.EventType(kind)
		data, decodeErr := domain.DecodeEventData(ev.Type, raw)
		if decodeErr != nil {
			r.logger.Debug("event data shape mismatch", "event_id", ev.ID, "event_type", kind, "error", decodeErr)
		}
		ev.Data = data
		events = append(events, ev)
	}
	return events, rows.Err()
}

const deploymentColumns = `d.id, d.instance_id, d.status, d.started_at, d.completed_at,
	EXISTS (SELECT 1 FROM api_service_instance_deployment_event e WHERE e.deployment_id = d.id) AS has_events`

// ListDeploymentsByInstance returns stored deployments of an instance, newest first.
func (r *Repository) ListDeploymentsByInstance(ctx context.Context, instanceID string) ([]domain.DeploymentRecord, error) {
	if r.variant != repository.VariantDeployment {
		return []domain.DeploymentRecord{}, nil
	}
	const query = `SELECT ` + deploymentColumns + ` FROM api_service_instance_deployment d
		WHERE d.instance_id = $1 ORDER BY d.started_at DESC, d.id DESC`
	return r.queryDeployments(ctx, query, instanceID)
}

// ListLatestDeploymentsSince returns stored deployments whose latest
// activity, completion or else start, is at or after since.
func (r *Repository) ListLatestDeploymentsSince(ctx context.Context, since time.Time) ([]domain.DeploymentRecord, error) {
	if r.variant != repository.VariantDeployment {
		return []domain.DeploymentRecord{}, nil
	}
	const query = `SELECT ` + deploymentColumns + ` FROM api_service_instance_deployment d
		WHERE COALESCE(d.completed_at, d.started_at) >= $1 ORDER BY d.started_at DESC, d.id DESC`
	return r.queryDeployments(ctx, query, since)
}

// GetDeploymentByID fetches one stored deployment.
func (r *Repository) GetDeploymentByID(ctx context.Context, id string) (*domain.DeploymentRecord, error) {
	if r.variant != repository.VariantDeployment {
		return nil, repository.ErrNotFound
	}
	const query = `SELECT ` + deploymentColumns + ` FROM api_service_instance_deployment d WHERE d.id = $1`
	found, err := r.queryDeployments(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, repository.ErrNotFound
	}
	return &found[0], nil
}

// countByStatusQuery counts episodes by the status their events resolve to:
// the latest terminal event wins and a failure wins a timestamp tie. Rows
// without events are counted by their stored status and completion time.
const countByStatusQuery = `
WITH terminal AS (
	SELECT DISTINCT ON (e.deployment_id) e.deployment_id, e.event_type, e.created_at
	FROM api_service_instance_deployment_event e
	INNER JOIN api_service_instance_deployment d ON d.id = e.deployment_id
	WHERE d.instance_id = ANY($1)
		AND e.event_type IN ('deployment_succeeded', 'deployment_failed')
	ORDER BY e.deployment_id, e.created_at DESC, (e.event_type = 'deployment_failed') DESC, e.id DESC
)
SELECT
	(SELECT COUNT(1) FROM terminal
		WHERE event_type = $2 AND created_at >= $4 AND created_at <= now())
	+ (SELECT COUNT(1) FROM api_service_instance_deployment d
		WHERE d.instance_id = ANY($1) AND d.status = $3
			AND d.completed_at >= $4 AND d.completed_at <= now()
			AND NOT EXISTS (SELECT 1 FROM api_service_instance_deployment_event e WHERE e.deployment_id = d.id))`

// CountDeploymentsByStatusSince counts the deployments of the given
// instances that finished with status at or after since.
func (r *Repository) CountDeploymentsByStatusSince(ctx context.Context, instanceIDs []string, status domain.DeploymentStatus, since time.Time) (int, error) {
	if r.variant != repository.VariantDeployment || len(instanceIDs) == 0 || !status.Terminal() {
		return 0, nil
	}
	var count int
	err := r.pool.QueryRow(ctx, countByStatusQuery, instanceIDs, string(domain.TerminalEventType(status)), string(status), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count deployments: %w", err)
	}
	return count, nil
}

func (r *Repository) queryDeployments(ctx context.Context, query string, args ...any) ([]domain.DeploymentRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.DeploymentRecord, 0)
	for rows.Next() {
		var (
			d      domain.DeploymentRecord
			status string
		)
		if err := rows.Scan(&d.ID, &d.InstanceID, &status, &d.StartedAt, &d.CompletedAt, &d.HasEvents); err != nil {
			return nil, err
		}
		d.Status = domain.DeploymentStatus(status)
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}
