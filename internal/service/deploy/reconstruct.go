package deploy

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/repository"
)

// GroupingKey maps an event to the episode it belongs to. Events without a
// key belong to no episode.
type GroupingKey func(domain.Event) (string, bool)

// ByBuildURL groups events of the instance schema by Buildkite build URL.
func ByBuildURL(e domain.Event) (string, bool) {
	url := e.BuildURL()
	return url, url != ""
}

// ByDeploymentID groups events of the deployment schema by deployment row.
func ByDeploymentID(e domain.Event) (string, bool) {
	id := strings.TrimSpace(e.DeploymentID)
	return id, id != ""
}

// GroupingFor returns the grouping key of a schema variant.
func GroupingFor(variant repository.Variant) GroupingKey {
	if variant == repository.VariantDeployment {
		return ByDeploymentID
	}
	return ByBuildURL
}

var (
	metricsOnce   sync.Once
	reconstructed *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		reconstructed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dashboard",
			Subsystem: "deploy",
			Name:      "reconstructed_total",
			Help:      "Deployment episodes reconstructed from events by status",
		}, []string{"status"})
		if err := prometheus.Register(reconstructed); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					reconstructed = existing
				}
			}
		}
	})
}

// Reconstruct groups events into deployment episodes. The result is ordered
// by start time, newest first, and does not depend on the input order.
func Reconstruct(events []domain.Event, key GroupingKey) []domain.Deployment {
	initMetrics()

	groups := make(map[string][]domain.Event)
	order := make([]string, 0)
	for _, e := range events {
		k, ok := key(e)
		if !ok {
			continue
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	deployments := make([]domain.Deployment, 0, len(groups))
	for _, k := range order {
		d := assemble(k, groups[k])
		reconstructed.WithLabelValues(string(d.Status)).Inc()
		deployments = append(deployments, d)
	}
	SortDeployments(deployments)
	return deployments
}

// SortDeployments orders deployments by start time, newest first, ties by id.
func SortDeployments(deployments []domain.Deployment) {
	sort.Slice(deployments, func(i, j int) bool {
		a, b := deployments[i], deployments[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.After(b.StartTime)
		}
		return a.ID > b.ID
	})
}

// SortEvents orders events by created_at ascending, ties by id.
func SortEvents(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// assemble builds one episode from the events sharing a grouping key. An
// episode keyed by its deployment row takes the row id; otherwise it takes
// the id of its start event, or of its earliest event when it never started.
func assemble(key string, group []domain.Event) domain.Deployment {
	events := append([]domain.Event(nil), group...)
	SortEvents(events)

	var (
		start     *domain.Event
		succeeded *domain.Event
		failed    *domain.Event
		buildURL  string
		instance  string
	)
	failedJobs := make([]string, 0)
	seenJobs := make(map[string]struct{})

	for i := range events {
		e := &events[i]
		switch e.Type {
		case domain.EventDeploymentStarted:
			// Duplicate starts keep the earliest one.
			if start == nil {
				start = e
			}
		case domain.EventDeploymentSucceeded:
			succeeded = e
		case domain.EventDeploymentFailed:
			failed = e
		}
		if buildURL == "" {
			buildURL = e.BuildURL()
		}
		if instance == "" {
			instance = e.InstanceID
		}
		if e.Data != nil {
			name, state := e.Data.Job()
			name = strings.TrimSpace(name)
			if name != "" && state.Failing() {
				if _, dup := seenJobs[name]; !dup {
					seenJobs[name] = struct{}{}
					failedJobs = append(failedJobs, name)
				}
			}
		}
	}

	d := domain.Deployment{
		ID:                events[0].ID,
		InstanceID:        instance,
		BuildkiteBuildURL: buildURL,
		StartTime:         events[0].CreatedAt,
		Status:            domain.StatusInProgress,
		FailedJobs:        failedJobs,
		Events:            events,
	}
	if start != nil {
		d.ID = start.ID
		d.StartTime = start.CreatedAt
		if data, ok := start.Started(); ok {
			d.Commit = optional(data.Commit)
			d.CommitMessage = optional(data.CommitMessage)
			d.CommitAuthor = optional(data.CommitAuthor)
		}
	}
	if key == strings.TrimSpace(events[0].DeploymentID) {
		d.ID = key
	}

	if terminal := laterTerminal(succeeded, failed); terminal != nil {
		end := terminal.CreatedAt
		d.EndTime = &end
		if terminal.Type == domain.EventDeploymentFailed {
			d.Status = domain.StatusFailed
		} else {
			d.Status = domain.StatusSucceeded
		}
	}
	return d
}

// laterTerminal picks the chronologically last completion. A failure wins an
// exact timestamp tie.
func laterTerminal(succeeded, failed *domain.Event) *domain.Event {
	switch {
	case succeeded == nil:
		return failed
	case failed == nil:
		return succeeded
	case succeeded.CreatedAt.After(failed.CreatedAt):
		return succeeded
	default:
		return failed
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// FromRecord reports a stored row with no events by its stored state.
func FromRecord(record domain.DeploymentRecord) domain.Deployment {
	d := domain.Deployment{
		ID:         record.ID,
		InstanceID: record.InstanceID,
		StartTime:  record.StartedAt,
		Status:     record.Status,
		FailedJobs: []string{},
		Events:     []domain.Event{},
	}
	if record.Status.Terminal() {
		d.EndTime = record.CompletedAt
	} else {
		d.Status = domain.StatusInProgress
	}
	return d
}

// MergeRecords adds the stored rows that have no events to deployments
// reconstructed from events, keeping the newest-first order. Rows with
// events are already represented by their episodes.
func MergeRecords(deployments []domain.Deployment, records []domain.DeploymentRecord) []domain.Deployment {
	seen := make(map[string]struct{}, len(deployments))
	for _, d := range deployments {
		seen[d.ID] = struct{}{}
	}
	added := false
	for _, record := range records {
		if record.HasEvents {
			continue
		}
		if _, ok := seen[record.ID]; ok {
			continue
		}
		seen[record.ID] = struct{}{}
		deployments = append(deployments, FromRecord(record))
		added = true
	}
	if added {
		SortDeployments(deployments)
	}
	return deployments
}

// FilterByEnvironment keeps the deployments whose instance is in env.
func FilterByEnvironment(deployments []domain.Deployment, instances []domain.Instance, env string) []domain.Deployment {
	allowed := make(map[string]struct{})
	for _, in := range instances {
		if in.Environment == env {
			allowed[in.ID] = struct{}{}
		}
	}
	out := make([]domain.Deployment, 0, len(deployments))
	for _, d := range deployments {
		if _, ok := allowed[d.InstanceID]; ok {
			out = append(out, d)
		}
	}
	return out
}

// TerminalWithin reports whether the deployment finished inside [from, to].
func TerminalWithin(d domain.Deployment, from, to time.Time) bool {
	end, ok := d.TerminalTime()
	if !ok {
		return false
	}
	return !end.Before(from) && !end.After(to)
}
