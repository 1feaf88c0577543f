package domain

import "time"

// DeploymentStatus is the resolved state of a deployment episode.
type DeploymentStatus string

const (
	StatusSucceeded  DeploymentStatus = "succeeded"
	StatusFailed     DeploymentStatus = "failed"
	StatusInProgress DeploymentStatus = "in-progress"
)

// Terminal reports whether the status ends an episode.
func (s DeploymentStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Deployment is one reconstructed build/deploy episode of an instance.
type Deployment struct {
	ID                string           `json:"id"`
	InstanceID        string           `json:"instance_id"`
	BuildkiteBuildURL string           `json:"buildkite_build_url"`
	Commit            *string          `json:"commit,omitempty"`
	CommitMessage     *string          `json:"commit_message,omitempty"`
	CommitAuthor      *string          `json:"commit_author,omitempty"`
	StartTime         time.Time        `json:"start_time"`
	EndTime           *time.Time       `json:"end_time,omitempty"`
	Status            DeploymentStatus `json:"status"`
	FailedJobs        []string         `json:"failed_jobs"`
	Events            []Event          `json:"events"`
	Environment       string           `json:"environment,omitempty"`
}

// TerminalTime returns the end time of a finished episode.
func (d Deployment) TerminalTime() (time.Time, bool) {
	if !d.Status.Terminal() || d.EndTime == nil {
		return time.Time{}, false
	}
	return *d.EndTime, true
}

// LatestEvent returns the most recent event of the episode.
func (d Deployment) LatestEvent() (Event, bool) {
	if len(d.Events) == 0 {
		return Event{}, false
	}
	return d.Events[len(d.Events)-1], true
}

// DeploymentRecord is a stored deployment row of the deployment schema.
// HasEvents is derived by the store: a row with events is reported through
// its reconstructed episode, a row without events by its stored columns.
type DeploymentRecord struct {
	ID          string           `json:"id"`
	InstanceID  string           `json:"instance_id"`
	Status      DeploymentStatus `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	HasEvents   bool             `json:"-" yaml:"-"`
}
