package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType tags the lifecycle stage an event reports.
type EventType string

const (
	EventDeploymentStarted   EventType = "deployment_started"
	EventDeploymentSucceeded EventType = "deployment_succeeded"
	EventDeploymentUpdated   EventType = "deployment_updated"
	EventDeploymentFailed    EventType = "deployment_failed"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventDeploymentStarted, EventDeploymentSucceeded, EventDeploymentUpdated, EventDeploymentFailed:
		return true
	}
	return false
}

// TerminalEventType returns the event type that ends an episode with
// status, or "" for a status that is not terminal.
func TerminalEventType(status DeploymentStatus) EventType {
	switch status {
	case StatusSucceeded:
		return EventDeploymentSucceeded
	case StatusFailed:
		return EventDeploymentFailed
	}
	return ""
}

// JobState is the CI job state reported alongside an event.
type JobState string

const (
	JobPassed        JobState = "passed"
	JobFailed        JobState = "failed"
	JobBroken        JobState = "broken"
	JobBlocked       JobState = "blocked"
	JobWaitingFailed JobState = "waiting_failed"
)

// Failing reports whether the job counts as failed for rollups.
func (s JobState) Failing() bool {
	switch s {
	case JobFailed, JobBroken, JobWaitingFailed:
		return true
	}
	return false
}

// UpdateType classifies a deployment_updated event.
type UpdateType string

const (
	UpdateTerraformPlan      UpdateType = "terraform_plan"
	UpdateTerraformApply     UpdateType = "terraform_apply"
	UpdateApprovalGranted    UpdateType = "approval_granted"
	UpdateWaitingForApproval UpdateType = "waiting_for_approval"
	UpdateServerlessDeploy   UpdateType = "serverless_deploy"
	UpdateOther              UpdateType = "other"
)

// EventData is the payload of an event. The concrete type is selected by
// the event type: StartedData, SucceededData, UpdatedData or FailedData.
type EventData interface {
	eventType() EventType
	// BuildURL returns the Buildkite build URL carried by the payload, if any.
	BuildURL() string
	// Job returns the job name and state carried by the payload, if any.
	Job() (string, JobState)
}

// JobInfo holds the job fields shared by every payload variant.
type JobInfo struct {
	JobName  string   `json:"job_name,omitempty" yaml:"job_name,omitempty"`
	JobState JobState `json:"job_state,omitempty" yaml:"job_state,omitempty"`
}

// Job implements EventData.
func (j JobInfo) Job() (string, JobState) {
	return j.JobName, j.JobState
}

// StartedData is the payload of deployment_started; it is the source of
// commit metadata for the whole episode.
type StartedData struct {
	BuildkiteBuildURL string `json:"buildkite_build_url"`
	PullRequestURL    string `json:"pull_request_url"`
	Commit            string `json:"commit"`
	CommitMessage     string `json:"commit_message"`
	CommitAuthor      string `json:"commit_author"`
	JobInfo
}

// SucceededData is the payload of deployment_succeeded.
type SucceededData struct {
	BuildkiteBuildURL string `json:"buildkite_build_url"`
	PlanOutput        string `json:"plan_output,omitempty"`
	ApplyOutput       string `json:"apply_output,omitempty"`
	JobInfo
}

// UpdatedData is the payload of deployment_updated. It never ends an episode.
type UpdatedData struct {
	UpdateType        UpdateType `json:"update_type"`
	BuildkiteBuildURL string     `json:"buildkite_build_url,omitempty"`
	PlanOutput        string     `json:"plan_output,omitempty"`
	ApplyOutput       string     `json:"apply_output,omitempty"`
	Approver          string     `json:"approver,omitempty"`
	ApprovalURL       string     `json:"approval_url,omitempty"`
	JobInfo
}

// FailedData is the payload of deployment_failed.
type FailedData struct {
	ErrorMessage      string `json:"error_message,omitempty"`
	BuildkiteBuildURL string `json:"buildkite_build_url,omitempty"`
	PlanOutput        string `json:"plan_output,omitempty"`
	ApplyOutput       string `json:"apply_output,omitempty"`
	ApprovalURL       string `json:"approval_url,omitempty"`
	JobInfo
}

func (StartedData) eventType() EventType   { return EventDeploymentStarted }
func (SucceededData) eventType() EventType { return EventDeploymentSucceeded }
func (UpdatedData) eventType() EventType   { return EventDeploymentUpdated }
func (FailedData) eventType() EventType    { return EventDeploymentFailed }

func (d StartedData) BuildURL() string   { return d.BuildkiteBuildURL }
func (d SucceededData) BuildURL() string { return d.BuildkiteBuildURL }
func (d UpdatedData) BuildURL() string   { return d.BuildkiteBuildURL }
func (d FailedData) BuildURL() string    { return d.BuildkiteBuildURL }

// Event is one lifecycle signal reported by the CI pipeline. InstanceID is
// always populated; DeploymentID is only set for the deployment schema.
type Event struct {
	ID           string
	InstanceID   string
	DeploymentID string
	Type         EventType
	Data         EventData
	CreatedAt    time.Time
}

// BuildURL returns the event's Buildkite build URL, or "" when absent.
func (e Event) BuildURL() string {
	if e.Data == nil {
		return ""
	}
	return strings.TrimSpace(e.Data.BuildURL())
}

// Started returns the start payload when the event is a deployment_started.
func (e Event) Started() (StartedData, bool) {
	data, ok := e.Data.(StartedData)
	return data, ok && e.Type == EventDeploymentStarted
}

type eventJSON struct {
	ID           string          `json:"id"`
	InstanceID   string          `json:"instance_id,omitempty"`
	DeploymentID string          `json:"deployment_id,omitempty"`
	Type         EventType       `json:"event_type"`
	Data         json.RawMessage `json:"event_data"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MarshalJSON encodes the event with its payload under event_data.
func (e Event) MarshalJSON() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = EmptyData(e.Type)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode event_data: %w", err)
	}
	return json.Marshal(eventJSON{
		ID:           e.ID,
		InstanceID:   e.InstanceID,
		DeploymentID: e.DeploymentID,
		Type:         e.Type,
		Data:         raw,
		CreatedAt:    e.CreatedAt.UTC(),
	})
}

// UnmarshalJSON decodes an event, tolerating malformed payloads.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	data, _ := DecodeEventData(raw.Type, raw.Data)
	*e = Event{
		ID:           raw.ID,
		InstanceID:   raw.InstanceID,
		DeploymentID: raw.DeploymentID,
		Type:         raw.Type,
		Data:         data,
		CreatedAt:    raw.CreatedAt,
	}
	return nil
}

// EmptyData returns the zero payload for an event type, or nil for unknown types.
func EmptyData(t EventType) EventData {
	switch t {
	case EventDeploymentStarted:
		return StartedData{}
	case EventDeploymentSucceeded:
		return SucceededData{}
	case EventDeploymentUpdated:
		return UpdatedData{}
	case EventDeploymentFailed:
		return FailedData{}
	}
	return nil
}

// DecodeEventData decodes raw into the payload variant selected by t.
//
// Decoding never fails hard. When the payload does not match the shape of
// its type, every field that can still be read is kept, the rest are left
// empty, and a *DataShapeError describes what was dropped.
func DecodeEventData(t EventType, raw []byte) (EventData, error) {
	if !t.Valid() {
		return nil, &DataShapeError{EventType: t, Err: fmt.Errorf("unknown event type %q", t)}
	}
	empty := EmptyData(t)
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return empty, nil
	}
	switch t {
	case EventDeploymentStarted:
		var d StartedData
		return decodeInto(t, trimmed, &d, func() EventData { return d })
	case EventDeploymentSucceeded:
		var d SucceededData
		return decodeInto(t, trimmed, &d, func() EventData { return d })
	case EventDeploymentUpdated:
		var d UpdatedData
		return decodeInto(t, trimmed, &d, func() EventData { return d })
	default:
		var d FailedData
		return decodeInto(t, trimmed, &d, func() EventData { return d })
	}
}

func decodeInto(t EventType, raw []byte, dst any, result func() EventData) (EventData, error) {
	err := json.Unmarshal(raw, dst)
	if err == nil {
		return result(), nil
	}
	// A type mismatch leaves the remaining fields decoded; keep them.
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return result(), &DataShapeError{EventType: t, Err: err}
	}
	return EmptyData(t), &DataShapeError{EventType: t, Err: err}
}
