package domain

import "time"

// InstanceRef is the trimmed instance shape embedded in dashboard rows.
type InstanceRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Environment string `json:"environment"`
}

// CommitInfo describes the commit that triggered a deployment.
type CommitInfo struct {
	Message     string `json:"message,omitempty"`
	Author      string `json:"author,omitempty"`
	ShortCommit string `json:"shortCommit,omitempty"`
	Commit      string `json:"commit,omitempty"`
}

// ProdDeployment summarises the last production deployment of a service.
type ProdDeployment struct {
	ID           string           `json:"id"`
	CreatedAt    time.Time        `json:"created_at"`
	EventType    EventType        `json:"event_type"`
	Status       DeploymentStatus `json:"status"`
	BuildkiteURL string           `json:"buildkite_url,omitempty"`
	CommitInfo   *CommitInfo      `json:"commitInfo,omitempty"`
}

// RecentActivity is the latest event observed on a service's first instance.
type RecentActivity struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	EventType    EventType `json:"event_type"`
	DeploymentID string    `json:"deployment_id"`
	Environment  string    `json:"environment"`
}

// DeploymentCounts holds terminal deployment counts over a window.
type DeploymentCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ServiceSummary is one row of the dashboard overview.
type ServiceSummary struct {
	Service
	Instances       []InstanceRef    `json:"instances"`
	InstanceCount   int              `json:"instanceCount"`
	ProdDeployment  *ProdDeployment  `json:"prodDeployment"`
	RecentActivity  *RecentActivity  `json:"recentActivity"`
	DeploymentStats DeploymentCounts `json:"deploymentStats"`
}

// ServiceStats aggregates deployment figures for one service.
type ServiceStats struct {
	RecentDeployments      int            `json:"recentDeployments"`
	TotalDeployments       int            `json:"totalDeployments"`
	InstancesByEnvironment map[string]int `json:"instancesByEnvironment"`
}
