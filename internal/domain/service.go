package domain

import "time"

// Service is a deployable codebase tracked by the dashboard.
type Service struct {
	Name      string    `json:"name" yaml:"name"`
	RepoURL   string    `json:"repo_url" yaml:"repo_url"`
	RepoPath  string    `json:"repo_path" yaml:"repo_path"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Instance is one deployment target of a service, usually one per environment.
type Instance struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Service     string    `json:"service" yaml:"service"`
	Environment string    `json:"environment" yaml:"environment"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// ProductionEnvironment is the environment name used for production instances.
const ProductionEnvironment = "prod"

// IsProduction reports whether the instance runs in production.
func (i Instance) IsProduction() bool {
	return i.Environment == ProductionEnvironment
}
