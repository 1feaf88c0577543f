package repository

import "github.com/hysmio/deployments-dashboard/internal/domain"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = domain.ErrNotFound
