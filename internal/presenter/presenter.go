// Package presenter shapes reconstructed deployments into API payloads.
package presenter

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/hysmio/deployments-dashboard/internal/domain"
)

// Defaults for PageParams.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ShortCommitLength is the number of characters shown for a commit hash.
const ShortCommitLength = 7

// Page is one slice of a listing.
type Page[T any] struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
	Data       []T `json:"data"`
}

// Paginate returns page (1-based) of items.
func Paginate[T any](items []T, page, limit int) Page[T] {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	total := len(items)
	// Offsets are bounded by comparison against total, never by a product
	// or sum that could overflow.
	start := total
	if page-1 <= total/limit {
		start = (page - 1) * limit
	}
	end := total
	if limit < total-start {
		end = start + limit
	}
	data := make([]T, end-start)
	copy(data, items[start:end])
	return Page[T]{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		Data:       data,
	}
}

// PageParams bounds the page size accepted from a query string. Zero
// fields use the package defaults.
type PageParams struct {
	DefaultLimit int
	MaxLimit     int
}

// Parse reads page and limit from a query string.
func (p PageParams) Parse(values url.Values) (page, limit int, err error) {
	defLimit, maxLimit := p.DefaultLimit, p.MaxLimit
	if defLimit < 1 {
		defLimit = DefaultLimit
	}
	if maxLimit < 1 {
		maxLimit = MaxLimit
	}
	page, err = positiveInt(values.Get("page"), DefaultPage, "page")
	if err != nil {
		return 0, 0, err
	}
	limit, err = positiveInt(values.Get("limit"), defLimit, "limit")
	if err != nil {
		return 0, 0, err
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, nil
}

func positiveInt(raw string, fallback int, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, domain.Invalid(field, "must be a positive integer")
	}
	return n, nil
}

// FilterByBuildURL keeps deployments of one Buildkite build. An empty url
// keeps everything.
func FilterByBuildURL(deployments []domain.Deployment, buildURL string) []domain.Deployment {
	buildURL = strings.TrimSpace(buildURL)
	if buildURL == "" {
		return deployments
	}
	out := make([]domain.Deployment, 0)
	for _, d := range deployments {
		if d.BuildkiteBuildURL == buildURL {
			out = append(out, d)
		}
	}
	return out
}

// ProdDeployment summarises a production deployment for the dashboard,
// anchored on its completion event, or its latest event while in progress.
func ProdDeployment(d *domain.Deployment) *domain.ProdDeployment {
	if d == nil {
		return nil
	}
	out := &domain.ProdDeployment{
		ID:           d.ID,
		CreatedAt:    d.StartTime,
		Status:       d.Status,
		BuildkiteURL: d.BuildkiteBuildURL,
	}
	if anchor, ok := anchorEvent(*d); ok {
		out.CreatedAt = anchor.CreatedAt
		out.EventType = anchor.Type
	}
	if d.Commit != nil || d.CommitMessage != nil || d.CommitAuthor != nil {
		info := &domain.CommitInfo{
			Message: deref(d.CommitMessage),
			Author:  deref(d.CommitAuthor),
			Commit:  deref(d.Commit),
		}
		info.ShortCommit = ShortCommit(info.Commit)
		out.CommitInfo = info
	}
	return out
}

func anchorEvent(d domain.Deployment) (domain.Event, bool) {
	if end, ok := d.TerminalTime(); ok {
		want := domain.EventDeploymentSucceeded
		if d.Status == domain.StatusFailed {
			want = domain.EventDeploymentFailed
		}
		for i := len(d.Events) - 1; i >= 0; i-- {
			if e := d.Events[i]; e.Type == want && e.CreatedAt.Equal(end) {
				return e, true
			}
		}
	}
	return d.LatestEvent()
}

// ShortCommit truncates a commit hash for display.
func ShortCommit(commit string) string {
	if len(commit) <= ShortCommitLength {
		return commit
	}
	return commit[:ShortCommitLength]
}

// RecentActivity describes the latest event of an instance.
func RecentActivity(e domain.Event, deploymentID, environment string) *domain.RecentActivity {
	if e.DeploymentID != "" {
		deploymentID = e.DeploymentID
	}
	return &domain.RecentActivity{
		ID:           e.ID,
		CreatedAt:    e.CreatedAt,
		EventType:    e.Type,
		DeploymentID: deploymentID,
		Environment:  environment,
	}
}

// InstanceRefs trims instances to the dashboard shape.
func InstanceRefs(instances []domain.Instance) []domain.InstanceRef {
	refs := make([]domain.InstanceRef, 0, len(instances))
	for _, in := range instances {
		refs = append(refs, domain.InstanceRef{ID: in.ID, Name: in.Name, Environment: in.Environment})
	}
	return refs
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
