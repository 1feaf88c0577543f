package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/presenter"
	"github.com/hysmio/deployments-dashboard/internal/service/deploy"
	"github.com/hysmio/deployments-dashboard/internal/service/stats"
)

func (r *Router) handleServices(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if name := strings.TrimSpace(req.URL.Query().Get("name")); name != "" {
		svc, err := r.catalog.GetService(req.Context(), name)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
		return
	}
	services, err := r.catalog.ListServices(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (r *Router) handleDashboard(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	summaries, err := r.stats.DashboardSummary(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (r *Router) handleInstances(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	query := req.URL.Query()
	if id := strings.TrimSpace(query.Get("id")); id != "" {
		instance, err := r.catalog.GetInstance(req.Context(), id)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, instance)
		return
	}
	page, limit, err := r.pages.Parse(query)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	instances, err := r.catalog.ListInstances(req.Context(), query.Get("service"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, presenter.Paginate(instances, page, limit))
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	query := req.URL.Query()
	page, limit, err := r.pages.Parse(query)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	result, err := r.events.ListByInstance(req.Context(), query.Get("instanceId"), page, limit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleFindStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	event, err := r.events.FindStart(req.Context(), req.URL.Query().Get("completionEventId"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	query := req.URL.Query()
	page, limit, err := r.pages.Parse(query)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	deployments, err := r.deploy.List(req.Context(), deploy.Filter{
		InstanceID:  query.Get("instanceId"),
		Service:     query.Get("service"),
		Environment: query.Get("environment"),
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	deployments = presenter.FilterByBuildURL(deployments, query.Get("buildkite_build_url"))
	writeJSON(w, http.StatusOK, presenter.Paginate(deployments, page, limit))
}

func (r *Router) handleDeploymentByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	id := strings.Trim(strings.TrimPrefix(req.URL.Path, "/deployments/"), "/")
	if id == "" || strings.Contains(id, "/") {
		r.notFound(w)
		return
	}
	deployment, err := r.deploy.Get(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	query := req.URL.Query()
	days, err := parseDays(query.Get("days"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	out, err := r.stats.ServiceStats(req.Context(), query.Get("service"), days)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleDeploymentStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	query := req.URL.Query()
	days, err := parseDays(query.Get("days"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	scope := stats.Scope{
		Service:    strings.TrimSpace(query.Get("service")),
		InstanceID: strings.TrimSpace(query.Get("instanceId")),
	}
	if scope.Service == "" && scope.InstanceID == "" {
		r.writeServiceError(w, req, domain.Invalid("service", "required"))
		return
	}
	counts, err := r.stats.CountRecentByStatus(req.Context(), scope, days)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (r *Router) handleEnvironments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	envs, err := r.catalog.Environments(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}

func (r *Router) handleCacheReset(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if r.cache != nil {
		if err := r.cache.Reset(req.Context()); err != nil {
			r.writeServiceError(w, req, domain.Upstream("reset cache", err))
			return
		}
	}
	info, _ := authInfoFromContext(req.Context())
	r.logger.Info("cache reset", "user_id", info.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// parseDays reads an optional positive window; 0 selects the default.
func parseDays(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 {
		return 0, domain.Invalid("days", "must be a positive integer")
	}
	return days, nil
}
