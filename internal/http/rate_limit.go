package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateBudget is the number of requests a caller may make per window.
type RateBudget struct {
	Limit  int
	Window time.Duration
}

// RateLimiter counts requests per key against a budget.
type RateLimiter interface {
	Allow(key string, budget RateBudget) rateDecision
	Close()
}

type rateDecision struct {
	allowed bool
	count   int
	resetAt time.Time
}

// rateClass groups routes that draw from one budget per caller. Dashboard
// reads share a class, so paging through /deployments and polling /stats
// spend the same allowance.
type rateClass struct {
	name   string
	budget RateBudget
}

const (
	defaultReadPerMinute = 120
	adminPerMinute       = 10
	streamPerHalfMinute  = 30
	rateWindowRealtime   = 30 * time.Second
	rateWindowPerMinute  = time.Minute
)

func readClass(perMinute int) rateClass {
	if perMinute <= 0 {
		perMinute = defaultReadPerMinute
	}
	return rateClass{name: "read", budget: RateBudget{Limit: perMinute, Window: rateWindowPerMinute}}
}

var (
	adminClass  = rateClass{name: "admin", budget: RateBudget{Limit: adminPerMinute, Window: rateWindowPerMinute}}
	streamClass = rateClass{name: "stream", budget: RateBudget{Limit: streamPerHalfMinute, Window: rateWindowRealtime}}
)

// limited charges each request to the caller's allowance in class. It runs
// after authentication so callers are counted by user id.
func (r *Router) limited(route string, class rateClass, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.limiter == nil || class.budget.Limit <= 0 {
			next(w, req)
			return
		}
		decision := r.limiter.Allow(class.name+":"+rateSubject(req), class.budget)
		setRateHeaders(w.Header(), class.budget, decision)
		if !decision.allowed {
			r.recordRateLimitHit(route, class.name)
			r.logger.Debug("rate limit exceeded", "route", route, "class", class.name, "count", decision.count)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// rateSubject identifies the caller: the authenticated user, or the client
// address when no identity is attached.
func rateSubject(req *http.Request) string {
	if info, ok := authInfoFromContext(req.Context()); ok && info.UserID != "" {
		return "user:" + info.UserID
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host = strings.TrimSpace(host); host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

func setRateHeaders(h http.Header, budget RateBudget, decision rateDecision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(budget.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(budget.Limit-decision.count, 0)))
	if !decision.resetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.resetAt.Unix(), 10))
	}
}
