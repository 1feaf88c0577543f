package httpx

import (
	"sync"
	"time"
)

const memoryLimiterSweep = 5 * time.Minute

// memoryRateLimiter keeps fixed windows per key in process memory. Expired
// windows are swept in the background until Close.
type memoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	done    chan struct{}
	closer  sync.Once
}

type window struct {
	count   int
	resetAt time.Time
}

// NewMemoryRateLimiter returns a limiter local to this process.
func NewMemoryRateLimiter() RateLimiter {
	rl := newMemoryRateLimiter(time.Now)
	go rl.sweep(memoryLimiterSweep)
	return rl
}

func newMemoryRateLimiter(now func() time.Time) *memoryRateLimiter {
	return &memoryRateLimiter{
		windows: make(map[string]*window),
		now:     now,
		done:    make(chan struct{}),
	}
}

func (rl *memoryRateLimiter) Allow(key string, budget RateBudget) rateDecision {
	if budget.Limit <= 0 {
		return rateDecision{allowed: true}
	}
	if budget.Window <= 0 {
		budget.Window = rateWindowPerMinute
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(budget.Window)}
		rl.windows[key] = w
	}
	// Rejected requests are not counted, so a blocked caller recovers when
	// the window resets.
	if w.count >= budget.Limit {
		return rateDecision{allowed: false, count: w.count, resetAt: w.resetAt}
	}
	w.count++
	return rateDecision{allowed: true, count: w.count, resetAt: w.resetAt}
}

func (rl *memoryRateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.expire(rl.now())
		case <-rl.done:
			return
		}
	}
}

func (rl *memoryRateLimiter) expire(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.closer.Do(func() { close(rl.done) })
}
