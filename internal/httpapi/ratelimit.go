package httpapi

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// classLimiter is a per-endpoint-class token bucket, simplified from the
// teacher's AdaptiveRateLimiter: this guards raw HTTP request rate, not a
// provider token budget, so there is no AIMD adjustment or cluster
// coordination, only a fixed rate.Limiter per class.
type classLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newClassLimiter(rps float64, burst int) *classLimiter {
	return &classLimiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (c *classLimiter) forClass(class string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[class]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.rps), c.burst)
		c.limiters[class] = l
	}
	return l
}

// middleware rejects a request with 429 when its class has exhausted its
// token bucket.
func (c *classLimiter) middleware(class string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.forClass(class).Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "too many requests, slow down"})
			return
		}
		next(w, r)
	}
}
