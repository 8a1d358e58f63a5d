// Package ratelimit provides per-client token buckets for the gateway's
// auth-sensitive routes.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy is a named requests-per-window budget.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Gateway route policies.
var (
	Login          = Policy{"login", 5, time.Minute}
	Register       = Policy{"register", 3, time.Hour}
	ChangePassword = Policy{"change_password", 5, time.Hour}
	ForgotPassword = Policy{"forgot_password", 3, time.Hour}
	ResetPassword  = Policy{"reset_password", 5, time.Hour}
	ProfileUpdate  = Policy{"profile_update", 10, time.Minute}
)

type bucketKey struct {
	policy string
	client string
}

// Limiter tracks a token bucket per (policy, client IP). Idle buckets are
// swept periodically so the map does not grow with one-shot clients.
type Limiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*clientBucket
	// Disabled bypasses all checks (debug flag).
	Disabled bool
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a Limiter and starts its sweeper.
func New() *Limiter {
	l := &Limiter{buckets: make(map[bucketKey]*clientBucket)}
	go l.sweep()
	return l
}

// Allow consumes one token from the client's bucket for the policy.
func (l *Limiter) Allow(p Policy, clientIP string) bool {
	if l.Disabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey{p.Name, clientIP}
	b, ok := l.buckets[key]
	if !ok {
		// Burst = full window budget; refill spread across the window.
		b = &clientBucket{
			limiter: rate.NewLimiter(rate.Every(p.Window/time.Duration(p.Limit)), p.Limit),
		}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-2 * time.Hour)
		l.mu.Lock()
		for key, b := range l.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}
