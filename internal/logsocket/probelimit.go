package logsocket

import (
	"sync"
	"time"

	"github.com/lawnchairsociety/logsocket/internal/config"
)

// ProbeLimiter tracks rejected subscriptions per IP and locks out clients
// that keep asking for streams they cannot have.
type ProbeLimiter struct {
	mu              sync.Mutex
	attempts        map[string]*probeInfo
	maxFailures     int
	lockout         time.Duration
	maxLockout      time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

type probeInfo struct {
	failures     int
	lockedUntil  time.Time
	lockoutCount int // for exponential backoff
}

// NewProbeLimiter creates a limiter from cfg. MaxFailures <= 0 disables it.
func NewProbeLimiter(cfg config.ProbeLimitConfig) *ProbeLimiter {
	pl := &ProbeLimiter{
		attempts:        make(map[string]*probeInfo),
		maxFailures:     cfg.MaxFailures,
		lockout:         cfg.Lockout,
		maxLockout:      cfg.MaxLockout,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	if pl.lockout <= 0 {
		pl.lockout = 30 * time.Second
	}
	if pl.maxLockout < pl.lockout {
		pl.maxLockout = pl.lockout
	}

	if pl.enabled() {
		go pl.cleanupLoop()
	}
	return pl
}

func (pl *ProbeLimiter) enabled() bool {
	return pl.maxFailures > 0
}

// Stop stops the cleanup goroutine.
func (pl *ProbeLimiter) Stop() {
	pl.stopOnce.Do(func() { close(pl.stopCleanup) })
}

// IsLocked reports whether ip is locked out, and for how much longer.
func (pl *ProbeLimiter) IsLocked(ip string) (bool, time.Duration) {
	if !pl.enabled() {
		return false, 0
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	info, exists := pl.attempts[ip]
	if !exists {
		return false, 0
	}
	if time.Now().Before(info.lockedUntil) {
		return true, time.Until(info.lockedUntil)
	}
	return false, 0
}

// RecordFailure records a rejected subscription from ip. It returns true
// when the IP is now locked out, along with the lockout duration.
func (pl *ProbeLimiter) RecordFailure(ip string) (bool, time.Duration) {
	if !pl.enabled() {
		return false, 0
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	info, exists := pl.attempts[ip]
	if !exists {
		info = &probeInfo{}
		pl.attempts[ip] = info
	}

	if time.Now().Before(info.lockedUntil) {
		return true, time.Until(info.lockedUntil)
	}

	info.failures++
	if info.failures < pl.maxFailures {
		return false, 0
	}

	info.lockoutCount++
	d := pl.lockout
	for i := 1; i < info.lockoutCount; i++ {
		// compare before doubling to avoid overflow
		if d >= pl.maxLockout/2 {
			d = pl.maxLockout
			break
		}
		d *= 2
	}
	if d > pl.maxLockout {
		d = pl.maxLockout
	}
	info.lockedUntil = time.Now().Add(d)
	info.failures = 0
	return true, d
}

// RecordSuccess clears the failure count of ip.
func (pl *ProbeLimiter) RecordSuccess(ip string) {
	if !pl.enabled() {
		return
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	delete(pl.attempts, ip)
}

// Failures returns the current failure count of ip.
func (pl *ProbeLimiter) Failures(ip string) int {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if info, exists := pl.attempts[ip]; exists {
		return info.failures
	}
	return 0
}

func (pl *ProbeLimiter) cleanupLoop() {
	ticker := time.NewTicker(pl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pl.stopCleanup:
			return
		case <-ticker.C:
			pl.cleanup(time.Now())
		}
	}
}

// cleanup drops entries unlocked for at least ten minutes with no pending failures.
func (pl *ProbeLimiter) cleanup(now time.Time) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	cutoff := now.Add(-10 * time.Minute)
	for ip, info := range pl.attempts {
		if info.lockedUntil.Before(cutoff) && info.failures == 0 {
			delete(pl.attempts, ip)
		}
	}
}
