package queue

import (
	"math"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
)

// Backoff returns the delay before the retry that follows attempt (1-based):
// BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func Backoff(p config.RetryPolicy, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := time.Duration(float64(base) * math.Pow(multiplier, float64(attempt-1)))
	if max := p.MaxDelay; max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}

// retryTimers holds one pending retry timer per job id.
type retryTimers struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func newRetryTimers() *retryTimers {
	return &retryTimers{timers: make(map[string]*time.Timer)}
}

// Schedule runs fire after delay unless the job is expedited or the timers stop.
func (rt *retryTimers) Schedule(id string, delay time.Duration, fire func()) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.stopped {
		return false
	}
	rt.resetLocked(id)
	rt.timers[id] = time.AfterFunc(delay, func() {
		rt.mu.Lock()
		if rt.stopped {
			rt.mu.Unlock()
			return
		}
		delete(rt.timers, id)
		rt.mu.Unlock()
		fire()
	})
	return true
}

// Expedite fires a pending timer now. It reports false when none is pending.
func (rt *retryTimers) Expedite(id string) bool {
	rt.mu.Lock()
	timer, ok := rt.timers[id]
	if !ok || !timer.Stop() {
		rt.mu.Unlock()
		return false
	}
	timer.Reset(0)
	rt.mu.Unlock()
	return true
}

func (rt *retryTimers) resetLocked(id string) {
	if timer, ok := rt.timers[id]; ok {
		timer.Stop()
		delete(rt.timers, id)
	}
}

// Stop cancels every pending retry.
func (rt *retryTimers) Stop() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.stopped {
		return
	}
	rt.stopped = true
	for id, timer := range rt.timers {
		timer.Stop()
		delete(rt.timers, id)
	}
}

// Pending returns the number of scheduled retries.
func (rt *retryTimers) Pending() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.timers)
}
