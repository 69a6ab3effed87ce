package monitor

import (
	"sync"
	"time"
)

// maxConsecutiveErrors is how many failed ticks in a row are tolerated
// before the poller is reported unhealthy.
const maxConsecutiveErrors = 3

// PollMonitor tracks poller health and failures.
type PollMonitor struct {
	mu                sync.RWMutex
	staleAfter        time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// NewPollMonitor creates a monitor that reports unhealthy when no tick has
// succeeded for staleAfter.
func NewPollMonitor(staleAfter time.Duration) *PollMonitor {
	return &PollMonitor{staleAfter: staleAfter}
}

// RecordSuccess records a tick in which every feed was applied.
func (pm *PollMonitor) RecordSuccess() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	now := time.Now()
	pm.lastSuccess = now
	pm.lastAttempt = now
	pm.consecutiveErrors = 0
	pm.lastError = ""
}

// RecordFailure records a tick in which at least one feed failed.
func (pm *PollMonitor) RecordFailure(err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.lastAttempt = time.Now()
	pm.consecutiveErrors++
	if err != nil {
		pm.lastError = err.Error()
	}
}

// IsHealthy returns true if polling is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within staleAfter
//   - More than 3 consecutive failures
func (pm *PollMonitor) IsHealthy() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.healthyLocked()
}

func (pm *PollMonitor) healthyLocked() bool {
	if pm.lastSuccess.IsZero() {
		return false
	}
	if pm.staleAfter > 0 && time.Since(pm.lastSuccess) > pm.staleAfter {
		return false
	}
	return pm.consecutiveErrors <= maxConsecutiveErrors
}

// PollStatus is the poller section of the health response.
type PollStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current poll status for health checks.
func (pm *PollMonitor) Status() PollStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	status := PollStatus{
		Healthy: pm.healthyLocked(),
	}

	if !pm.lastSuccess.IsZero() {
		status.LastSuccess = pm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(pm.lastSuccess).Round(time.Second).String()
	}

	if !pm.lastAttempt.IsZero() {
		status.LastAttempt = pm.lastAttempt.Format(time.RFC3339)
	}

	if pm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = pm.consecutiveErrors
		status.LastError = pm.lastError
	}

	return status
}
