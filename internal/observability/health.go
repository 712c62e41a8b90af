package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ComponentStatus grades one part of the pipeline.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck probes one component: the RPC node, the log subscription or
// the feed of program logs behind it.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the latest probe result for one component.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	LatencyMs   int64           `json:"latency_ms"`
}

// SystemHealth is what /health serves. Status is the worst component's.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     string                     `json:"uptime"`
}

// HealthMonitor re-probes the watcher's dependencies on an interval. A
// component changing grade is logged once; steady state is silent.
type HealthMonitor struct {
	mu       sync.RWMutex
	checks   map[string]HealthCheck
	results  map[string]ComponentHealth
	started  time.Time
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHealthMonitor probes every interval (15s when interval <= 0).
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HealthMonitor{
		checks:   make(map[string]HealthCheck),
		results:  make(map[string]ComponentHealth),
		started:  time.Now(),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Register adds or replaces the check for name.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Start probes immediately and then on every tick until ctx ends or Stop.
func (m *HealthMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// Stop is idempotent.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Check probes now and returns the aggregate.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.probe(ctx)
	return m.snapshot()
}

// ComponentStatus returns the last probe result for name.
func (m *HealthMonitor) ComponentStatus(name string) (ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.results[name]
	return h, ok
}

func (m *HealthMonitor) probe(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	fresh := make(map[string]ComponentHealth, len(checks))
	for name, fn := range checks {
		start := time.Now()
		h := fn(ctx)
		h.Name = name
		h.LastChecked = time.Now()
		h.LatencyMs = time.Since(start).Milliseconds()
		fresh[name] = h
	}

	m.mu.Lock()
	prev := m.results
	m.results = fresh
	m.mu.Unlock()

	for name, cur := range fresh {
		if old, ok := prev[name]; ok && old.Status == cur.Status {
			continue
		}
		logTransition(cur)
	}
}

func logTransition(h ComponentHealth) {
	ev := log.Info()
	switch h.Status {
	case StatusUnhealthy:
		ev = log.Error()
	case StatusDegraded:
		ev = log.Warn()
	}
	ev.Str("component", h.Name).
		Str("status", string(h.Status)).
		Str("message", h.Message).
		Int64("latency_ms", h.LatencyMs).
		Msg("health: status changed")
}

func (m *HealthMonitor) snapshot() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := SystemHealth{
		Status:     StatusHealthy,
		Components: make(map[string]ComponentHealth, len(m.results)),
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.started).Truncate(time.Second).String(),
	}
	for name, h := range m.results {
		out.Components[name] = h
		if severity(h.Status) > severity(out.Status) {
			out.Status = h.Status
		}
	}
	return out
}

func severity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	}
	return -1
}

// PingCheck marks a node unhealthy when ping (getHealth) fails or takes
// longer than timeout.
func PingCheck(ping func(ctx context.Context) error, timeout time.Duration) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := ping(cctx); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// FlagCheck marks a component degraded while up reports false, e.g. the
// log subscription between reconnects.
func FlagCheck(up func() bool, downMsg string) HealthCheck {
	return func(context.Context) ComponentHealth {
		if up() {
			return ComponentHealth{Status: StatusHealthy}
		}
		return ComponentHealth{Status: StatusDegraded, Message: downMsg}
	}
}

// StaleCheck marks the program log feed degraded when no batch arrived
// within maxAge. A zero time means nothing arrived yet.
func StaleCheck(last func() time.Time, maxAge time.Duration) HealthCheck {
	return func(context.Context) ComponentHealth {
		at := last()
		if at.IsZero() {
			return ComponentHealth{Status: StatusDegraded, Message: "no log batches received yet"}
		}
		if age := time.Since(at); age > maxAge {
			return ComponentHealth{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("last log batch %s ago", age.Truncate(time.Second)),
			}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}
