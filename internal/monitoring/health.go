// Package monitoring evaluates the readiness of the delivery engine's dependencies.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the outcome of a probe or of a whole report.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Result is one probe outcome.
type Result struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Report aggregates probe results. The report status is the worst probe status.
type Report struct {
	Status    Status    `json:"status"`
	CheckedAt time.Time `json:"checkedAt"`
	Checks    []Result  `json:"checks"`
}

// Healthy reports whether every probe is up.
func (r Report) Healthy() bool {
	return r.Status == StatusUp
}

// Check is a named dependency probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) Result
}

// Manager runs the registered probes.
type Manager struct {
	mu     sync.RWMutex
	checks []Check
	now    func() time.Time
}

// NewManager constructs a manager with the given probes.
func NewManager(checks ...Check) *Manager {
	m := &Manager{now: time.Now}
	for _, check := range checks {
		m.Register(check)
	}
	return m
}

// Register appends a probe. Unnamed probes are ignored.
func (m *Manager) Register(check Check) {
	if check.Name == "" || check.Run == nil {
		return
	}
	m.mu.Lock()
	m.checks = append(m.checks, check)
	m.mu.Unlock()
}

// Evaluate runs every probe in registration order.
func (m *Manager) Evaluate(ctx context.Context) Report {
	m.mu.RLock()
	checks := append([]Check(nil), m.checks...)
	m.mu.RUnlock()

	report := Report{
		Status:    StatusUp,
		CheckedAt: m.now().UTC(),
		Checks:    make([]Result, 0, len(checks)),
	}
	for _, check := range checks {
		result := run(ctx, check)
		report.Checks = append(report.Checks, result)
		report.Status = worst(report.Status, result.Status)
	}
	return report
}

func run(ctx context.Context, check Check) (result Result) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = Result{Status: StatusDown, Details: fmt.Sprint(rec)}
		}
		if result.Status == "" {
			result.Status = StatusDown
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
		result.Component = check.Name
	}()
	return check.Run(ctx)
}

func worst(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUp:
			return 0
		case StatusDegraded:
			return 1
		default:
			return 2
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// FromError maps err to a result. Timeouts degrade; anything else is down.
func FromError(err error) Result {
	if err == nil {
		return Result{Status: StatusUp}
	}
	status := StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusDegraded
	}
	return Result{Status: status, Details: err.Error()}
}
