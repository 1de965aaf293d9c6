// Package sweeps runs the periodic scans that turn due reminders, activities,
// expiring subscriptions and next-day risk predictions into notifications.
package sweeps

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/carecoord/pkg/logger"
	"github.com/charlesng35/carecoord/pkg/metrics"
)

const defaultTickTimeout = 2 * time.Minute

// ErrAlreadyRunning reports a tick skipped because the previous run of the same sweep has not finished.
var ErrAlreadyRunning = errors.New("sweep already running")

// Sweep is one periodic scan.
type Sweep interface {
	Name() string
	Run(ctx context.Context, now time.Time) error
}

type job struct {
	sweep    Sweep
	interval time.Duration
	running  atomic.Bool
}

// Runner schedules sweeps on a cron and keeps at most one run of each sweep in flight.
type Runner struct {
	cron        *cron.Cron
	now         func() time.Time
	tickTimeout time.Duration
	log         *zap.Logger

	mu      sync.Mutex
	jobs    []*job
	started bool
}

// Option customises the Runner.
type Option func(*Runner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(r *Runner) {
		if c != nil {
			r.cron = c
		}
	}
}

// WithNow overrides the clock handed to every sweep.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTickTimeout bounds a single sweep run.
func WithTickTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout > 0 {
			r.tickTimeout = timeout
		}
	}
}

// NewRunner constructs a Runner with no sweeps registered.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		now:         time.Now,
		tickTimeout: defaultTickTimeout,
		log:         logger.WithModule("sweeps"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cron == nil {
		r.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return r
}

// Register adds a sweep firing every interval. It must be called before Start.
func (r *Runner) Register(sweep Sweep, interval time.Duration) error {
	if sweep == nil {
		return errors.New("sweeps: sweep is required")
	}
	if interval <= 0 {
		return fmt.Errorf("sweeps: %s: interval must be positive", sweep.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("sweeps: %s: runner already started", sweep.Name())
	}
	r.jobs = append(r.jobs, &job{sweep: sweep, interval: interval})
	return nil
}

// Names lists the registered sweeps in name order.
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for _, j := range r.jobs {
		names = append(names, j.sweep.Name())
	}
	sort.Strings(names)
	return names
}

// Start schedules every registered sweep and launches the cron. A runner without sweeps stays idle.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || len(r.jobs) == 0 {
		return nil
	}

	for _, j := range r.jobs {
		j := j
		spec := fmt.Sprintf("@every %s", j.interval)
		if _, err := r.cron.AddFunc(spec, func() {
			if err := r.tick(context.Background(), j); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				r.log.Warn("sweep failed", zap.String("sweep", j.sweep.Name()), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("sweeps: schedule %s: %w", j.sweep.Name(), err)
		}
		r.log.Info("sweep scheduled", zap.String("sweep", j.sweep.Name()), zap.Duration("interval", j.interval))
	}

	r.cron.Start()
	r.started = true
	return nil
}

// Stop halts the scheduler. The returned context is done once running sweeps finish.
func (r *Runner) Stop() context.Context {
	if r.cron == nil {
		return context.Background()
	}
	return r.cron.Stop()
}

// RunOnce runs every registered sweep sequentially. Used in tests and at shutdown.
func (r *Runner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	jobs := append([]*job(nil), r.jobs...)
	r.mu.Unlock()

	var errs error
	for _, j := range jobs {
		if err := r.tick(ctx, j); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", j.sweep.Name(), err))
		}
	}
	return errs
}

func (r *Runner) tick(ctx context.Context, j *job) error {
	name := j.sweep.Name()
	if !j.running.CompareAndSwap(false, true) {
		metrics.SweepRuns.WithLabelValues(name, "skipped").Inc()
		r.log.Debug("sweep tick skipped: previous run still active", zap.String("sweep", name))
		return ErrAlreadyRunning
	}
	defer j.running.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, r.tickTimeout)
	defer cancel()

	start := time.Now()
	err := j.sweep.Run(runCtx, r.now())
	metrics.SweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SweepRuns.WithLabelValues(name, "error").Inc()
		return err
	}
	metrics.SweepRuns.WithLabelValues(name, "ok").Inc()
	return nil
}
