// Package worker runs background delivery work on a bounded goroutine pool
// bound to the service lifetime.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/charlesng35/carecoord/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

const defaultPoolSize = 16

// Task is a context-aware unit of background work.
type Task func(ctx context.Context)

// Config contains pool configuration.
type Config struct {
	Name string
	Size int
}

// Pool wraps ants.Pool with a service lifecycle context and in-flight tracking.
type Pool struct {
	pool *ants.Pool
	name string
	log  *zap.Logger

	serviceCtx    context.Context
	serviceCancel context.CancelFunc

	inflight sync.WaitGroup
}

// New creates a pool whose detached tasks observe ctx for shutdown.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	size := cfg.Size
	if size <= 0 {
		size = defaultPoolSize
	}
	name := cfg.Name
	if name == "" {
		name = "general"
	}

	log := logger.WithModule("worker").With(zap.String("pool", name))
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	antsPool, err := ants.NewPool(size,
		ants.WithPanicHandler(func(p interface{}) {
			log.Error("worker panic recovered", zap.Any("panic", p), zap.Stack("stack"))
		}),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	return &Pool{
		pool:          antsPool,
		name:          name,
		log:           log,
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit runs task with the caller's context. A context cancelled before or
// while the task is queued skips the task.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return p.submit(ctx, task)
}

// SubmitDetached runs task with the service lifecycle context so it outlives
// the request that scheduled it but still stops on shutdown.
func (p *Pool) SubmitDetached(task Task) error {
	return p.submit(p.serviceCtx, task)
}

func (p *Pool) submit(ctx context.Context, task Task) error {
	p.inflight.Add(1)
	err := p.pool.Submit(func() {
		defer p.inflight.Done()
		select {
		case <-ctx.Done():
			p.log.Debug("task skipped: context cancelled", zap.Error(ctx.Err()))
			return
		default:
		}
		task(ctx)
	})
	if err != nil {
		p.inflight.Done()
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	return nil
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.inflight.Wait()
}

// Shutdown waits up to timeout for in-flight tasks, then cancels the service
// context and releases the pool.
func (p *Pool) Shutdown(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		p.log.Warn("worker pool drain timed out", zap.Duration("timeout", timeout))
	}

	p.serviceCancel()
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		p.log.Warn("worker pool release timed out", zap.Error(err))
	}
}

// Stats reports pool occupancy for health output.
func (p *Pool) Stats() map[string]int {
	return map[string]int{
		"running": p.pool.Running(),
		"free":    p.pool.Free(),
		"cap":     p.pool.Cap(),
	}
}
