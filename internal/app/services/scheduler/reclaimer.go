package scheduler

import (
	"context"
	"sync"
	"time"

	core "github.com/oddurs/prime-coordinator/internal/app/core/service"
	"github.com/oddurs/prime-coordinator/internal/app/system"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

var _ system.Service = (*Reclaimer)(nil)

// Reclaimer periodically sweeps for claimed blocks whose claiming worker
// has gone silent and returns them to the available pool.
type Reclaimer struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration
	grace    time.Duration
	tracer   core.Tracer

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewReclaimer constructs a lifecycle-managed stale-block reclaimer.
func NewReclaimer(service *Service, interval, grace time.Duration, log *logger.Logger) *Reclaimer {
	if log == nil {
		log = logger.NewDefault("scheduler-reclaimer")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reclaimer{
		service:  service,
		log:      log,
		interval: interval,
		grace:    grace,
		tracer:   core.NoopTracer,
	}
}

// WithTracer configures an optional tracer used per sweep.
func (r *Reclaimer) WithTracer(tracer core.Tracer) {
	r.mu.Lock()
	if tracer == nil {
		r.tracer = core.NoopTracer
	} else {
		r.tracer = tracer
	}
	r.mu.Unlock()
}

func (r *Reclaimer) Name() string { return "scheduler-reclaimer" }

// Descriptor advertises the reclaimer's placement and capabilities.
func (r *Reclaimer) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "scheduler-reclaimer",
		Domain:       "scheduler",
		Layer:        core.LayerEngine,
		Capabilities: []string{"reclaim"},
	}
}

func (r *Reclaimer) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("scheduler reclaimer started")
	return nil
}

func (r *Reclaimer) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("scheduler reclaimer stopped")
	return nil
}

func (r *Reclaimer) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	r.mu.Lock()
	tracer := r.tracer
	r.mu.Unlock()

	spanCtx, finishSpan := tracer.StartSpan(ctx, "scheduler.reclaim_sweep", nil)
	reclaimed, err := r.service.ReclaimStale(spanCtx, r.grace)
	finishSpan(err)
	if err != nil {
		r.log.WithError(err).Warn("reclaim sweep failed")
		return
	}
	if len(reclaimed) > 0 {
		r.log.WithField("count", len(reclaimed)).Info("reclaimed stale blocks")
	}
}
