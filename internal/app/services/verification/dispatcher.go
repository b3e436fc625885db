package verification

import (
	"context"
	"sync"
	"time"

	core "github.com/oddurs/prime-coordinator/internal/app/core/service"
	"github.com/oddurs/prime-coordinator/internal/app/system"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

var _ system.Service = (*Dispatcher)(nil)

// Dispatcher periodically drains the unverified-prime queue into a bounded
// pool of CPU-bound verification workers, so a single slow big-integer
// check never blocks the scheduler's claim loop.
type Dispatcher struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration
	poolSize int
	tracer   core.Tracer

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewDispatcher constructs a lifecycle-managed verification dispatcher
// bounded to poolSize concurrent verifications.
func NewDispatcher(service *Service, interval time.Duration, poolSize int, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("verification-dispatcher")
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Dispatcher{service: service, interval: interval, poolSize: poolSize, log: log, tracer: core.NoopTracer}
}

// WithTracer configures an optional tracer used per verification attempt.
func (d *Dispatcher) WithTracer(tracer core.Tracer) {
	d.mu.Lock()
	if tracer == nil {
		d.tracer = core.NoopTracer
	} else {
		d.tracer = tracer
	}
	d.mu.Unlock()
}

func (d *Dispatcher) Name() string { return "verification-dispatcher" }

// Descriptor advertises the dispatcher's placement and capabilities.
func (d *Dispatcher) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "verification-dispatcher",
		Domain:       "verification",
		Layer:        core.LayerEngine,
		Capabilities: []string{"verify"},
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.service.runner == nil {
		d.mu.Unlock()
		d.log.Warn("verification runner not configured; dispatcher disabled")
		return nil
	}
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()

	d.log.Info("verification dispatcher started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.log.Info("verification dispatcher stopped")
	return nil
}

func (d *Dispatcher) tick(ctx context.Context) {
	pending, err := d.service.PendingBatch(ctx, d.poolSize*4)
	if err != nil {
		d.log.WithError(err).Warn("verification dispatcher tick failed listing pending primes")
		return
	}
	if len(pending) == 0 {
		return
	}

	d.mu.Lock()
	tracer := d.tracer
	d.mu.Unlock()

	sem := make(chan struct{}, d.poolSize)
	var wg sync.WaitGroup
	for _, p := range pending {
		sem <- struct{}{}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			spanCtx, finishSpan := tracer.StartSpan(ctx, "verification.verify_one", map[string]string{"prime_id": id})
			_, err := d.service.VerifyOne(spanCtx, id)
			finishSpan(err)
			if err != nil {
				d.log.WithField("prime_id", id).WithError(err).Warn("verify one failed")
			}
		}(p.ID)
	}
	wg.Wait()
}
