package costmodel

import (
	"context"
	"sync"
	"time"

	core "github.com/oddurs/prime-coordinator/internal/app/core/service"
	"github.com/oddurs/prime-coordinator/internal/app/system"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

var _ system.Service = (*Refitter)(nil)

// Refitter periodically recomputes every form's power-law fit from recent
// completed-block observations.
type Refitter struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRefitter constructs a lifecycle-managed cost-model refitter.
func NewRefitter(service *Service, interval time.Duration, log *logger.Logger) *Refitter {
	if log == nil {
		log = logger.NewDefault("costmodel-refitter")
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Refitter{service: service, interval: interval, log: log}
}

func (r *Refitter) Name() string { return "costmodel-refitter" }

// Descriptor advertises the refitter's placement and capabilities.
func (r *Refitter) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "costmodel-refitter",
		Domain:       "costmodel",
		Layer:        core.LayerEngine,
		Capabilities: []string{"refit"},
	}
}

func (r *Refitter) Start(ctx context.Context) error {
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

	r.log.Info("cost model refitter started")
	return nil
}

func (r *Refitter) Stop(ctx context.Context) error {
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

	r.log.Info("cost model refitter stopped")
	return nil
}

func (r *Refitter) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	applied, err := r.service.RefitAll(ctx)
	if err != nil {
		r.log.WithError(err).Warn("cost model refit sweep failed")
		return
	}
	if applied > 0 {
		r.log.WithField("forms_refit", applied).Info("applied cost model refits")
	}
}
