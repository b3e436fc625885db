package registry

import (
	"context"
	"sync"
	"time"

	core "github.com/oddurs/prime-coordinator/internal/app/core/service"
	"github.com/oddurs/prime-coordinator/internal/app/system"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

var _ system.Service = (*Pruner)(nil)

// Pruner periodically removes workers that have gone silent past the
// registry's staleness window.
type Pruner struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPruner constructs a lifecycle-managed stale-worker pruner.
func NewPruner(service *Service, interval time.Duration, log *logger.Logger) *Pruner {
	if log == nil {
		log = logger.NewDefault("registry-pruner")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Pruner{service: service, interval: interval, log: log}
}

func (p *Pruner) Name() string { return "registry-pruner" }

// Descriptor advertises the pruner's placement and capabilities.
func (p *Pruner) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "registry-pruner",
		Domain:       "registry",
		Layer:        core.LayerEngine,
		Capabilities: []string{"prune"},
	}
}

func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("registry pruner started")
	return nil
}

func (p *Pruner) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.log.Info("registry pruner stopped")
	return nil
}

func (p *Pruner) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pruned, err := p.service.PruneStale(ctx)
	if err != nil {
		p.log.WithError(err).Warn("prune sweep failed")
		return
	}
	if len(pruned) > 0 {
		p.log.WithField("count", len(pruned)).Info("pruned stale workers")
	}
}
