package release

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	core "github.com/oddurs/prime-coordinator/internal/app/core/service"
	"github.com/oddurs/prime-coordinator/internal/app/system"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

var _ system.Service = (*AutoAdvancer)(nil)

// AutoAdvancer widens the rollout percent of every configured channel on a
// cron schedule, in fixed steps, capping at 100. It never changes which
// version a channel points at and never lowers a rollout percent: an
// operator's own SetChannel call remains the only way to start or
// re-target a rollout. This only automates the "widen over time" half of
// a staged rollout once that initial call has been made.
type AutoAdvancer struct {
	service  *Service
	schedule string
	step     int
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewAutoAdvancer constructs a lifecycle-managed rollout widener. An empty
// schedule disables it: Start becomes a no-op, matching the dispatcher's
// self-disabling convention for an unconfigured optional component.
func NewAutoAdvancer(service *Service, schedule string, step int, log *logger.Logger) *AutoAdvancer {
	if log == nil {
		log = logger.NewDefault("release-autoadvance")
	}
	if step <= 0 {
		step = 10
	}
	return &AutoAdvancer{service: service, schedule: schedule, step: step, log: log}
}

func (a *AutoAdvancer) Name() string { return "release-autoadvance" }

// Descriptor advertises the auto-advancer's placement and capabilities.
func (a *AutoAdvancer) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "release-autoadvance",
		Domain:       "release",
		Layer:        core.LayerEngine,
		Capabilities: []string{"rollout-widen"},
	}
}

func (a *AutoAdvancer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	if a.schedule == "" {
		a.log.Warn("no auto-advance schedule configured, rollout widening disabled")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(a.schedule, func() { a.tick(context.Background()) }); err != nil {
		return fmt.Errorf("parse release auto-advance schedule %q: %w", a.schedule, err)
	}
	c.Start()
	a.cron = c
	a.running = true
	a.log.WithField("schedule", a.schedule).Info("release auto-advance started")
	return nil
}

func (a *AutoAdvancer) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	stopped := a.cron.Stop()
	a.cron = nil
	a.running = false

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	a.log.Info("release auto-advance stopped")
	return nil
}

func (a *AutoAdvancer) tick(ctx context.Context) {
	channels, err := a.service.ListChannels(ctx)
	if err != nil {
		a.log.WithError(err).Warn("list channels failed")
		return
	}
	for _, c := range channels {
		if c.RolloutPercent >= 100 {
			continue
		}
		next := c.RolloutPercent + a.step
		if next > 100 {
			next = 100
		}
		if _, err := a.service.SetChannel(ctx, c.Channel, c.Version, next, "auto-advance"); err != nil {
			a.log.WithField("channel", c.Channel).WithError(err).Warn("auto-advance step failed")
			continue
		}
		a.log.WithField("channel", c.Channel).WithField("rollout_percent", next).Info("rollout auto-advanced")
	}
}
