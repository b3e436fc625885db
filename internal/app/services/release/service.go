// Package release implements the Release Engine: versioned artifact
// registry, per-channel rollout assignment, deterministic canary
// bucketing, and event-log-based rollback.
package release

import (
	"context"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app/apperr"
	"github.com/oddurs/prime-coordinator/internal/app/domain/release"
	"github.com/oddurs/prime-coordinator/internal/app/metrics"
	"github.com/oddurs/prime-coordinator/internal/app/storage"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

// Service implements the release engine operations over a ReleaseStore.
type Service struct {
	store          storage.ReleaseStore
	defaultChannel string
	log            *logger.Logger
}

// New constructs a release Service. defaultChannel is the channel
// resolved for callers that do not specify one.
func New(store storage.ReleaseStore, defaultChannel string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("release")
	}
	if defaultChannel == "" {
		defaultChannel = "stable"
	}
	return &Service{store: store, defaultChannel: defaultChannel, log: log}
}

// UpsertRelease validates and stores a new release version.
func (s *Service) UpsertRelease(ctx context.Context, r release.Release) (release.Release, error) {
	if err := r.Validate(); err != nil {
		return release.Release{}, apperr.Validationf("Release.UpsertRelease", "%v", err)
	}
	stored, err := s.store.UpsertRelease(ctx, r)
	if err != nil {
		return release.Release{}, apperr.Wrap("Release.UpsertRelease", err)
	}
	return stored, nil
}

// GetRelease fetches a release by version.
func (s *Service) GetRelease(ctx context.Context, version string) (release.Release, error) {
	r, err := s.store.GetRelease(ctx, version)
	if err != nil {
		return release.Release{}, apperr.NotFoundf("Release.GetRelease", "release %s not found", version)
	}
	return r, nil
}

// SetChannel atomically points a channel at a release version and rollout
// percent, verifying the version exists and recording a Channel Event.
func (s *Service) SetChannel(ctx context.Context, channel, version string, rolloutPercent int, changedBy string) (release.Channel, error) {
	if _, err := s.store.GetRelease(ctx, version); err != nil {
		return release.Channel{}, apperr.Conflictf("Release.SetChannel", "version %s does not exist", version)
	}
	c := release.Channel{Channel: channel, Version: version, RolloutPercent: rolloutPercent}
	if err := c.Validate(); err != nil {
		return release.Channel{}, apperr.Validationf("Release.SetChannel", "%v", err)
	}

	updated, err := s.store.SetChannel(ctx, c, changedBy)
	if err != nil {
		return release.Channel{}, apperr.Wrap("Release.SetChannel", err)
	}
	s.log.WithField("channel", channel).WithField("version", version).Info("channel updated")
	return updated, nil
}

// Rollback reverts a channel to the from_version of its most recent
// Channel Event, keeping that event's rollout percent. It fails with
// KindConflict if there is no prior version to roll back to.
func (s *Service) Rollback(ctx context.Context, channel, changedBy string) (release.Channel, error) {
	events, err := s.store.ListChannelEvents(ctx, channel, 1)
	if err != nil {
		return release.Channel{}, apperr.Wrap("Release.Rollback", err)
	}
	if len(events) == 0 || events[0].FromVersion == "" {
		return release.Channel{}, apperr.Conflictf("Release.Rollback", "channel %s has no prior version to roll back to", channel)
	}
	latest := events[0]
	return s.SetChannel(ctx, channel, latest.FromVersion, latest.RolloutPercent, changedBy)
}

// Resolve returns the artifact a worker on the given channel should use
// now, applying the deterministic canary bucketing rule.
func (s *Service) Resolve(ctx context.Context, channel, workerID, osName, arch string) (release.Artifact, error) {
	if channel == "" {
		channel = s.defaultChannel
	}
	c, ok, err := s.store.GetChannel(ctx, channel)
	if err != nil {
		return release.Artifact{}, apperr.Wrap("Release.Resolve", err)
	}
	if !ok {
		return release.Artifact{}, apperr.NotFoundf("Release.Resolve", "channel %s not configured", channel)
	}

	previous := s.previousVersion(ctx, channel, c.Version)
	resolvedVersion := release.ResolveVersion(workerID, c.Version, previous, c.RolloutPercent)

	r, err := s.store.GetRelease(ctx, resolvedVersion)
	if err != nil {
		return release.Artifact{}, apperr.NotFoundf("Release.Resolve", "release %s not found", resolvedVersion)
	}
	artifact, ok := r.ArtifactFor(osName, arch)
	if !ok {
		return release.Artifact{}, apperr.NotFoundf("Release.Resolve", "no artifact for %s/%s in release %s", osName, arch, resolvedVersion)
	}

	metrics.RecordReleaseResolve(channel)
	return artifact, nil
}

// previousVersion finds the from_version of the most recent Channel Event
// whose to_version equals current, per the "previous version" definition
// in the rollout bucketing rule. Returns "" when none is found.
func (s *Service) previousVersion(ctx context.Context, channel, current string) string {
	events, err := s.store.ListChannelEvents(ctx, channel, 20)
	if err != nil {
		return ""
	}
	for _, evt := range events {
		if evt.ToVersion == current && evt.FromVersion != "" {
			return evt.FromVersion
		}
	}
	return ""
}

// ListReleases lists every known release.
func (s *Service) ListReleases(ctx context.Context) ([]release.Release, error) {
	releases, err := s.store.ListReleases(ctx)
	if err != nil {
		return nil, apperr.Wrap("Release.ListReleases", err)
	}
	return releases, nil
}

// ListChannels lists every configured channel.
func (s *Service) ListChannels(ctx context.Context) ([]release.Channel, error) {
	channels, err := s.store.ListChannels(ctx)
	if err != nil {
		return nil, apperr.Wrap("Release.ListChannels", err)
	}
	return channels, nil
}
