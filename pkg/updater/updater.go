// Package updater ties the slot state, the installer and boot reporting together.
package updater

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/debojyoti452/shorebird/configs"
	"github.com/debojyoti452/shorebird/internal/pkg/metrics"
	"github.com/debojyoti452/shorebird/pkg/updater/healthchecker"
	"github.com/debojyoti452/shorebird/pkg/updater/installer"
	"github.com/debojyoti452/shorebird/pkg/updater/network"
	"github.com/debojyoti452/shorebird/pkg/updater/statemanager"
	"github.com/debojyoti452/shorebird/pkg/updater/updatererror"
	"github.com/debojyoti452/shorebird/pkg/updater/updaterstate"
	"github.com/debojyoti452/shorebird/pkg/updater/verifier"
)

// Updater manages the patch slots in one cache directory.
type Updater struct {
	cfg        configs.UpdaterConfig
	state      *statemanager.Manager[updaterstate.State]
	downloader network.Downloader
	verifier   verifier.ArtifactVerifier
}

// New loads the state in cfg.CacheDir, a missing state file starts a fresh device.
func New(cfg configs.UpdaterConfig, options ...func(*Updater)) (*Updater, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	u := &Updater{
		cfg: cfg,
		downloader: network.NewHTTPDownloader(
			network.WithTimeout(cfg.Download.Timeout),
			network.WithBackoff(cfg.Download.NewBackoff),
		),
		verifier: verifier.DigestVerifier{RequireHash: cfg.RequireHash},
	}
	for _, option := range options {
		option(u)
	}
	m, err := updaterstate.NewManager(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	u.state = m
	u.syncState()
	log.WithField("cache_dir", cfg.CacheDir).Debug("updater initialized")
	return u, nil
}

// WithDownloader replaces the HTTP downloader.
func WithDownloader(d network.Downloader) func(*Updater) {
	return func(u *Updater) {
		u.downloader = d
	}
}

// WithVerifier replaces the digest based verifier.
func WithVerifier(v verifier.ArtifactVerifier) func(*Updater) {
	return func(u *Updater) {
		u.verifier = v
	}
}

// State returns the in-memory state. Changes made through it are not saved.
func (u *Updater) State() *updaterstate.State {
	return u.state.State()
}

// Config returns the configuration the updater was created with.
func (u *Updater) Config() configs.UpdaterConfig {
	return u.cfg
}

// CurrentPatch returns the patch in the current slot.
func (u *Updater) CurrentPatch() (updaterstate.PatchInfo, bool) {
	return u.State().CurrentPatch()
}

// Install downloads the patch described by resp into an unused slot and returns its index.
// The new slot is not activated.
func (u *Updater) Install(ctx context.Context, resp network.PatchCheckResponse) (int, error) {
	return installer.DownloadIntoUnusedSlot(ctx, u.cfg.CacheDir, resp, u.State(),
		installer.WithDownloader(u.downloader),
		installer.WithVerifier(u.verifier),
		installer.WithPayloadFileName(u.cfg.PayloadFileName),
	)
}

// Activate makes the slot at index current and saves the state.
func (u *Updater) Activate(index int) error {
	err := u.modify(func(s *updaterstate.State) error {
		slot, ok := s.SlotAt(index)
		if !ok || slot.IsEmpty() {
			return updatererror.Newf(updatererror.ErrEmptySlot, "cannot activate slot %d", index)
		}
		s.SetCurrentSlot(index)
		return nil
	})
	if err != nil {
		return err
	}
	log.WithField("slot", index).Info("activated slot")
	return nil
}

// ReportLaunchSuccess records that the current patch booted.
func (u *Updater) ReportLaunchSuccess() error {
	return u.report(metrics.ResultSuccess, (*updaterstate.State).IsKnownBad, (*updaterstate.State).MarkAsGood)
}

// ReportLaunchFailure records that the current patch failed to boot.
func (u *Updater) ReportLaunchFailure() error {
	return u.report(metrics.ResultFailure, (*updaterstate.State).IsKnownGood, (*updaterstate.State).MarkAsBad)
}

func (u *Updater) report(
	outcome string,
	conflicts func(*updaterstate.State, string) bool,
	mark func(*updaterstate.State, updaterstate.PatchInfo),
) error {
	ignored := false
	err := u.modify(func(s *updaterstate.State) error {
		patch, ok := s.CurrentPatch()
		if !ok {
			return updatererror.New(updatererror.ErrNoCurrentPatch, nil)
		}
		ignored = conflicts(s, patch.Version)
		mark(s, patch)
		return nil
	})
	if err != nil {
		return err
	}
	metrics.BootReportsTotal.WithLabelValues(outcome).Inc()
	if ignored {
		metrics.IgnoredBootReportsTotal.Inc()
	}
	return nil
}

// NextBootPatch returns the patch that should be booted next.
// A known bad current patch is skipped in favor of the closest earlier slot that is not known bad.
func (u *Updater) NextBootPatch() (updaterstate.PatchInfo, bool) {
	s := u.State()
	current, ok := s.CurrentPatch()
	if ok && !s.IsKnownBad(current.Version) {
		return current, true
	}
	fallback, ok := s.FallbackPatch()
	if ok {
		log.WithFields(log.Fields{
			"current":  current.Version,
			"fallback": fallback.Version,
		}).Warn("current patch is not bootable, rolling back")
	}
	return fallback, ok
}

// CheckBoot runs hc against the current patch and reports the outcome.
// It returns an error if the patch is unhealthy or the report could not be saved.
func (u *Updater) CheckBoot(ctx context.Context, hc healthchecker.HealthChecker) error {
	patch, ok := u.CurrentPatch()
	if !ok {
		return updatererror.New(updatererror.ErrNoCurrentPatch, nil)
	}
	logger := log.WithField("version", patch.Version)
	if errCheck := hc.HealthCheck(ctx); errCheck != nil {
		logger.WithError(errCheck).Warn("patch is unhealthy")
		return errors.Join(fmt.Errorf("patch %s is unhealthy: %w", patch.Version, errCheck), u.ReportLaunchFailure())
	}
	logger.Info("patch is healthy")
	return u.ReportLaunchSuccess()
}

// modify runs cb on the state on disk under the state file lock and saves the result.
func (u *Updater) modify(cb func(*updaterstate.State) error) error {
	err := u.state.ModifyState(cb)
	u.syncState()
	return updaterstate.ClassifyError(err)
}

// syncState applies the configuration that is not part of the state file.
func (u *Updater) syncState() {
	s := u.State()
	s.SetRotationPolicy(u.cfg.RotationPolicy())
	metrics.CurrentSlot.Set(float64(s.CurrentSlotIndex()))
}
