// Package installer downloads patch payloads into slots and commits them to the updater state.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/debojyoti452/shorebird/internal/pkg/metrics"
	"github.com/debojyoti452/shorebird/internal/pkg/utils/fileutils"
	"github.com/debojyoti452/shorebird/internal/pkg/utils/pathsanitize"
	"github.com/debojyoti452/shorebird/pkg/updater/network"
	"github.com/debojyoti452/shorebird/pkg/updater/updatererror"
	"github.com/debojyoti452/shorebird/pkg/updater/updaterstate"
	"github.com/debojyoti452/shorebird/pkg/updater/verifier"
)

const (
	// DefaultPayloadFileName is the file name of the payload inside a slot directory.
	DefaultPayloadFileName = "dlc.vmcode"
	// downloadDirName holds payloads that are still being downloaded or verified.
	downloadDirName = "downloads"
)

type installOpts struct {
	downloader      network.Downloader
	verifier        verifier.ArtifactVerifier
	payloadFileName string
}

// Option configures an installation.
type Option func(*installOpts)

// WithDownloader sets the collaborator that fetches payloads.
func WithDownloader(d network.Downloader) Option {
	return func(o *installOpts) {
		o.downloader = d
	}
}

// WithVerifier sets the integrity check run before a payload is committed.
func WithVerifier(v verifier.ArtifactVerifier) Option {
	return func(o *installOpts) {
		o.verifier = v
	}
}

// WithPayloadFileName sets the name of the payload file inside the slot directory.
func WithPayloadFileName(name string) Option {
	return func(o *installOpts) {
		o.payloadFileName = name
	}
}

// SlotDir returns the directory of slot index inside cacheDir.
func SlotDir(cacheDir string, index int) string {
	return filepath.Join(cacheDir, fmt.Sprintf("slot_%d", index))
}

// SlotPath returns where the payload of slot index lives inside cacheDir.
func SlotPath(cacheDir string, index int, payloadFileName string) string {
	return filepath.Join(SlotDir(cacheDir, index), payloadFileName)
}

// DownloadIntoUnusedSlot installs the patch from resp into a slot that is not current
// and returns the index of that slot. The current slot is not changed.
func DownloadIntoUnusedSlot(ctx context.Context, cacheDir string, resp network.PatchCheckResponse, state *updaterstate.State, options ...Option) (int, error) {
	slotIndex := state.UnusedSlot()
	start := time.Now()
	err := downloadIntoSlot(ctx, cacheDir, resp, state, slotIndex, options...)
	result := metrics.ResultSuccess
	switch {
	case errors.Is(err, updatererror.ErrMalformedResponse):
		result = metrics.ResultNoPatch
	case err != nil:
		result = metrics.ResultFailure
	}
	metrics.PatchInstallsTotal.WithLabelValues(result).Inc()
	metrics.PatchInstallDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}
	return slotIndex, nil
}

func downloadIntoSlot(ctx context.Context, cacheDir string, resp network.PatchCheckResponse, state *updaterstate.State, slotIndex int, options ...Option) error {
	opts := installOpts{
		downloader:      network.NewHTTPDownloader(),
		verifier:        verifier.DigestVerifier{},
		payloadFileName: DefaultPayloadFileName,
	}
	for _, option := range options {
		option(&opts)
	}

	var patch network.Patch
	switch r := resp.Result().(type) {
	case network.PatchAvailable:
		patch = r.Patch
	case network.NoUpdate:
		return updatererror.Newf(updatererror.ErrMalformedResponse, "response for slot %d has no patch", slotIndex)
	}
	if patch.DownloadURL == "" || patch.Version == "" {
		return updatererror.Newf(updatererror.ErrMalformedResponse, "patch descriptor is incomplete: %+v", patch)
	}
	logger := log.WithFields(log.Fields{
		"slot":    slotIndex,
		"version": patch.Version,
	})
	slotPath := SlotPath(cacheDir, slotIndex, opts.payloadFileName)
	if err := pathsanitize.InTrustedRoot(slotPath, SlotDir(cacheDir, slotIndex)); err != nil {
		return updatererror.New(updatererror.ErrIO, fmt.Errorf("refusing to write payload to %q: %w", slotPath, err))
	}

	// download next to the slot so the final rename stays on one filesystem
	downloadDir := filepath.Join(cacheDir, downloadDirName)
	if err := fileutils.EnsureDir(downloadDir); err != nil {
		return updatererror.New(updatererror.ErrIO, err)
	}
	tmp, err := os.CreateTemp(downloadDir, fmt.Sprintf("slot_%d-*.part", slotIndex))
	if err != nil {
		return updatererror.New(updatererror.ErrIO, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() {
		// no-op once the payload was moved into the slot
		if err := fileutils.RemoveIfExists(tmpPath); err != nil {
			logger.WithError(err).Warnf("failed to remove %q", tmpPath)
		}
	}()

	logger.Infof("downloading patch from %s", patch.DownloadURL)
	if err := opts.downloader.DownloadFileToPath(ctx, patch.DownloadURL, tmpPath); err != nil {
		return updatererror.New(updatererror.ErrDownload, err)
	}
	if err := opts.verifier.VerifyArtifact(patch.Hash, tmpPath); err != nil {
		return updatererror.New(updatererror.ErrIntegrity, err)
	}

	// the slot must not name a version while its bytes are being replaced
	if old, ok := state.SlotAt(slotIndex); ok && !old.IsEmpty() {
		logger.WithField("old_version", old.PatchVersion).Debug("clearing slot before replacing its payload")
		state.SetSlot(slotIndex, updaterstate.Slot{})
		if err := state.Save(cacheDir); err != nil {
			state.SetSlot(slotIndex, old)
			return err
		}
	}

	if err := fileutils.EnsureDir(filepath.Dir(slotPath)); err != nil {
		return updatererror.New(updatererror.ErrIO, err)
	}
	if err := fileutils.ReplaceFile(tmpPath, slotPath); err != nil {
		return updatererror.New(updatererror.ErrIO, err)
	}

	previous, existed := state.SlotAt(slotIndex)
	state.SetSlot(slotIndex, updaterstate.Slot{
		Path:         slotPath,
		PatchVersion: patch.Version,
	})
	if err := state.Save(cacheDir); err != nil {
		if existed {
			state.SetSlot(slotIndex, previous)
		} else {
			state.TruncateSlots(slotIndex)
		}
		return err
	}
	logger.Infof("installed patch into %q", slotPath)
	return nil
}
