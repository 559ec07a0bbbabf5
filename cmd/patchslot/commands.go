package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/debojyoti452/shorebird/internal/pkg/utils/funcutils"
	"github.com/debojyoti452/shorebird/pkg/updater"
	"github.com/debojyoti452/shorebird/pkg/updater/healthchecker"
	"github.com/debojyoti452/shorebird/pkg/updater/network"
	"github.com/debojyoti452/shorebird/pkg/updater/updaterstate"
)

// install a patch either from a saved patch check response or from flags.
func (args *cliArgs) install(ctx context.Context, u *updater.Updater, out io.Writer) error {
	resp, err := args.checkResponse()
	if err != nil {
		return err
	}
	index, err := u.Install(ctx, resp)
	if err != nil {
		return err
	}
	if args.Install.Activate {
		if err := u.Activate(index); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(out, index)
	return err
}

func (args *cliArgs) checkResponse() (network.PatchCheckResponse, error) {
	a := args.Install
	switch {
	case a.ResponsePath != "" && a.URL != "":
		return network.PatchCheckResponse{}, errors.New("--response and --url are mutually exclusive")
	case a.ResponsePath == "-":
		return network.ParseCheckResponse(os.Stdin)
	case a.ResponsePath != "":
		fp, err := os.Open(a.ResponsePath)
		if err != nil {
			return network.PatchCheckResponse{}, err
		}
		defer funcutils.PanicOrLogOnErr(fp.Close, false, "failed to close response file")
		return network.ParseCheckResponse(fp)
	case a.URL != "":
		if a.Version == "" {
			return network.PatchCheckResponse{}, errors.New("--version is required with --url")
		}
		return network.NewPatchCheckResponse(network.Patch{
			DownloadURL: a.URL,
			Version:     a.Version,
			Hash:        a.Hash,
		}), nil
	default:
		return network.PatchCheckResponse{}, errors.New("either --response or --url is required")
	}
}

func (args *cliArgs) checkBoot(ctx context.Context, u *updater.Updater) error {
	return u.CheckBoot(ctx, healthchecker.NewShellHealthChecker(args.CheckBootCmd))
}

type statusOutput struct {
	CacheDir          string              `yaml:"cache_dir"`
	CurrentSlotIndex  int                 `yaml:"current_slot_index"`
	CurrentPatch      *patchOutput        `yaml:"current_patch"`
	NextBootPatch     *patchOutput        `yaml:"next_boot_patch"`
	Slots             []updaterstate.Slot `yaml:"slots"`
	SuccessfulPatches []string            `yaml:"successful_patches"`
	FailedPatches     []string            `yaml:"failed_patches"`
}

type patchOutput struct {
	Path    string `yaml:"path"`
	Version string `yaml:"version"`
}

func toPatchOutput(p updaterstate.PatchInfo, ok bool) *patchOutput {
	if !ok {
		return nil
	}
	return &patchOutput{Path: p.Path, Version: p.Version}
}

func printStatus(out io.Writer, u *updater.Updater) error {
	s := u.State()
	status := statusOutput{
		CacheDir:          u.Config().CacheDir,
		CurrentSlotIndex:  s.CurrentSlotIndex(),
		CurrentPatch:      toPatchOutput(s.CurrentPatch()),
		NextBootPatch:     toPatchOutput(u.NextBootPatch()),
		Slots:             s.Slots(),
		SuccessfulPatches: s.SuccessfulPatches(),
		FailedPatches:     s.FailedPatches(),
	}
	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(status); err != nil {
		return err
	}
	return encoder.Close()
}

// printNextBoot prints nothing if the base release should be booted.
func printNextBoot(out io.Writer, u *updater.Updater) error {
	patch, ok := u.NextBootPatch()
	if !ok {
		log.Info("no bootable patch, booting the base release")
		return nil
	}
	_, err := fmt.Fprintln(out, patch.Path)
	return err
}
