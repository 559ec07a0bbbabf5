package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/debojyoti452/shorebird/internal/pkg/metrics"
	"github.com/debojyoti452/shorebird/internal/pkg/utils/pathsanitize"
	"github.com/debojyoti452/shorebird/pkg/updater/network"
	"github.com/debojyoti452/shorebird/pkg/updater/updatererror"
	"github.com/debojyoti452/shorebird/pkg/updater/updaterstate"
	"github.com/debojyoti452/shorebird/pkg/updater/verifier"
)

// fakeDownloader serves payloads from memory, keyed by URL.
type fakeDownloader struct {
	payloads map[string][]byte
	calls    int
}

func (f *fakeDownloader) DownloadFileToPath(_ context.Context, url, destination string) error {
	f.calls++
	data, ok := f.payloads[url]
	if !ok {
		return errors.New("404 not found")
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return err
	}
	return os.WriteFile(destination, data, 0600)
}

func response(url, version, hash string) network.PatchCheckResponse {
	return network.NewPatchCheckResponse(network.Patch{DownloadURL: url, Version: version, Hash: hash})
}

func assertNoTempFiles(t *testing.T, cacheDir string) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(cacheDir, downloadDirName))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no leftover downloads, found %d", len(entries))
	}
}

func TestDownloadIntoUnusedSlot_FreshState(t *testing.T) {
	cacheDir := t.TempDir()
	state := updaterstate.New()
	dl := &fakeDownloader{payloads: map[string][]byte{"http://x/patch": []byte("v1")}}

	index, err := DownloadIntoUnusedSlot(context.Background(), cacheDir, response("http://x/patch", "1.0.0", ""), state, WithDownloader(dl))
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if index != 0 {
		t.Errorf("expected slot 0, got %d", index)
	}
	if _, ok := state.CurrentPatch(); ok {
		t.Error("installing must not change the current patch")
	}

	state.SetCurrentSlot(0)
	got, ok := state.CurrentPatch()
	if !ok {
		t.Fatal("expected current patch after activation")
	}
	want := updaterstate.PatchInfo{Path: filepath.Join(cacheDir, "slot_0", DefaultPayloadFileName), Version: "1.0.0"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	data, err := os.ReadFile(want.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1" {
		t.Errorf("unexpected payload %q", data)
	}

	onDisk, err := updaterstate.Load(cacheDir)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(onDisk.Slots(), state.Slots()) {
		t.Errorf("saved slots %+v differ from memory %+v", onDisk.Slots(), state.Slots())
	}
	if onDisk.CurrentSlotIndex() != updaterstate.NoSlot {
		t.Errorf("activation was persisted implicitly: %d", onDisk.CurrentSlotIndex())
	}
	assertNoTempFiles(t, cacheDir)
}

func TestDownloadIntoUnusedSlot_NoPatch(t *testing.T) {
	cacheDir := t.TempDir()
	state := updaterstate.New()
	dl := &fakeDownloader{}
	before := testutil.ToFloat64(metrics.PatchInstallsTotal.WithLabelValues(metrics.ResultNoPatch))

	_, err := DownloadIntoUnusedSlot(context.Background(), cacheDir, network.PatchCheckResponse{PatchAvailable: true}, state, WithDownloader(dl))
	if !errors.Is(err, updatererror.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if dl.calls != 0 {
		t.Error("downloader must not be called without a patch")
	}
	if _, err := os.Stat(updaterstate.StatePath(cacheDir)); !os.IsNotExist(err) {
		t.Error("state on disk must be unchanged")
	}
	entries, _ := os.ReadDir(cacheDir)
	if len(entries) != 0 {
		t.Errorf("expected untouched cache directory, found %d entries", len(entries))
	}
	if got := testutil.ToFloat64(metrics.PatchInstallsTotal.WithLabelValues(metrics.ResultNoPatch)); got != before+1 {
		t.Errorf("expected no_patch counter to increase, got %v -> %v", before, got)
	}
}

func TestDownloadIntoUnusedSlot_IncompleteDescriptor(t *testing.T) {
	state := updaterstate.New()
	_, err := DownloadIntoUnusedSlot(context.Background(), t.TempDir(), response("", "1.0.0", ""), state, WithDownloader(&fakeDownloader{}))
	if !errors.Is(err, updatererror.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestDownloadIntoUnusedSlot_DownloadError(t *testing.T) {
	cacheDir := t.TempDir()
	state := updaterstate.New()
	_, err := DownloadIntoUnusedSlot(context.Background(), cacheDir, response("http://x/missing", "1.0.0", ""), state, WithDownloader(&fakeDownloader{}))
	if !errors.Is(err, updatererror.ErrDownload) {
		t.Fatalf("expected ErrDownload, got %v", err)
	}
	if len(state.Slots()) != 0 {
		t.Errorf("state was modified: %+v", state.Slots())
	}
	if _, err := os.Stat(updaterstate.StatePath(cacheDir)); !os.IsNotExist(err) {
		t.Error("state must not be saved after a failed download")
	}
	assertNoTempFiles(t, cacheDir)
}

func TestDownloadIntoUnusedSlot_Integrity(t *testing.T) {
	payload := []byte("patch bytes")
	dl := &fakeDownloader{payloads: map[string][]byte{"http://x/p": payload}}

	t.Run("matching hash", func(t *testing.T) {
		state := updaterstate.New()
		_, err := DownloadIntoUnusedSlot(context.Background(), t.TempDir(), response("http://x/p", "2", digest.FromBytes(payload).String()), state, WithDownloader(dl))
		if err != nil {
			t.Fatalf("install failed: %v", err)
		}
	})
	t.Run("mismatching hash", func(t *testing.T) {
		cacheDir := t.TempDir()
		state := updaterstate.New()
		_, err := DownloadIntoUnusedSlot(context.Background(), cacheDir, response("http://x/p", "2", digest.FromString("other").String()), state, WithDownloader(dl))
		if !errors.Is(err, updatererror.ErrIntegrity) {
			t.Fatalf("expected ErrIntegrity, got %v", err)
		}
		if len(state.Slots()) != 0 {
			t.Errorf("state was modified: %+v", state.Slots())
		}
		if _, err := os.Stat(SlotPath(cacheDir, 0, DefaultPayloadFileName)); !os.IsNotExist(err) {
			t.Error("unverified payload was moved into the slot")
		}
		assertNoTempFiles(t, cacheDir)
	})
	t.Run("required hash missing", func(t *testing.T) {
		state := updaterstate.New()
		_, err := DownloadIntoUnusedSlot(context.Background(), t.TempDir(), response("http://x/p", "2", ""), state,
			WithDownloader(dl), WithVerifier(verifier.DigestVerifier{RequireHash: true}))
		if !errors.Is(err, updatererror.ErrIntegrity) {
			t.Fatalf("expected ErrIntegrity, got %v", err)
		}
	})
}

func TestDownloadIntoUnusedSlot_Rotation(t *testing.T) {
	cacheDir := t.TempDir()
	state := updaterstate.New()
	dl := &fakeDownloader{payloads: map[string][]byte{
		"http://x/1": []byte("one"),
		"http://x/2": []byte("two"),
		"http://x/3": []byte("three"),
	}}
	install := func(url, version string) int {
		t.Helper()
		index, err := DownloadIntoUnusedSlot(context.Background(), cacheDir, response(url, version, ""), state, WithDownloader(dl))
		if err != nil {
			t.Fatalf("install of %s failed: %v", version, err)
		}
		state.SetCurrentSlot(index)
		return index
	}

	if got := install("http://x/1", "1"); got != 0 {
		t.Errorf("first install went to slot %d", got)
	}
	if got := install("http://x/2", "2"); got != 1 {
		t.Errorf("second install went to slot %d", got)
	}
	if got := install("http://x/3", "3"); got != 0 {
		t.Errorf("third install went to slot %d", got)
	}

	slot0, _ := state.SlotAt(0)
	if slot0.PatchVersion != "3" {
		t.Errorf("expected slot 0 to hold version 3, got %q", slot0.PatchVersion)
	}
	data, err := os.ReadFile(slot0.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "three" {
		t.Errorf("expected replaced payload, got %q", data)
	}
	slot1, _ := state.SlotAt(1)
	if slot1.PatchVersion != "2" {
		t.Errorf("previous slot must stay available for fallback, got %q", slot1.PatchVersion)
	}
}

func TestDownloadIntoUnusedSlot_SaveFailureRevertsSlot(t *testing.T) {
	cacheDir := t.TempDir()
	// a directory in place of the state file makes every save fail
	if err := os.Mkdir(updaterstate.StatePath(cacheDir), 0700); err != nil {
		t.Fatal(err)
	}
	state := updaterstate.New()
	dl := &fakeDownloader{payloads: map[string][]byte{"http://x/p": []byte("p")}}
	_, err := DownloadIntoUnusedSlot(context.Background(), cacheDir, response("http://x/p", "1", ""), state, WithDownloader(dl))
	if !errors.Is(err, updatererror.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if len(state.Slots()) != 0 {
		t.Errorf("in-memory state references an uncommitted slot: %+v", state.Slots())
	}
}

func TestDownloadIntoUnusedSlot_CustomPayloadName(t *testing.T) {
	cacheDir := t.TempDir()
	state := updaterstate.New()
	dl := &fakeDownloader{payloads: map[string][]byte{"http://x/p": []byte("p")}}
	index, err := DownloadIntoUnusedSlot(context.Background(), cacheDir, response("http://x/p", "1", ""), state,
		WithDownloader(dl), WithPayloadFileName("libapp.so"))
	if err != nil {
		t.Fatal(err)
	}
	slot, _ := state.SlotAt(index)
	if slot.Path != filepath.Join(cacheDir, "slot_0", "libapp.so") {
		t.Errorf("unexpected slot path %q", slot.Path)
	}
}

func TestDownloadIntoUnusedSlot_PayloadNameEscapingSlot(t *testing.T) {
	for _, name := range []string{"../evil", "../../evil", "..", ""} {
		t.Run(name, func(t *testing.T) {
			cacheDir := t.TempDir()
			state := updaterstate.New()
			dl := &fakeDownloader{payloads: map[string][]byte{"http://x/p": []byte("p")}}
			_, err := DownloadIntoUnusedSlot(context.Background(), cacheDir, response("http://x/p", "1", ""), state,
				WithDownloader(dl), WithPayloadFileName(name))
			if !errors.Is(err, pathsanitize.ErrOutsideTrustedRoot) {
				t.Fatalf("expected ErrOutsideTrustedRoot, got %v", err)
			}
			if dl.calls != 0 {
				t.Error("nothing must be downloaded for an unsafe payload path")
			}
		})
	}
}

func TestDownloadIntoUnusedSlot_CurrentIndexPastSlots(t *testing.T) {
	cacheDir := t.TempDir()
	legacy := `{"failed_patches": [], "successful_patches": [], "current_slot_index": 1,
		"slots": [{"path": "/old/slot_0/dlc.vmcode", "patch_version": "1"}]}`
	if err := os.WriteFile(updaterstate.StatePath(cacheDir), []byte(legacy), 0600); err != nil {
		t.Fatal(err)
	}
	state, err := updaterstate.Load(cacheDir)
	if err != nil {
		t.Fatal(err)
	}
	state.SetRotationPolicy(updaterstate.RotationPolicy{SlotCount: 3})
	dl := &fakeDownloader{payloads: map[string][]byte{"http://x/2": []byte("two")}}

	index, err := DownloadIntoUnusedSlot(context.Background(), cacheDir, response("http://x/2", "2", ""), state, WithDownloader(dl))
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if index != 0 {
		t.Errorf("expected slot 0 for an out of range current index, got %d", index)
	}
	if got := len(state.Slots()); got != 1 {
		t.Errorf("expected the slot list to keep 1 slot, got %d", got)
	}
	if _, err := os.Stat(SlotDir(cacheDir, 2)); !os.IsNotExist(err) {
		t.Error("payload was written to a slot that does not exist")
	}
}
