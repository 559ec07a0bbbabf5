// Package updaterstate holds the durable record of patch slots and boot history.
//
// The State decides which patch is current and remembers which patch versions
// booted (known good) or failed to boot (known bad). Known good and known bad
// versions are never forgotten and never overlap, which keeps a device from
// selecting a version that failed before.
package updaterstate

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// NoSlot is the current slot index of a state in which no slot was activated yet.
const NoSlot = -1

// Slot is a storage location holding one patch payload.
type Slot struct {
	// Path to the payload of the slot.
	Path string `json:"path" yaml:"path"`
	// PatchVersion is the version of the patch in this slot.
	PatchVersion string `json:"patch_version" yaml:"patch_version"`
}

// IsEmpty reports whether the slot is a placeholder without a payload.
func (s Slot) IsEmpty() bool {
	return s.Path == "" && s.PatchVersion == ""
}

// PatchInfo returns the view of the payload in this slot.
func (s Slot) PatchInfo() PatchInfo {
	return PatchInfo{
		Path:    s.Path,
		Version: s.PatchVersion,
	}
}

// PatchInfo describes the payload stored in a slot.
type PatchInfo struct {
	Path    string
	Version string
}

// State represents the state of the updater.
// Callers hold a pointer to it, all modifications go through its methods.
type State struct {
	// failedPatches are the versions that failed to boot. They are never attempted again.
	failedPatches []string
	// successfulPatches are the versions that booted. We never roll back past one of these.
	successfulPatches []string
	currentSlotIndex  int
	slots             []Slot
	// policy is configuration and not persisted.
	policy RotationPolicy
}

// New returns the state of a device that has never installed a patch.
func New() *State {
	return &State{
		failedPatches:     []string{},
		successfulPatches: []string{},
		currentSlotIndex:  NoSlot,
		slots:             []Slot{},
	}
}

// SetRotationPolicy configures how UnusedSlot picks the next slot.
func (s *State) SetRotationPolicy(p RotationPolicy) {
	s.policy = p
}

// RotationPolicy returns the configured rotation policy, the two-slot default if none was set.
func (s *State) RotationPolicy() RotationPolicy {
	if s.policy.SlotCount == 0 {
		return DefaultRotationPolicy()
	}
	return s.policy
}

// IsKnownGood reports whether version booted successfully before.
func (s *State) IsKnownGood(version string) bool {
	return lo.Contains(s.successfulPatches, version)
}

// IsKnownBad reports whether version failed to boot before.
func (s *State) IsKnownBad(version string) bool {
	return lo.Contains(s.failedPatches, version)
}

// MarkAsGood records that the patch booted.
// Reporting success for a known bad patch is a caller error, it is logged and ignored.
func (s *State) MarkAsGood(patch PatchInfo) {
	if s.IsKnownBad(patch.Version) {
		log.WithField("version", patch.Version).Warn("tried to report successful launch for a known bad patch, ignoring")
		return
	}
	if s.IsKnownGood(patch.Version) {
		return
	}
	s.successfulPatches = append(s.successfulPatches, patch.Version)
}

// MarkAsBad records that the patch failed to boot.
// Reporting failure for a known good patch is a caller error, it is logged and ignored.
func (s *State) MarkAsBad(patch PatchInfo) {
	if s.IsKnownGood(patch.Version) {
		log.WithField("version", patch.Version).Warn("tried to report failed launch for a known good patch, ignoring")
		return
	}
	if s.IsKnownBad(patch.Version) {
		return
	}
	s.failedPatches = append(s.failedPatches, patch.Version)
}

// CurrentPatch returns the patch in the current slot.
// It returns false if the current index does not point to a populated slot.
func (s *State) CurrentPatch() (PatchInfo, bool) {
	slot, ok := s.SlotAt(s.currentSlotIndex)
	if !ok || slot.IsEmpty() {
		return PatchInfo{}, false
	}
	return slot.PatchInfo(), true
}

// CurrentSlotIndex returns the index of the active slot, it may be out of range.
func (s *State) CurrentSlotIndex() int {
	return s.currentSlotIndex
}

// SetCurrentSlot selects the slot that is booted next.
// It does not save the state, callers that need durability must call Save afterward.
func (s *State) SetCurrentSlot(index int) {
	s.currentSlotIndex = index
}

// UnusedSlot returns the index of a slot that is not the current one.
func (s *State) UnusedSlot() int {
	return s.UnusedSlotWithPolicy(s.RotationPolicy())
}

// UnusedSlotWithPolicy is UnusedSlot with an explicit rotation policy.
func (s *State) UnusedSlotWithPolicy(p RotationPolicy) int {
	return p.Next(s.currentSlotIndex, len(s.slots))
}

// SlotAt returns the slot at index and whether it exists.
func (s *State) SlotAt(index int) (Slot, bool) {
	if index < 0 || index >= len(s.slots) {
		return Slot{}, false
	}
	return s.slots[index], true
}

// SetSlot stores slot at index. The slot list grows by at most one slot,
// asking for an index beyond that is a programming error and panics.
func (s *State) SetSlot(index int, slot Slot) {
	if index < 0 || index > len(s.slots) {
		panic(fmt.Sprintf("slot index %d out of range, %d slots exist", index, len(s.slots)))
	}
	if index == len(s.slots) {
		s.slots = append(s.slots, Slot{})
	}
	s.slots[index] = slot
}

// TruncateSlots drops every slot at index n and above.
func (s *State) TruncateSlots(n int) {
	if n >= 0 && n < len(s.slots) {
		s.slots = s.slots[:n]
	}
}

// Slots returns a copy of all slots.
func (s *State) Slots() []Slot {
	return slices.Clone(s.slots)
}

// SuccessfulPatches returns a copy of the known good versions.
func (s *State) SuccessfulPatches() []string {
	return slices.Clone(s.successfulPatches)
}

// FailedPatches returns a copy of the known bad versions.
func (s *State) FailedPatches() []string {
	return slices.Clone(s.failedPatches)
}

// FallbackPatch returns the closest populated slot before the current one in
// rotation order whose version is not known bad.
func (s *State) FallbackPatch() (PatchInfo, bool) {
	n := len(s.slots)
	if n == 0 || s.currentSlotIndex < 0 || s.currentSlotIndex >= n {
		return PatchInfo{}, false
	}
	for k := 1; k < n; k++ {
		slot := s.slots[(s.currentSlotIndex-k+n)%n]
		if slot.IsEmpty() || s.IsKnownBad(slot.PatchVersion) {
			continue
		}
		return slot.PatchInfo(), true
	}
	return PatchInfo{}, false
}
