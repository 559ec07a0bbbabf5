package updaterstate

import "fmt"

// RotationPolicy describes how many slots take turns receiving new patches.
type RotationPolicy struct {
	SlotCount int
}

// DefaultRotationPolicy is the A/B scheme with two slots.
func DefaultRotationPolicy() RotationPolicy {
	return RotationPolicy{SlotCount: 2}
}

// Validate checks that at least two slots rotate.
func (p RotationPolicy) Validate() error {
	if p.SlotCount < 2 {
		return fmt.Errorf("slot count must be at least 2, got %d", p.SlotCount)
	}
	return nil
}

// Next picks the slot after current. Slot 0 is picked when current does not
// point to an existing slot or is the last slot of the rotation.
// The result never exceeds existingSlots, so the slot list grows by at most one.
func (p RotationPolicy) Next(current, existingSlots int) int {
	if current < 0 || current >= existingSlots {
		return 0
	}
	if current+1 < p.SlotCount {
		return current + 1
	}
	return 0
}
