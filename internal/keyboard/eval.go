package keyboard

import "github.com/keyd-cpp/keyd/internal/config"

// EnsureBackup lazily snapshots the config before the first runtime
// mutation so that a later reset is cheap and deterministic.
func (k *Keyboard) EnsureBackup() {
	if k.backup == nil {
		k.backup = config.NewBackup(k.Config)
	}
}

// HasBackup reports whether a mutation snapshot exists.
func (k *Keyboard) HasBackup() bool { return k.backup != nil }

// Eval applies a runtime mutation expression: "reset" restores the
// snapshot, "unbind_all" empties every keymap and chord list, and
// anything else is a [section.]key = descriptor binding fed back through
// the parser.
func (k *Keyboard) Eval(exp string) bool {
	if exp == "" {
		return true
	}

	switch exp {
	case "reset":
		if k.backup != nil {
			k.backup.Restore(k.Config)
			k.UpdateLayerState()
		}
		return true
	case "unbind_all":
		for i := range k.Config.Layers {
			k.Config.Layers[i].Chords = nil
			k.Config.Layers[i].Keymap.Clear()
		}
		return true
	}

	idx, err := k.Config.AddEntry(exp)
	if err != nil {
		return false
	}
	k.Config.Layers[idx].Keymap.Sort()
	k.UpdateLayerState()
	return true
}

// ResetOutput releases every key the engine is holding down on the output
// side.
func (k *Keyboard) ResetOutput() {
	k.resetKeystate()
}

// AccumulateScroll folds pointer deltas into the scroll emulation
// accumulator and returns whole wheel ticks. active is false when scroll
// emulation is off and the deltas should pass through as pointer motion.
func (k *Keyboard) AccumulateScroll(dx, dy int32) (xticks, yticks int32, active bool) {
	if !k.scroll.active {
		return 0, 0, false
	}
	if k.scroll.sensitivity == 0 {
		return 0, 0, true
	}

	k.scroll.x += int(dx)
	k.scroll.y += int(dy)

	xticks = int32(k.scroll.x / k.scroll.sensitivity)
	k.scroll.x %= k.scroll.sensitivity

	yticks = int32(k.scroll.y / k.scroll.sensitivity)
	k.scroll.y %= k.scroll.sensitivity

	return xticks, yticks, true
}
