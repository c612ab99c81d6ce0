// Package keyboard implements the per-device remapping engine: a pure
// step function from timestamped key events to output key transitions,
// driven by the active config and accumulated layer, chord, pending-key,
// oneshot and macro state.
//
// Here be tiny dragons.
package keyboard

import (
	"github.com/keyd-cpp/keyd/internal/config"
	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/logging"
)

const (
	// cacheSize bounds concurrently held keys (effectively nkro).
	cacheSize = 16

	maxTimeouts    = 64
	chordQueueSize = 32
)

// KeyEvent is one input transition. Code 0 marks a timer tick that only
// drives deadline state forward.
type KeyEvent struct {
	Code    uint16
	Pressed bool
	Time    int64
}

// Output receives the engine's effects.
type Output struct {
	SendKey       func(code uint16, pressed bool)
	OnLayerChange func(kbd *Keyboard, layer int, active bool)
}

// cacheEntry preserves the code->descriptor mapping chosen at press time
// so release semantics survive mid-stroke layer changes.
type cacheEntry struct {
	code  uint16
	d     config.Descriptor
	dl    int16
	layer int16
}

type layerState struct {
	activationTime int64

	// active is a signed activation count; the layer is active while
	// it is positive.
	active       int8
	toggled      bool
	oneshotDepth uint8
	composite    bool
}

func (s *layerState) isActive() bool { return s.active > 0 }

type chordState int8

const (
	chordResolving chordState = iota
	chordInactive
	chordPendingDisambiguation
	chordPendingHoldTimeout
)

type pendingBehaviour int8

const (
	pkInterruptAction1 pendingBehaviour = iota
	pkInterruptAction2
	pkUninterruptible
	pkUninterruptibleTapAction2
)

type activeChord struct {
	active bool
	chord  config.Chord
	layer  int16
}

// Keyboard is the engine state for one config; it may correspond to more
// than one physical input device.
type Keyboard struct {
	Config *config.Config
	Output Output

	backup *config.Backup

	cache [cacheSize]cacheEntry

	layout int16

	lastPressedOutputCode uint16
	lastPressedCode       uint16

	oneshotLatch bool

	inhibitModifierGuard bool

	activeMacro      int
	activeMacroLayer int16

	macroTimeout        int64
	oneshotTimeout      int64
	macroRepeatInterval int64

	overloadStartTime int64
	lastSimpleKeyTime int64

	timeouts   [maxTimeouts]int64
	nrTimeouts int

	activeChords [keys.ChordMax - keys.Chord1 + 1]activeChord

	chord struct {
		queue   [chordQueueSize]KeyEvent
		queueSz int

		match      *config.Chord
		matchLayer int16

		startCode    uint16
		lastCodeTime int64

		state chordState
	}

	pending struct {
		code uint16
		dl   int16

		expire    int64
		tapExpiry int64

		behaviour pendingBehaviour

		queue   [chordQueueSize]KeyEvent
		queueSz int

		action1 config.Descriptor
		action2 config.Descriptor
	}

	layerState []layerState

	// capstate tracks physical key state, keystate output key state.
	capstate [keys.EntryCount]bool
	keystate [keys.EntryCount]bool

	scroll struct {
		x int
		y int

		// sensitivity is mouse units per scroll unit (higher == slower).
		sensitivity int
		active      bool
	}

	activeLayers []uint16
	tick         int64
}

// New initializes an engine for a finalized or freshly parsed config.
func New(cfg *config.Config, output Output) *Keyboard {
	kbd := &Keyboard{
		Config:      cfg,
		Output:      output,
		activeMacro: -1,
		tick:        1,
	}

	kbd.UpdateLayerState()
	kbd.layerState[0].active = 1
	kbd.layerState[0].activationTime = 0

	if cfg.DefaultLayout != "" && cfg.DefaultLayout != cfg.Layers[0].Name {
		found := false
		for i := 1; i < len(cfg.Layers); i++ {
			if cfg.Layers[i].Name == cfg.DefaultLayout {
				kbd.layerState[i].active = 1
				kbd.layerState[i].activationTime = 1
				kbd.layout = int16(i)
				found = true
				break
			}
		}
		if !found {
			logging.Warnf("could not find default layout %s", cfg.DefaultLayout)
		}
	}

	kbd.chord.queueSz = 0
	kbd.chord.state = chordInactive

	return kbd
}

// UpdateLayerState resizes per-layer state after config mutation and
// refreshes the composite flags.
func (k *Keyboard) UpdateLayerState() {
	for len(k.layerState) < len(k.Config.Layers) {
		k.layerState = append(k.layerState, layerState{})
	}
	k.layerState = k.layerState[:len(k.Config.Layers)]
	for i := range k.Config.Layers {
		k.layerState[i].composite = k.Config.Layers[i].IsComposite()
	}
}

// Layout returns the current base layout index.
func (k *Keyboard) Layout() int { return int(k.layout) }

// LayerActive reports whether a layer is currently active.
func (k *Keyboard) LayerActive(idx int) bool {
	return idx < len(k.layerState) && k.layerState[idx].isActive()
}

// now returns a monotonically increasing activation tick. A syscall clock
// is unnecessary; only ordering matters.
func (k *Keyboard) now() int64 {
	t := k.tick
	k.tick++
	return t
}

func (k *Keyboard) cacheSet(code uint16, ent *cacheEntry) bool {
	slot := -1
	for i := 0; i < cacheSize; i++ {
		if k.cache[i].code == code {
			slot = i
			break
		} else if k.cache[i].code == 0 {
			slot = i
		}
	}

	if slot == -1 {
		return false
	}

	if ent == nil {
		k.cache[slot].code = 0
	} else {
		k.cache[slot] = *ent
		k.cache[slot].code = code
	}

	return true
}

func (k *Keyboard) cacheGet(code uint16) *cacheEntry {
	for i := 0; i < cacheSize; i++ {
		if k.cache[i].code == code {
			return &k.cache[i]
		}
	}
	return nil
}

func (k *Keyboard) resetKeystate() {
	for code := range k.keystate {
		if k.keystate[code] {
			k.Output.SendKey(uint16(code), false)
			k.keystate[code] = false
		}
	}
}

func (k *Keyboard) sendKey(code uint16, pressed bool) {
	if code == keys.Noop {
		return
	}
	if int(code) >= len(k.keystate) {
		logging.Warnf("sendKey: invalid code %d", code)
		return
	}

	if pressed {
		k.lastPressedOutputCode = code
	}

	if k.keystate[code] != pressed {
		k.keystate[code] = pressed
		k.Output.SendKey(code, pressed)
	}
}

// clearMod releases a modifier key. Some modifiers have a special meaning
// when used in isolation (e.g. meta in Gnome, alt in Firefox); to prevent
// spurious key presses we avoid adjacent down/up pairs by interposing an
// additional control sequence.
func (k *Keyboard) clearMod(code uint16) {
	guard := k.lastPressedOutputCode == code &&
		(code == keys.KeyLeftMeta || code == keys.KeyLeftAlt || code == keys.KeyRightAlt) &&
		!k.inhibitModifierGuard &&
		!k.Config.DisableModifierGuard

	if guard && !k.keystate[keys.KeyLeftCtrl] {
		k.sendKey(keys.KeyLeftCtrl, true)
		k.sendKey(code, false)
		k.sendKey(keys.KeyLeftCtrl, false)
	} else {
		k.sendKey(code, false)
	}
}

// setMods brings the output modifier state in sync with the requested
// mask, preferring keys the user is physically holding.
func (k *Keyboard) setMods(mods uint8) {
	for i := 0; i < keys.ModMax; i++ {
		mask := uint8(1) << i
		codes := k.Config.Modifiers[i]

		if mask&mods != 0 {
			for _, code := range codes {
				if k.capstate[code] && !k.keystate[code] {
					k.sendKey(code, true)
				}
				if !k.capstate[code] && k.keystate[code] && (len(codes) == 0 || code != codes[0]) {
					k.sendKey(code, false)
				}
			}
			if k.keystate[keys.FakeMod+i] {
				continue
			}
			held := false
			for _, code := range codes {
				if k.keystate[code] {
					held = true
					break
				}
			}
			if held {
				continue
			}
			if len(codes) > 0 {
				k.sendKey(codes[0], true)
			}
		} else {
			k.keystate[keys.FakeMod+i] = false
			for _, code := range codes {
				if k.keystate[code] {
					k.clearMod(code)
				}
			}
		}
	}
}

// updateMods folds in the base mods of all active modifier-class layers
// (minus classes excluded through the firing descriptor's source layer in
// compat mode), plus any mods required by held key sequences, intersected
// with their least common wildcard.
func (k *Keyboard) updateMods(excl int, mods uint8) {
	k.updateModsEx(excl, mods, 0xff, 0xffff)
}

func (k *Keyboard) updateModsEx(excl int, mods, wildcard uint8, code uint16) {
	var excludedLayer *config.Layer
	if k.Config.Compat && excl >= 0 {
		excludedLayer = &k.Config.Layers[excl]
	}
	if k.Config.Compat {
		wildcard = 0xff
	}

	var addm uint8
	for i := 1; i <= keys.ModMax; i++ {
		layer := &k.Config.Layers[i]

		if !k.layerState[i].isActive() {
			continue
		}

		excluded := false
		if layer == excludedLayer {
			excluded = true
		} else if excludedLayer != nil {
			for _, j := range excludedLayer.Constituents {
				if int(j) == i {
					excluded = true
					break
				}
			}
		}

		if !excluded {
			mods |= 1 << (i - 1)
		}
	}

	for i := 0; i < cacheSize; i++ {
		// Held key sequences keep their required mods asserted and
		// narrow the wildcard.
		if ce := &k.cache[i]; ce.code != 0 && ce.d.Op == config.OpKeySequence {
			if ce.d.Args[0] == code {
				continue
			}
			cWildc := uint8(ce.d.Args[2])
			cMods := uint8(ce.d.Args[1])
			addm |= cMods &^ cWildc
			wildcard &= cWildc
		}
	}

	k.setMods((mods & wildcard) | addm)
}

// getMods returns the current effective modifier mask.
func (k *Keyboard) getMods() uint8 {
	var mods uint8
	for i := 0; i < keys.ModMax; i++ {
		mask := uint8(1) << i
		if k.layerState[i+1].isActive() {
			mods |= mask
		}
		if k.keystate[keys.FakeMod+i] {
			mods |= mask
		}
	}
	return mods
}
