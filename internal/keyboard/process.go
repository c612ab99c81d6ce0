package keyboard

import (
	"math/bits"

	"github.com/keyd-cpp/keyd/internal/config"
	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/logging"
	"github.com/keyd-cpp/keyd/internal/macro"
)

// executeMacro runs a macro by table reference, returning the time in ms
// spent sleeping inside it.
func (k *Keyboard) executeMacro(dl int16, ref uint16, origCode uint16) int64 {
	m := k.Config.Macros[ref&^config.MacroWildcardBit]

	// Minimize redundant modifier strokes for simple key sequences.
	if len(m) == 1 && m[0].Kind <= macro.KeyTap {
		code := m[0].Code
		if code == 0 {
			code = origCode
		}

		k.updateModsEx(int(dl), m[0].Mods, m[0].Wildcard, 0xffff)
		k.sendKey(code, true)
		k.sendKey(code, false)
		return 0
	}

	// Completely disable mods unless the macro carried a wildcard.
	wildcard := uint8(0)
	if k.Config.Compat || ref&config.MacroWildcardBit != 0 {
		wildcard = 0xff
	}
	k.updateModsEx(int(dl), 0, wildcard, 0xffff)
	return macro.Run(k.sendKey, m, k.Config.MacroSequenceTimeout, k.Config)
}

// lookupDescriptor resolves a pressed key against the active layer stack.
func (k *Keyboard) lookupDescriptor(code uint16, d *config.Descriptor, dl *int16) {
	d.Op = config.OpNull

	if code >= keys.Chord1 && code <= keys.ChordMax {
		idx := code - keys.Chord1
		*d = k.activeChords[idx].chord.D
		*dl = k.activeChords[idx].layer
		return
	}

	// Synthesize the identity descriptor used both as the lookup probe
	// and the fallback binding.
	probe := config.Descriptor{
		Op:       config.OpKeySequence,
		ID:       code,
		Mods:     k.getMods(),
		Wildcard: 0,
	}
	probe.Args[0] = code
	probe.Args[1] = uint16(probe.Mods)
	probe.Args[2] = 0xff

	var maxts int64
	set := 0
	max := 0
	conflicts := 0

	k.activeLayers = k.activeLayers[:0]

	for i := range k.Config.Layers {
		layer := &k.Config.Layers[i]

		if !k.layerState[i].isActive() {
			continue
		}
		actTS := k.layerState[i].activationTime
		if i > 0 {
			k.activeLayers = append(k.activeLayers, uint16(i))
			set++
		}
		if actTS < maxts {
			continue
		}
		if match, ok := layer.Keymap.Get(&probe); ok {
			if maxts < actTS {
				conflicts = 0
			}
			maxts = actTS
			max = 1
			// A conflicting match discards both; deep comparison avoids
			// counting identical bindings arriving through two layers.
			if conflicts == 0 || !d.DeepEqual(k.Config, &match) {
				conflicts++
			}
			*d = match
			*dl = int16(i)
		}
	}

	// Scan for composite matches, which take precedence.
	for i := keys.ModMax + 1; i < len(k.Config.Layers); i++ {
		if set <= 1 {
			break
		}
		if !k.layerState[i].composite {
			continue
		}
		layer := &k.Config.Layers[i]
		if layer.Size() > set || layer.Size() < max {
			continue
		}
		if !includes(k.activeLayers, layer.Constituents) {
			continue
		}
		if match, ok := layer.Keymap.Get(&probe); ok {
			if max < layer.Size() {
				conflicts = 0
			}
			max = layer.Size()
			if conflicts == 0 || !d.DeepEqual(k.Config, &match) {
				conflicts++
			}
			*d = match
			*dl = int16(i)
		}
	}

	if d.Op == config.OpNull || conflicts > 1 {
		// A registered modifier key falls back to activating its layer,
		// so that pressing shift is entering the shift layer.
		for i := 0; i < keys.ModMax; i++ {
			if k.Config.IsMod(i, code) {
				probe.Op = config.OpLayer
				probe.SetIdx(0, int16(i+1))
				break
			}
		}

		*d = probe
		*dl = 0
	}
}

// includes reports whether the sorted set a contains every element of the
// sorted set b.
func includes(a, b []uint16) bool {
	i := 0
	for _, v := range b {
		for i < len(a) && a[i] < v {
			i++
		}
		if i == len(a) || a[i] != v {
			return false
		}
	}
	return true
}

func (k *Keyboard) deactivateLayer(idx int) {
	// Never deactivate main.
	if idx == 0 {
		return
	}
	if idx < 0 {
		k.activateLayer(0, -idx)
		return
	}

	layer := &k.Config.Layers[idx]
	if !layer.IsComposite() {
		logging.Debug("deactivating layer", "layer", layer.Name)
		k.layerState[idx].active--
	} else {
		for _, i := range layer.Constituents {
			logging.Debug("deactivating layer", "layer", k.Config.Layers[i].Name)
			k.layerState[i].active--
		}
	}

	if k.Output.OnLayerChange != nil {
		k.Output.OnLayerChange(k, idx, false)
	}
}

// activateLayer increments a layer's activation count. Every activation
// call *must* be paired with a corresponding deactivation call.
func (k *Keyboard) activateLayer(code uint16, idx int) {
	// Never activate main.
	if idx == 0 {
		return
	}
	if idx < 0 {
		k.deactivateLayer(-idx)
		return
	}

	layer := &k.Config.Layers[idx]
	ts := k.now()
	if !layer.IsComposite() {
		logging.Debug("activating layer", "layer", layer.Name)
		k.layerState[idx].active++
		if k.layerState[idx].isActive() {
			k.layerState[idx].activationTime = ts
		}
	} else {
		for _, i := range layer.Constituents {
			logging.Debug("activating layer", "layer", k.Config.Layers[i].Name)
			state := &k.layerState[i]
			state.active++
			if state.isActive() {
				state.activationTime = ts
			}
		}
	}

	if ce := k.cacheGet(code); ce != nil {
		ce.layer = int16(idx)
	}

	if k.Output.OnLayerChange != nil {
		k.Output.OnLayerChange(k, idx, true)
	}
}

func (k *Keyboard) clearOneshot() {
	for i := range k.Config.Layers {
		for k.layerState[i].oneshotDepth > 0 {
			k.deactivateLayer(i)
			k.layerState[i].oneshotDepth--
		}
	}

	k.oneshotLatch = false
	k.oneshotTimeout = 0
}

func (k *Keyboard) clear() {
	k.clearOneshot()
	for i := 1; i < len(k.Config.Layers); i++ {
		if i != int(k.layout) && k.layerState[i].toggled {
			k.layerState[i].toggled = false
			k.deactivateLayer(i)
		}
	}

	k.activeMacro = -1

	k.resetKeystate()
}

func (k *Keyboard) setLayout(idx int) {
	k.clear()

	// Setting the layout to main is equivalent to clearing all occluding
	// layouts.
	if k.layout != 0 {
		k.layerState[k.layout].active--
	}
	if idx != 0 {
		k.layerState[idx].active++
		k.layerState[idx].activationTime = 1
	}
	k.layout = int16(idx)
	if k.Output.OnLayerChange != nil {
		k.Output.OnLayerChange(k, idx, true)
	}
}

func (k *Keyboard) scheduleTimeout(timeout int64) {
	if k.nrTimeouts >= maxTimeouts {
		logging.Warnf("timeout table exhausted, dropping deadline")
		return
	}
	k.timeouts[k.nrTimeouts] = timeout
	k.nrTimeouts++
}

// calculateMainLoopTimeout prunes expired deadlines and returns the delay
// until the nearest remaining one, 0 if none.
func (k *Keyboard) calculateMainLoopTimeout(time int64) int64 {
	var timeout int64
	n := 0
	for i := 0; i < k.nrTimeouts; i++ {
		if k.timeouts[i] > time {
			if timeout == 0 || k.timeouts[i] < timeout {
				timeout = k.timeouts[i]
			}
			k.timeouts[n] = k.timeouts[i]
			n++
		}
	}
	k.nrTimeouts = n
	if timeout == 0 {
		return 0
	}
	return timeout - time
}

func (k *Keyboard) doKeysequence(dl int16, pressed bool, time int64, code uint16, mods, wildcard uint8) {
	if pressed {
		if k.keystate[code] {
			k.sendKey(code, false)
		}

		k.updateModsEx(int(dl), mods, wildcard|mods, code)
		k.sendKey(code, true)
		k.clearOneshot()
	} else {
		k.sendKey(code, false)
		k.updateMods(-1, 0)
	}

	if mods == 0 || mods == 1<<keys.ModShift {
		k.lastSimpleKeyTime = time
	}
}

// autoLayer infers a layer index from a modifier key code for bindings
// that omit their layer argument.
func (k *Keyboard) autoLayer(code uint16) int {
	x := k.Config.WhatMods(code)
	if bits.OnesCount8(x) == 1 {
		return bits.TrailingZeros8(x) + 1
	}
	return int(x) << 16
}

// processDescriptor applies a descriptor on a press or release edge and
// returns an additional macro timeout, if any.
func (k *Keyboard) processDescriptor(code uint16, d *config.Descriptor, dl int16, pressed bool, time int64) int64 {
	var timeout int64

	switch d.Op {
	case config.OpClearM, config.OpLayerM, config.OpOneshotM, config.OpToggleM, config.OpOverloadM:
		if d.Op == config.OpClearM && pressed {
			k.clear()
		}
		argi := 1
		if d.Op == config.OpClearM {
			argi = 0
		}
		macroRef := d.Args[argi]
		m := k.Config.Macros[macroRef&^config.MacroWildcardBit]
		if len(m) == 1 && m[0].Kind == macro.KeySeq && !k.Config.Compat {
			// Behave like a plain key sequence so held-state semantics
			// carry through.
			newCode := m[0].Code
			if newCode == 0 {
				newCode = code
			}
			k.doKeysequence(dl, pressed, time, newCode, m[0].Mods, m[0].Wildcard)
		} else if pressed {
			k.executeMacro(dl, macroRef, code)
		}
	}

	switch d.Op {
	case config.OpKeySequence:
		newCode := d.Args[0]
		if newCode == 0 {
			newCode = code
		}

		k.doKeysequence(dl, pressed, time, newCode, uint8(d.Args[1]), uint8(d.Args[2]))

	case config.OpScroll:
		k.scroll.sensitivity = int(d.Idx(0))
		k.scroll.active = pressed

	case config.OpScrollToggle:
		k.scroll.sensitivity = int(d.Idx(0))
		if pressed {
			k.scroll.active = !k.scroll.active
		}

	case config.OpOverloadIdleTimeout:
		if pressed {
			idleTimeout := int64(d.Args[2])

			var action *config.Descriptor
			if time-k.lastSimpleKeyTime >= idleTimeout {
				action = &k.Config.Descriptors[d.Args[1]]
			} else {
				action = &k.Config.Descriptors[d.Args[0]]
			}

			k.processDescriptor(code, action, dl, true, time)
			for i := 0; i < cacheSize; i++ {
				if k.cache[i].code == code {
					k.cache[i].d = *action
					break
				}
			}
		}

	case config.OpOverloadTimeout, config.OpOverloadTimeoutTap:
		if pressed {
			layer := d.Idx(0)

			k.pending.code = code
			if d.Op == config.OpOverloadTimeoutTap {
				k.pending.behaviour = pkUninterruptibleTapAction2
			} else {
				k.pending.behaviour = pkUninterruptible
			}

			k.pending.dl = dl
			k.pending.action1 = k.Config.Descriptors[d.Args[1]]
			k.pending.action2 = config.Descriptor{Op: config.OpLayer}
			k.pending.action2.SetIdx(0, layer)
			k.pending.expire = time + int64(d.Args[2])

			k.scheduleTimeout(k.pending.expire)
		}

	case config.OpLayout:
		idx := int(d.Idx(0))
		if idx < 0 {
			break
		}
		if pressed {
			k.setLayout(idx)
		}

	case config.OpLayerM, config.OpLayer:
		idx := int(d.Idx(0))
		if idx == config.NoLayer {
			idx = 0
		} else if idx == 0 {
			idx = k.autoLayer(code)
		}

		if pressed {
			k.activateLayer(code, idx)
		} else {
			k.deactivateLayer(idx)
		}

		if k.lastPressedCode == code {
			k.inhibitModifierGuard = true
			k.updateMods(-1, 0)
			k.inhibitModifierGuard = false
		} else {
			k.updateMods(-1, 0)
		}

	case config.OpClearM:
		// Macro handled above.

	case config.OpClear:
		if pressed {
			k.clear()
		}

	case config.OpOverload, config.OpOverloadM:
		idx := int(d.Idx(0))
		argi := 1
		if d.Op == config.OpOverloadM {
			argi = 2
		}
		action := &k.Config.Descriptors[d.Args[argi]]
		if idx == config.NoLayer {
			idx = 0
		} else if idx == 0 {
			idx = k.autoLayer(code)
		}

		if pressed {
			k.overloadStartTime = time
			k.activateLayer(code, idx)
			k.updateMods(-1, 0)
		} else {
			k.deactivateLayer(idx)
			k.updateMods(-1, 0)

			if k.lastPressedCode == code &&
				(k.Config.OverloadTapTimeout == 0 ||
					time-k.overloadStartTime < k.Config.OverloadTapTimeout) {
				if action.Op == config.OpMacro {
					// Macro release relies on event logic, so a
					// synthesized descriptor release won't do.
					k.executeMacro(dl, action.Args[0], code)
				} else {
					k.processDescriptor(code, action, dl, true, time)
					k.processDescriptor(code, action, dl, false, time)
				}
			}
		}

	case config.OpOneshotM, config.OpOneshot:
		idx := int(d.Idx(0))
		if idx < 0 {
			break
		}
		if idx == 0 {
			idx = k.autoLayer(code)
		}

		if pressed {
			k.activateLayer(code, idx)
			k.updateMods(int(dl), 0)
			k.oneshotLatch = true
		} else {
			if k.oneshotLatch {
				k.layerState[idx].oneshotDepth++
				if k.Config.OneshotTimeout != 0 {
					k.oneshotTimeout = time + k.Config.OneshotTimeout
					k.scheduleTimeout(k.oneshotTimeout)
				}
			} else {
				k.deactivateLayer(idx)
				k.updateMods(-1, 0)
			}
		}

	case config.OpMacro2, config.OpMacro:
		if pressed {
			var macroRef uint16
			if d.Op == config.OpMacro2 {
				macroRef = d.Args[2]

				timeout = int64(d.Args[0])
				k.macroRepeatInterval = int64(d.Args[1])
			} else {
				macroRef = d.Args[0]

				timeout = k.Config.MacroTimeout
				k.macroRepeatInterval = k.Config.MacroRepeatTimeout
			}

			k.clearOneshot()

			timeout += k.executeMacro(dl, macroRef, code)
			k.activeMacro = int(macroRef)
			k.activeMacroLayer = dl

			k.macroTimeout = time + timeout
			k.scheduleTimeout(k.macroTimeout)
		}

	case config.OpToggleM, config.OpToggle:
		rawIdx := int(d.Idx(0))
		idx := rawIdx
		if idx == config.NoLayer {
			break
		}
		if idx == 0 {
			idx = k.autoLayer(code)
		} else if idx < 0 {
			idx = -idx
		}

		if pressed {
			wasToggled := k.layerState[idx].toggled
			k.layerState[idx].toggled = rawIdx >= 0 && !wasToggled

			if k.layerState[idx].toggled {
				k.activateLayer(code, idx)
			} else if wasToggled {
				k.deactivateLayer(idx)
			}

			k.updateMods(-1, 0)
			k.clearOneshot()
		}

	case config.OpTimeout:
		if pressed {
			k.pending.action1 = k.Config.Descriptors[d.Args[0]]
			k.pending.action2 = k.Config.Descriptors[d.Args[2]]

			k.pending.code = code
			k.pending.dl = dl
			k.pending.expire = time + int64(d.Args[1])
			k.pending.behaviour = pkInterruptAction1

			k.scheduleTimeout(k.pending.expire)
		}

	case config.OpSwap, config.OpSwapM:
		idx := int(d.Idx(0))
		if idx < 0 {
			break
		}
		if idx == 0 {
			idx = k.autoLayer(code)
		}

		if pressed {
			if k.layerState[dl].toggled {
				k.deactivateLayer(int(dl))
				k.layerState[dl].toggled = false

				k.activateLayer(0, idx)
				k.layerState[idx].toggled = true
				k.updateMods(-1, 0)
			} else if k.layerState[dl].oneshotDepth > 0 {
				k.deactivateLayer(int(dl))
				k.layerState[dl].oneshotDepth--

				k.activateLayer(0, idx)
				k.layerState[idx].oneshotDepth++
				k.updateMods(-1, 0)
			} else {
				var ce *cacheEntry
				for i := 0; i < cacheSize; i++ {
					entCode := k.cache[i].code
					layer := k.cache[i].layer

					if entCode != 0 && layer == dl && layer != k.layout && layer != 0 {
						ce = &k.cache[i]
						break
					}
				}

				if ce != nil {
					ce.d = config.Descriptor{Op: config.OpLayer}
					ce.d.SetIdx(0, int16(idx))

					k.deactivateLayer(int(dl))
					k.activateLayer(ce.code, idx)

					k.updateMods(-1, 0)
				}
			}

			if d.Op == config.OpSwapM {
				k.executeMacro(dl, d.Args[1], code)
			}
		} else if d.Op == config.OpSwapM {
			m := k.Config.Macros[d.Args[1]&^config.MacroWildcardBit]
			if len(m) == 1 && m[0].Kind <= macro.KeyTap {
				k.sendKey(m[0].Code, false)
				k.updateMods(-1, 0)
			}
		}

	default:
		logging.Warnf("unknown op code: %d", d.Op)
		return 0
	}

	if pressed {
		k.lastPressedCode = code
	}

	return timeout
}

// processEvent consumes one event (code 0 on a timer tick). The return
// value is a timeout before which the next invocation must take place; 0
// permits the main loop to wait at liberty.
func (k *Keyboard) processEvent(code uint16, pressed bool, time int64) int64 {
	if k.handleChord(code, pressed, time) {
		return k.calculateMainLoopTimeout(time)
	}

	if k.handlePendingKey(code, pressed, time) {
		return k.calculateMainLoopTimeout(time)
	}

	if k.oneshotTimeout != 0 && time >= k.oneshotTimeout {
		k.clearOneshot()
		k.updateMods(-1, 0)
	}

	if k.activeMacro >= 0 {
		if code != 0 {
			k.activeMacro = -1
			k.updateMods(-1, 0)
		} else if time >= k.macroTimeout {
			add := k.executeMacro(k.activeMacroLayer, uint16(k.activeMacro), 0)
			k.macroTimeout = add + time + k.macroRepeatInterval
			k.scheduleTimeout(k.macroTimeout)
		}
	}

	if code != 0 {
		var d config.Descriptor
		var dl int16

		if pressed {
			// Guard against successive key down events of the same key
			// code, caused by unorthodox hardware or different devices
			// mapped to the same config.
			if k.cacheGet(code) != nil {
				return k.calculateMainLoopTimeout(time)
			}

			k.lookupDescriptor(code, &d, &dl)

			ce := cacheEntry{d: d, dl: dl}
			if !k.cacheSet(code, &ce) {
				return k.calculateMainLoopTimeout(time)
			}
		} else {
			ce := k.cacheGet(code)
			if ce == nil {
				return k.calculateMainLoopTimeout(time)
			}

			d = ce.d
			dl = ce.dl
			k.cacheSet(code, nil)
		}

		k.processDescriptor(code, &d, dl, pressed, time)
	}

	return k.calculateMainLoopTimeout(time)
}

// ProcessEvents feeds a batch of timestamp-ordered events through the
// engine, interleaving synthetic ticks for deadlines that land between
// events. real marks events arriving from a physical device; these update
// the physical key state used by modifier arbitration. The returned delay
// is the time in ms until the engine next needs a tick (0 = none).
func (k *Keyboard) ProcessEvents(events []KeyEvent, real bool) int64 {
	var timeout int64
	var timeoutTS int64

	i := 0
	for i != len(events) {
		ev := &events[i]
		if real && int(ev.Code) < len(k.capstate) {
			k.capstate[ev.Code] = ev.Pressed
		}

		if timeout > 0 && timeoutTS <= ev.Time {
			timeout = k.processEvent(0, false, timeoutTS)
			timeoutTS = timeoutTS + timeout
		} else {
			timeout = k.processEvent(ev.Code, ev.Pressed, ev.Time)
			timeoutTS = ev.Time + timeout
			i++
		}
	}

	return timeout
}
