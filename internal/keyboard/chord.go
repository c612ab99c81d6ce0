package keyboard

import (
	"github.com/keyd-cpp/keyd/internal/config"
	"github.com/keyd-cpp/keyd/internal/keys"
)

// chordEventMatch compares the queued presses against a chord.
// Returns 0 on no match, 1 on partial match, 2 on exact match.
func chordEventMatch(chord *config.Chord, events []KeyEvent) int {
	if len(events) == 0 {
		return 0
	}

	n := 0
	npressed := 0
	for i := range events {
		if !events[i].Pressed {
			continue
		}
		npressed++
		found := false
		for _, key := range chord.Keys {
			if key == events[i].Code {
				found = true
				break
			}
		}
		if !found {
			return 0
		}
		n++
	}

	if npressed == 0 {
		return 0
	}
	if n == chord.NumKeys() {
		return 2
	}
	return 1
}

func (k *Keyboard) enqueueChordEvent(code uint16, pressed bool, time int64) {
	if code == 0 {
		return
	}
	if k.chord.queueSz >= chordQueueSize {
		return
	}

	k.chord.queue[k.chord.queueSz] = KeyEvent{Code: code, Pressed: pressed, Time: time}
	k.chord.queueSz++
}

// checkChordMatch scans all matchable layers for chords covering the
// queued events. Returns 0 for no match, 1 for a partial match, 2 for an
// unambiguous full match and 3 for an ambiguous one (2 and 3 populate the
// match). Ties go to the most recently activated layer.
func (k *Keyboard) checkChordMatch() int {
	fullMatch := false
	partialMatch := false
	maxts := int64(-1)

	for idx := range k.Config.Layers {
		layer := &k.Config.Layers[idx]

		if !k.layerState[idx].composite && !k.layerState[idx].isActive() {
			continue
		}
		if k.layerState[idx].composite {
			allActive := true
			for _, i := range layer.Constituents {
				if !k.layerState[i].isActive() {
					allActive = false
					break
				}
			}
			if !allActive {
				continue
			}
		}

		for i := range layer.Chords {
			switch chordEventMatch(&layer.Chords[i], k.chord.queue[:k.chord.queueSz]) {
			case 2:
				if maxts <= k.layerState[idx].activationTime {
					k.chord.matchLayer = int16(idx)
					k.chord.match = &layer.Chords[i]

					fullMatch = true
					maxts = k.layerState[idx].activationTime
				}
			case 1:
				partialMatch = true
			}
		}
	}

	switch {
	case fullMatch && partialMatch:
		return 3
	case fullMatch:
		return 2
	case partialMatch:
		return 1
	default:
		return 0
	}
}

// resolveChord fires the matched chord (if any) through a synthetic chord
// code, then replays the remaining queued events through the normal path.
func (k *Keyboard) resolveChord() bool {
	queueOffset := 0
	chord := k.chord.match

	k.chord.state = chordResolving

	if chord != nil {
		var code uint16

		for i := range k.activeChords {
			ac := &k.activeChords[i]
			if !ac.active {
				ac.active = true
				ac.chord = *chord
				ac.layer = k.chord.matchLayer
				code = keys.Chord1 + uint16(i)
				break
			}
		}

		if code != 0 {
			queueOffset = chord.NumKeys()
			k.processEvent(code, true, k.chord.lastCodeTime)
		}
	}

	queue := make([]KeyEvent, k.chord.queueSz-queueOffset)
	copy(queue, k.chord.queue[queueOffset:k.chord.queueSz])
	k.ProcessEvents(queue, false)
	k.chord.state = chordInactive
	return true
}

func (k *Keyboard) abortChord() bool {
	k.chord.match = nil
	return k.resolveChord()
}

// handleChord runs the chord resolver FSM. A true return means the event
// was consumed.
func (k *Keyboard) handleChord(code uint16, pressed bool, time int64) bool {
	interkeyTimeout := k.Config.ChordInterkeyTimeout
	holdTimeout := k.Config.ChordHoldTimeout

	if code != 0 && !pressed {
		for i := range k.activeChords {
			ac := &k.activeChords[i]
			chordCode := keys.Chord1 + uint16(i)

			if !ac.active {
				continue
			}

			nremaining := 0
			found := false
			for j := range ac.chord.Keys {
				if ac.chord.Keys[j] == code {
					ac.chord.Keys[j] = 0
					found = true
				}
				if ac.chord.Keys[j] != 0 {
					nremaining++
				}
			}

			if found {
				if nremaining == 0 {
					ac.active = false
					k.processEvent(chordCode, false, time)
				}
				return true
			}
		}
	}

	switch k.chord.state {
	case chordResolving:
		return false

	case chordInactive:
		k.chord.queueSz = 0
		k.chord.match = nil
		k.chord.startCode = code

		k.enqueueChordEvent(code, pressed, time)
		switch k.checkChordMatch() {
		case 0:
			return false
		case 1, 3:
			k.chord.state = chordPendingDisambiguation
			k.chord.lastCodeTime = time
			k.scheduleTimeout(time + interkeyTimeout)
			return true
		default:
			k.chord.lastCodeTime = time

			if holdTimeout != 0 {
				k.chord.state = chordPendingHoldTimeout
				k.scheduleTimeout(time + holdTimeout)
				return true
			}
			return k.resolveChord()
		}

	case chordPendingDisambiguation:
		if code == 0 {
			if time-k.chord.lastCodeTime >= interkeyTimeout {
				if k.chord.match != nil {
					timeleft := holdTimeout - interkeyTimeout
					if timeleft > 0 {
						k.scheduleTimeout(time + timeleft)
						k.chord.state = chordPendingHoldTimeout
					} else {
						return k.resolveChord()
					}
				} else {
					return k.abortChord()
				}
				return true
			}
			return false
		}

		k.enqueueChordEvent(code, pressed, time)

		if !pressed {
			return k.abortChord()
		}

		switch k.checkChordMatch() {
		case 0:
			return k.abortChord()
		case 1, 3:
			k.chord.lastCodeTime = time

			k.chord.state = chordPendingDisambiguation
			k.scheduleTimeout(time + interkeyTimeout)
			return true
		default:
			k.chord.lastCodeTime = time

			if holdTimeout != 0 {
				k.chord.state = chordPendingHoldTimeout
				k.scheduleTimeout(time + holdTimeout)
				return true
			}
			return k.resolveChord()
		}

	case chordPendingHoldTimeout:
		if code == 0 {
			if time-k.chord.lastCodeTime >= holdTimeout {
				return k.resolveChord()
			}
			return false
		}

		k.enqueueChordEvent(code, pressed, time)

		if !pressed {
			for _, key := range k.chord.match.Keys {
				if key == code {
					return k.abortChord()
				}
			}
		}

		return true
	}

	return false
}
