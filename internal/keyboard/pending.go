package keyboard

import (
	"github.com/keyd-cpp/keyd/internal/config"
	"github.com/keyd-cpp/keyd/internal/keys"
)

// handlePendingKey drives the overload/timeout resolver. While a pending
// key is outstanding, events queue until the key resolves to one of its
// two actions; the queue is then replayed through the normal path.
// A true return means the event was consumed.
func (k *Keyboard) handlePendingKey(code uint16, pressed bool, time int64) bool {
	if k.pending.code == 0 {
		return false
	}

	var action config.Descriptor

	if code != 0 {
		if k.pending.queueSz >= chordQueueSize {
			return true
		}

		if !pressed {
			found := false
			for i := 0; i < k.pending.queueSz; i++ {
				if k.pending.queue[i].Code == code {
					found = true
					break
				}
			}

			// Propagate key up events for keys which were struck before
			// the pending key.
			if !found && code != k.pending.code {
				return false
			}
		}

		k.pending.queue[k.pending.queueSz] = KeyEvent{Code: code, Pressed: pressed, Time: time}
		k.pending.queueSz++
	}

	if time >= k.pending.expire {
		action = k.pending.action2
	} else if code == k.pending.code {
		if k.pending.tapExpiry != 0 && time >= k.pending.tapExpiry {
			action = config.Descriptor{Op: config.OpKeySequence}
			action.Args[0] = keys.Noop
		} else {
			action = k.pending.action1
		}
	} else if code != 0 && pressed && k.pending.behaviour == pkInterruptAction1 {
		action = k.pending.action1
	} else if code != 0 && pressed && k.pending.behaviour == pkInterruptAction2 {
		action = k.pending.action2
	} else if k.pending.behaviour == pkUninterruptibleTapAction2 && !pressed {
		for i := 0; i < k.pending.queueSz; i++ {
			if k.pending.queue[i].Code == code {
				action = k.pending.action2
				break
			}
		}
	}

	if action.Op != config.OpNull {
		// Copy the queue to allow for recursive pending key processing.
		queue := make([]KeyEvent, k.pending.queueSz)
		copy(queue, k.pending.queue[:k.pending.queueSz])

		pendingCode := k.pending.code
		dl := k.pending.dl

		k.pending.code = 0
		k.pending.queueSz = 0
		k.pending.tapExpiry = 0

		k.cacheSet(pendingCode, &cacheEntry{d: action, dl: dl})
		k.processDescriptor(pendingCode, &action, dl, true, time)

		// Flush queued events.
		k.ProcessEvents(queue, false)
	}

	return true
}
