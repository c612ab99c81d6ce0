// Package vkbd provides the virtual output devices the daemon replays
// remapped events through.
package vkbd

// DeviceName prefixes the synthetic device names so the daemon can
// recognize (and not grab) its own output devices.
const DeviceName = "keyd virtual "

// Vkbd is the capability set of a virtual keyboard/pointer pair.
type Vkbd interface {
	SendKey(code uint16, pressed bool)
	MouseMove(x, y int32)
	MouseMoveAbs(x, y int32)
	// MouseScroll accumulates wheel deltas; they are emitted on Flush.
	MouseScroll(x, y int32)
	Flush()
	Close() error
}
