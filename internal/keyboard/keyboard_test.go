package keyboard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyd-cpp/keyd/internal/config"
	"github.com/keyd-cpp/keyd/internal/keys"
)

const (
	keyA        = 30
	keyB        = 48
	keyC        = 46
	keyX        = 45
	keyJ        = 36
	keyK        = 37
	keyEsc      = 1
	keySpace    = keys.KeySpace
	keyEnter    = keys.KeyEnter
	keyCapslock = 58
	keyShift    = keys.KeyLeftShift
	keyMeta     = keys.KeyLeftMeta
	keyCtrl     = keys.KeyLeftCtrl
)

type send struct {
	code    uint16
	pressed bool
}

func (s send) String() string {
	state := "up"
	if s.pressed {
		state = "down"
	}
	return fmt.Sprintf("%s %s", keys.KeyName(s.code), state)
}

type recorder struct {
	sent []send
}

func (r *recorder) sendKey(code uint16, pressed bool) {
	r.sent = append(r.sent, send{code, pressed})
}

func newKbd(t *testing.T, cfgText string) (*Keyboard, *recorder) {
	t.Helper()

	cfg := config.New()
	require.NoError(t, testParse(cfg, cfgText))
	cfg.Finalize()

	rec := &recorder{}
	kbd := New(cfg, Output{SendKey: rec.sendKey})
	return kbd, rec
}

// testParse feeds config text through the runtime entry path, which is
// equivalent to file parsing without the include machinery.
func testParse(cfg *config.Config, text string) error {
	section := ""
	var lines []string
	flushErr := error(nil)
	for _, line := range splitLines(text) {
		if line == "" || line[0] == '#' {
			continue
		}
		if line[0] == '[' && line[len(line)-1] == ']' {
			section = line[1 : len(line)-1]
			continue
		}
		lines = append(lines, sectionPrefix(section)+line)
	}
	for _, line := range lines {
		if _, err := cfg.AddEntry(line); err != nil {
			flushErr = err
		}
	}
	return flushErr
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

func sectionPrefix(section string) string {
	if section == "" || section == "main" {
		return ""
	}
	return section + "."
}

func press(code uint16, t int64) KeyEvent   { return KeyEvent{Code: code, Pressed: true, Time: t} }
func release(code uint16, t int64) KeyEvent { return KeyEvent{Code: code, Pressed: false, Time: t} }
func tick(t int64) KeyEvent                 { return KeyEvent{Time: t} }

func TestPlainRemap(t *testing.T) {
	kbd, rec := newKbd(t, "a = b")

	kbd.ProcessEvents([]KeyEvent{press(keyA, 0), release(keyA, 5)}, true)

	assert.Equal(t, []send{{keyB, true}, {keyB, false}}, rec.sent)
}

func TestIdentityFallback(t *testing.T) {
	kbd, rec := newKbd(t, "a = b")

	kbd.ProcessEvents([]KeyEvent{press(keyX, 0), release(keyX, 5)}, true)

	assert.Equal(t, []send{{keyX, true}, {keyX, false}}, rec.sent)
}

func TestModifierFallbackActivatesLayer(t *testing.T) {
	kbd, rec := newKbd(t, "a = b")

	kbd.ProcessEvents([]KeyEvent{
		press(keyShift, 0),
		press(keyX, 5),
		release(keyX, 10),
		release(keyShift, 15),
	}, true)

	assert.Equal(t, []send{
		{keyShift, true},
		{keyX, true},
		{keyX, false},
		{keyShift, false},
	}, rec.sent)
	assert.False(t, kbd.LayerActive(3))
}

func TestOverloadHold(t *testing.T) {
	kbd, rec := newKbd(t, "space = overload(shift, space)")

	kbd.ProcessEvents([]KeyEvent{
		press(keySpace, 0),
		press(keyX, 5),
		release(keyX, 10),
		release(keySpace, 15),
	}, true)

	assert.Equal(t, []send{
		{keyShift, true},
		{keyX, true},
		{keyX, false},
		{keyShift, false},
	}, rec.sent)
}

func TestOverloadTap(t *testing.T) {
	kbd, rec := newKbd(t, "space = overload(shift, space)")
	kbd.Config.OverloadTapTimeout = 200

	kbd.ProcessEvents([]KeyEvent{press(keySpace, 0), release(keySpace, 50)}, true)

	assert.Equal(t, []send{
		{keyShift, true},
		{keyShift, false},
		{keySpace, true},
		{keySpace, false},
	}, rec.sent)
}

func TestOverloadTapTimedOut(t *testing.T) {
	kbd, rec := newKbd(t, "space = overload(shift, space)")
	kbd.Config.OverloadTapTimeout = 200

	kbd.ProcessEvents([]KeyEvent{press(keySpace, 0), release(keySpace, 300)}, true)

	// Held past the tap timeout: no tap emission.
	assert.Equal(t, []send{
		{keyShift, true},
		{keyShift, false},
	}, rec.sent)
}

func TestOneshot(t *testing.T) {
	kbd, rec := newKbd(t, "capslock = oneshot(shift)")

	kbd.ProcessEvents([]KeyEvent{
		press(keyCapslock, 0),
		release(keyCapslock, 5),
		press(keyA, 10),
		release(keyA, 15),
		press(keyB, 20),
		release(keyB, 25),
	}, true)

	assert.Equal(t, []send{
		{keyShift, true},
		{keyA, true},
		{keyA, false},
		{keyShift, false},
		{keyB, true},
		{keyB, false},
	}, rec.sent)
}

func TestOneshotTimeout(t *testing.T) {
	kbd, rec := newKbd(t, "capslock = oneshot(shift)")
	kbd.Config.OneshotTimeout = 100

	timeout := kbd.ProcessEvents([]KeyEvent{
		press(keyCapslock, 0),
		release(keyCapslock, 5),
	}, true)
	require.Positive(t, timeout)

	kbd.ProcessEvents([]KeyEvent{tick(200), press(keyA, 210), release(keyA, 215)}, true)

	assert.Equal(t, []send{
		{keyShift, true},
		{keyShift, false},
		{keyA, true},
		{keyA, false},
	}, rec.sent)
}

func TestChord(t *testing.T) {
	kbd, rec := newKbd(t, "j+k = esc")
	kbd.Config.ChordInterkeyTimeout = 50

	kbd.ProcessEvents([]KeyEvent{
		press(keyJ, 0),
		press(keyK, 10),
		release(keyJ, 40),
		release(keyK, 45),
	}, true)

	assert.Equal(t, []send{{keyEsc, true}, {keyEsc, false}}, rec.sent)
}

func TestChordAbort(t *testing.T) {
	kbd, rec := newKbd(t, "j+k = esc")
	kbd.Config.ChordInterkeyTimeout = 50

	kbd.ProcessEvents([]KeyEvent{press(keyJ, 0), release(keyJ, 100)}, true)

	assert.Equal(t, []send{{keyJ, true}, {keyJ, false}}, rec.sent)
}

func TestChordAbortMatchesPlainStream(t *testing.T) {
	events := []KeyEvent{
		press(keyJ, 0),
		press(keyA, 10),
		release(keyA, 20),
		release(keyJ, 30),
	}

	chordKbd, chordRec := newKbd(t, "j+k = esc")
	chordKbd.Config.ChordInterkeyTimeout = 50
	chordKbd.ProcessEvents(events, true)

	plainKbd, plainRec := newKbd(t, "x = x")
	plainKbd.ProcessEvents(events, true)

	assert.Equal(t, plainRec.sent, chordRec.sent)
}

func TestChordHoldTimeoutAbortsOnRelease(t *testing.T) {
	kbd, rec := newKbd(t, "j+k = esc")
	kbd.Config.ChordInterkeyTimeout = 50
	kbd.Config.ChordHoldTimeout = 200

	// Full match, but a member releases before the hold timeout.
	kbd.ProcessEvents([]KeyEvent{
		press(keyJ, 0),
		press(keyK, 10),
		release(keyJ, 50),
		release(keyK, 60),
	}, true)

	assert.Equal(t, []send{
		{keyJ, true},
		{keyK, true},
		{keyJ, false},
		{keyK, false},
	}, rec.sent)
}

func TestLayerBinding(t *testing.T) {
	kbd, rec := newKbd(t, `capslock = layer(nav)
nav.h = left
`)

	kbd.ProcessEvents([]KeyEvent{
		press(keyCapslock, 0),
		press(35, 5),
		release(35, 10),
		release(keyCapslock, 15),
		press(35, 20),
		release(35, 25),
	}, true)

	assert.Equal(t, []send{
		{105, true},
		{105, false},
		{35, true},
		{35, false},
	}, rec.sent)
}

func TestCompositeLayerPrecedence(t *testing.T) {
	kbd, rec := newKbd(t, `control.a = x
control+shift.a = z
`)

	kbd.ProcessEvents([]KeyEvent{
		press(keyCtrl, 0),
		press(keyShift, 5),
		press(keyA, 10),
		release(keyA, 15),
		release(keyShift, 20),
		release(keyCtrl, 25),
	}, true)

	// The composite match wins over the simple control match and over
	// the identity fallback.
	require.NotEmpty(t, rec.sent)
	var zSeen bool
	for _, s := range rec.sent {
		if s.code == 44 && s.pressed {
			zSeen = true
		}
		assert.NotEqual(t, send{keyX, true}, s)
	}
	assert.True(t, zSeen)
}

func TestToggle(t *testing.T) {
	kbd, _ := newKbd(t, `capslock = toggle(nav)
nav.h = left
`)

	navIdx := -1
	for i := range kbd.Config.Layers {
		if kbd.Config.Layers[i].Name == "nav" {
			navIdx = i
		}
	}
	require.Positive(t, navIdx)

	kbd.ProcessEvents([]KeyEvent{press(keyCapslock, 0), release(keyCapslock, 5)}, true)
	assert.True(t, kbd.LayerActive(navIdx))

	kbd.ProcessEvents([]KeyEvent{press(keyCapslock, 10), release(keyCapslock, 15)}, true)
	assert.False(t, kbd.LayerActive(navIdx))
}

func TestPendingKeyTimeoutInterruptResolvesAction1(t *testing.T) {
	kbd, rec := newKbd(t, "space = timeout(space, 200, enter)")

	kbd.ProcessEvents([]KeyEvent{
		press(keySpace, 0),
		press(keyX, 50),
		release(keyX, 60),
		release(keySpace, 70),
	}, true)

	assert.Equal(t, []send{
		{keySpace, true},
		{keyX, true},
		{keyX, false},
		{keySpace, false},
	}, rec.sent)
}

func TestPendingKeyTimeoutExpiryResolvesAction2(t *testing.T) {
	kbd, rec := newKbd(t, "space = timeout(space, 200, enter)")

	kbd.ProcessEvents([]KeyEvent{
		press(keySpace, 0),
		tick(250),
		release(keySpace, 300),
	}, true)

	assert.Equal(t, []send{
		{keyEnter, true},
		{keyEnter, false},
	}, rec.sent)
}

func TestPendingKeyUninterruptibleQueuesUntilExpiry(t *testing.T) {
	kbd, rec := newKbd(t, "space = overloadt(shift, space, 200)")

	kbd.ProcessEvents([]KeyEvent{
		press(keySpace, 0),
		press(keyX, 50),
		release(keyX, 60),
		tick(250),
		release(keySpace, 300),
	}, true)

	// Expiry resolves to the layer action; the queued stroke replays
	// under shift.
	assert.Equal(t, []send{
		{keyShift, true},
		{keyX, true},
		{keyX, false},
		{keyShift, false},
	}, rec.sent)
}

func TestPendingKeyUninterruptibleReleaseResolvesAction1(t *testing.T) {
	kbd, rec := newKbd(t, "space = overloadt(shift, space, 200)")

	kbd.ProcessEvents([]KeyEvent{
		press(keySpace, 0),
		release(keySpace, 100),
	}, true)

	assert.Equal(t, []send{
		{keySpace, true},
		{keySpace, false},
	}, rec.sent)
}

func TestPendingKeyTapAction2(t *testing.T) {
	kbd, rec := newKbd(t, "space = overloadt2(shift, space, 200)")

	// Another key pressed and released within the window resolves to
	// the hold action.
	kbd.ProcessEvents([]KeyEvent{
		press(keySpace, 0),
		press(keyX, 50),
		release(keyX, 80),
		release(keySpace, 100),
	}, true)

	assert.Equal(t, []send{
		{keyShift, true},
		{keyX, true},
		{keyX, false},
		{keyShift, false},
	}, rec.sent)
}

func TestPendingKeyDeterminism(t *testing.T) {
	// The resolved action is a pure function of the event stream.
	for i := 0; i < 3; i++ {
		kbd, rec := newKbd(t, "space = overloadt(shift, space, 200)")
		kbd.ProcessEvents([]KeyEvent{
			press(keySpace, 0),
			press(keyX, 50),
			release(keyX, 60),
			tick(250),
			release(keySpace, 300),
		}, true)

		kbd2, rec2 := newKbd(t, "space = overloadt(shift, space, 200)")
		kbd2.ProcessEvents([]KeyEvent{
			press(keySpace, 0),
			press(keyX, 50),
			release(keyX, 60),
			tick(250),
			release(keySpace, 300),
		}, true)

		assert.Equal(t, rec.sent, rec2.sent)
	}
}

func TestMacroBinding(t *testing.T) {
	kbd, rec := newKbd(t, "a = macro(b c)")

	kbd.ProcessEvents([]KeyEvent{press(keyA, 0)}, true)

	require.GreaterOrEqual(t, len(rec.sent), 4)
	assert.Equal(t, []send{
		{keyB, true}, {keyB, false},
		{keyC, true}, {keyC, false},
	}, rec.sent[:4])

	kbd.ProcessEvents([]KeyEvent{release(keyA, 5)}, true)
}

func TestModifierGuard(t *testing.T) {
	kbd, rec := newKbd(t, "space = overload(meta, space)")

	kbd.ProcessEvents([]KeyEvent{press(keySpace, 0), release(keySpace, 50)}, true)

	// A solitary meta tap gets a control interposition to suppress host
	// menu shortcuts, then the tap action fires.
	assert.Equal(t, []send{
		{keyMeta, true},
		{keyCtrl, true},
		{keyMeta, false},
		{keyCtrl, false},
		{keySpace, true},
		{keySpace, false},
	}, rec.sent)
}

func TestModifierGuardDisabled(t *testing.T) {
	kbd, rec := newKbd(t, "space = overload(meta, space)")
	kbd.Config.DisableModifierGuard = true

	kbd.ProcessEvents([]KeyEvent{press(keySpace, 0), release(keySpace, 50)}, true)

	assert.Equal(t, []send{
		{keyMeta, true},
		{keyMeta, false},
		{keySpace, true},
		{keySpace, false},
	}, rec.sent)
}

func TestCacheSymmetry(t *testing.T) {
	kbd, rec := newKbd(t, "a = b")

	// Press 20 plain keys; the cache caps concurrent holds at 16, and
	// every accepted press must produce exactly one release.
	var events []KeyEvent
	codes := []uint16{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25}
	for i, code := range codes {
		events = append(events, press(code, int64(i)))
	}
	for i, code := range codes {
		events = append(events, release(code, int64(100+i)))
	}
	kbd.ProcessEvents(events, true)

	downs := map[uint16]int{}
	ups := map[uint16]int{}
	for _, s := range rec.sent {
		if s.pressed {
			downs[s.code]++
		} else {
			ups[s.code]++
		}
	}

	total := 0
	for code, n := range downs {
		assert.Equal(t, n, ups[code], "code %d", code)
		total += n
	}
	assert.Equal(t, cacheSize, total)
}

func TestLayerStateNonNegative(t *testing.T) {
	kbd, _ := newKbd(t, "space = overload(shift, space)")

	var events []KeyEvent
	t0 := int64(0)
	for i := 0; i < 10; i++ {
		events = append(events,
			press(keySpace, t0),
			press(keyShift, t0+1),
			release(keyShift, t0+2),
			release(keySpace, t0+3),
		)
		t0 += 10
	}
	kbd.ProcessEvents(events, true)

	for i := range kbd.layerState {
		assert.GreaterOrEqual(t, kbd.layerState[i].active, int8(0), "layer %d", i)
	}
	assert.False(t, kbd.LayerActive(3))
}

func TestEvalResetRoundTrip(t *testing.T) {
	kbd, _ := newKbd(t, "a = b")

	kbd.EnsureBackup()
	require.True(t, kbd.Eval("a = c"))
	require.True(t, kbd.Eval("q = overload(shift, q)"))

	d, ok := kbd.Config.Layers[0].Keymap.Get(&config.Descriptor{ID: keyA})
	require.True(t, ok)
	assert.Equal(t, uint16(keyC), d.Args[0])

	require.True(t, kbd.Eval("reset"))

	d, ok = kbd.Config.Layers[0].Keymap.Get(&config.Descriptor{ID: keyA})
	require.True(t, ok)
	assert.Equal(t, uint16(keyB), d.Args[0])
}

func TestEvalUnbindAll(t *testing.T) {
	kbd, rec := newKbd(t, "a = b")

	require.True(t, kbd.Eval("unbind_all"))

	kbd.ProcessEvents([]KeyEvent{press(keyA, 0), release(keyA, 5)}, true)
	assert.Equal(t, []send{{keyA, true}, {keyA, false}}, rec.sent)
}

func TestSwapReplacesSourceLayer(t *testing.T) {
	kbd, rec := newKbd(t, `capslock = layer(nav)
nav.s = swap(sym)
nav.h = left
sym.h = end
`)

	kbd.ProcessEvents([]KeyEvent{
		press(keyCapslock, 0),
		press(31, 5),
		release(31, 10),
		press(35, 15),
		release(35, 20),
		release(keyCapslock, 25),
		press(35, 30),
		release(35, 35),
	}, true)

	// After the swap, h resolves through sym (end, 107); releasing
	// capslock deactivates the swapped-in layer.
	assert.Equal(t, []send{
		{107, true},
		{107, false},
		{35, true},
		{35, false},
	}, rec.sent)
}
