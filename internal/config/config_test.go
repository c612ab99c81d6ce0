package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/macro"
)

func parseConfig(t *testing.T, content string) *Config {
	t.Helper()
	c := New()
	require.NoError(t, c.parseString(content))
	return c
}

func TestNewReservedLayers(t *testing.T) {
	c := New()
	require.Len(t, c.Layers, keys.ModMax+1)
	assert.Equal(t, "main", c.Layers[0].Name)
	assert.Equal(t, "shift", c.Layers[3].Name)
	assert.Equal(t, "mod7", c.Layers[8].Name)

	// The default aliases assign both shift keys to the shift class.
	assert.Equal(t, []uint16{keys.KeyLeftShift, keys.KeyRightShift}, c.Modifiers[keys.ModShift])
	assert.Equal(t, []uint16{keys.KeyLeftCtrl, keys.KeyRightCtrl}, c.Modifiers[keys.ModCtrl])
}

func TestParsePlainBinding(t *testing.T) {
	c := parseConfig(t, "[main]\na = b\n")

	d, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: 30})
	require.True(t, ok)
	assert.Equal(t, OpKeySequence, d.Op)
	assert.Equal(t, uint16(48), d.Args[0])
}

func TestParseGlobalOptions(t *testing.T) {
	c := parseConfig(t, `[global]
overload_tap_timeout = 200
chord_timeout = 70
chord_hold_timeout = 90
oneshot_timeout = 500
macro_timeout = 300
macro_repeat_timeout = 40
disable_modifier_guard = 1
layer_indicator = 2
default_layout = dvorak
`)

	assert.Equal(t, int64(200), c.OverloadTapTimeout)
	assert.Equal(t, int64(70), c.ChordInterkeyTimeout)
	assert.Equal(t, int64(90), c.ChordHoldTimeout)
	assert.Equal(t, int64(500), c.OneshotTimeout)
	assert.Equal(t, int64(300), c.MacroTimeout)
	assert.Equal(t, int64(40), c.MacroRepeatTimeout)
	assert.True(t, c.DisableModifierGuard)
	assert.Equal(t, uint8(2), c.LayerIndicator)
	assert.Equal(t, "dvorak", c.DefaultLayout)
}

func TestParseIDSection(t *testing.T) {
	c := parseConfig(t, `[ids]
k:*
0fac:0ade
-dead:beef
m:1111:2222
`)

	assert.Equal(t, IDKeyboard, c.Wildcard)
	require.Len(t, c.IDs, 3)
	assert.Equal(t, DevID{Flags: IDKeyboard | IDMouse, ID: "0fac:0ade"}, c.IDs[0])
	assert.Equal(t, DevID{Flags: IDExcluded, ID: "dead:beef"}, c.IDs[1])
	assert.Equal(t, DevID{Flags: IDMouse, ID: "1111:2222"}, c.IDs[2])
}

func TestCheckMatch(t *testing.T) {
	c := parseConfig(t, "[ids]\nk:*\n0fac:0ade\n-dead:beef\n")

	assert.Equal(t, 2, c.CheckMatch("0fac:0ade:12345678", IDKeyboard))
	assert.Equal(t, 0, c.CheckMatch("dead:beef:00000000", IDKeyboard))
	assert.Equal(t, 1, c.CheckMatch("9999:9999:00000000", IDKeyboard))
	assert.Equal(t, 0, c.CheckMatch("9999:9999:00000000", IDMouse))
}

func TestParseAliasModifierAssignment(t *testing.T) {
	c := parseConfig(t, "[aliases]\ncapslock = C\n")

	assert.True(t, c.IsMod(keys.ModCtrl, 58))
	// Reassigning removes the key from its previous class.
	c2 := parseConfig(t, "[aliases]\nleftshift = C\n")
	assert.False(t, c2.IsMod(keys.ModShift, keys.KeyLeftShift))
	assert.True(t, c2.IsMod(keys.ModCtrl, keys.KeyLeftShift))
}

func TestParseAliasExpansion(t *testing.T) {
	c := parseConfig(t, `[aliases]
leftshift = foot
rightshift = foot

[main]
foot = a
`)

	// The alias expands to a binding per physical key.
	for _, code := range []uint16{keys.KeyLeftShift, keys.KeyRightShift} {
		d, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: code})
		require.True(t, ok, "code %d", code)
		assert.Equal(t, uint16(30), d.Args[0])
	}
}

func TestParseLayerSection(t *testing.T) {
	c := parseConfig(t, `[nav]
h = left
`)

	idx := c.accessLayer("nav", false)
	require.Greater(t, idx, keys.ModMax)
	d, ok := c.Layers[idx].Keymap.Get(&Descriptor{ID: 35})
	require.True(t, ok)
	assert.Equal(t, uint16(105), d.Args[0])
}

func TestParseCompositeLayer(t *testing.T) {
	c := parseConfig(t, `[control+shift]
a = b
`)

	idx := c.accessLayer("control+shift", false)
	require.Greater(t, idx, keys.ModMax)
	layer := &c.Layers[idx]
	assert.True(t, layer.IsComposite())
	assert.Equal(t, []uint16{3, 4}, layer.Constituents)

	// Resolution is order and spelling independent.
	assert.Equal(t, idx, c.accessLayer("shift+ctrl", false))
}

func TestParseCompositeLayerRejectsEmptyToken(t *testing.T) {
	c := New()
	assert.Equal(t, -1, c.accessLayer("a++b", false))
}

func TestAccessLayerMainShortcuts(t *testing.T) {
	c := New()
	assert.Equal(t, 0, c.accessLayer("+", false))
	assert.Equal(t, 0, c.accessLayer("main", false))
}

func TestParseChord(t *testing.T) {
	c := parseConfig(t, "[main]\nj+k = esc\n")

	require.Len(t, c.Layers[0].Chords, 1)
	chord := c.Layers[0].Chords[0]
	assert.Equal(t, 2, chord.NumKeys())
	assert.Equal(t, uint16(1), chord.D.Args[0])

	// Rebinding the same key set overwrites the chord.
	_, err := c.AddEntry("j+k = enter")
	require.NoError(t, err)
	require.Len(t, c.Layers[0].Chords, 1)
	assert.Equal(t, uint16(keys.KeyEnter), c.Layers[0].Chords[0].D.Args[0])
}

func TestParseChordRejectsModifier(t *testing.T) {
	c := New()
	_, err := c.AddEntry("leftshift+k = esc")
	assert.Error(t, err)
}

func TestParseOverload(t *testing.T) {
	c := parseConfig(t, "[main]\nspace = overload(shift, space)\n")

	d, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: keys.KeySpace})
	require.True(t, ok)
	assert.Equal(t, OpOverload, d.Op)
	assert.Equal(t, int16(3), d.Idx(0))

	action := c.Descriptors[d.Args[1]]
	assert.Equal(t, OpKeySequence, action.Op)
	assert.Equal(t, uint16(keys.KeySpace), action.Args[0])
}

func TestParseOverloadTimeout(t *testing.T) {
	c := parseConfig(t, "[main]\ncapslock = overloadt(control, esc, 150)\n")

	d, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: 58})
	require.True(t, ok)
	assert.Equal(t, OpOverloadTimeout, d.Op)
	assert.Equal(t, int16(4), d.Idx(0))
	assert.Equal(t, uint16(150), d.Args[2])
}

func TestParseLettermod(t *testing.T) {
	c := parseConfig(t, "[main]\na = lettermod(shift, a, 120, 150)\n")

	d, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: 30})
	require.True(t, ok)
	require.Equal(t, OpOverloadIdleTimeout, d.Op)
	assert.Equal(t, uint16(120), d.Args[2])

	inner := c.Descriptors[d.Args[1]]
	require.Equal(t, OpOverloadTimeoutTap, inner.Op)
	assert.Equal(t, int16(3), inner.Idx(0))
	assert.Equal(t, uint16(150), inner.Args[2])
}

func TestParseMacroBinding(t *testing.T) {
	c := parseConfig(t, "[main]\na = macro(C-t 100ms type(hello))\n")

	d, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: 30})
	require.True(t, ok)
	assert.Equal(t, OpMacro, d.Op)

	m := c.Macros[d.Args[0]&^MacroWildcardBit]
	require.NotEmpty(t, m)
	assert.Equal(t, macro.Timeout, m[1].Kind)
}

func TestParseCommandBinding(t *testing.T) {
	c := parseConfig(t, "[main]\na = cmd(notify-send hi)\n")

	d, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: 30})
	require.True(t, ok)
	assert.Equal(t, OpMacro, d.Op)
	require.Len(t, c.Commands, 1)
	assert.Equal(t, "notify-send hi", c.Commands[0].Cmd)
}

func TestParseLayerArgumentSpecials(t *testing.T) {
	c := parseConfig(t, "[nav]\nx = y\n\n[main]\na = layer(-)\nb = layer(-nav)\n")

	d, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: 30})
	require.True(t, ok)
	assert.Equal(t, int16(NoLayer), d.Idx(0))

	d, ok = c.Layers[0].Keymap.Get(&Descriptor{ID: 48})
	require.True(t, ok)
	assert.Negative(t, d.Idx(0))
}

func TestParseSectionModifiers(t *testing.T) {
	// Bindings in a [C-nav] style section carry the section's mods.
	c := parseConfig(t, "[C-nav]\nh = left\n")

	idx := c.accessLayer("nav", false)
	require.Greater(t, idx, keys.ModMax)
	d, ok := c.Layers[idx].Keymap.Get(&Descriptor{ID: 35, Mods: 1 << keys.ModCtrl})
	require.True(t, ok)
	assert.Equal(t, uint16(105), d.Args[0])
	assert.Equal(t, uint8(1<<keys.ModCtrl), d.Mods)
}

func TestParseSectionWildcardSuffix(t *testing.T) {
	c := parseConfig(t, "[main**]\na = b\n")

	d, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: 30})
	require.True(t, ok)
	assert.Equal(t, uint16(0xff), d.Args[2])
}

func TestParseSkipsBadLines(t *testing.T) {
	c := parseConfig(t, `[main]
a = b
nosuchkey = c
d = nosuchaction(x)
e = f
`)

	_, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: 30})
	assert.True(t, ok)
	_, ok = c.Layers[0].Keymap.Get(&Descriptor{ID: 18})
	assert.True(t, ok)
	assert.Equal(t, 2, c.Layers[0].Keymap.Len())
}

func TestAddEntryWithSection(t *testing.T) {
	c := parseConfig(t, "[nav]\nh = left\n")

	idx, err := c.AddEntry("nav.j = down")
	require.NoError(t, err)
	assert.Equal(t, c.accessLayer("nav", false), idx)

	idx, err = c.AddEntry("a = b")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	c := parseConfig(t, `[global]
overload_tap_timeout = 200

[main]
a = b
j+k = esc

[nav]
h = left
`)
	c.Finalize()

	b := NewBackup(c)

	layerCount := len(c.Layers)
	descCount := len(c.Descriptors)
	macroCount := len(c.Macros)
	cmdCount := len(c.Commands)
	keymaps := make([]DescriptorMap, layerCount)
	chords := make([][]Chord, layerCount)
	for i := range c.Layers {
		keymaps[i] = c.Layers[i].Keymap.Clone()
		chords[i] = append([]Chord(nil), c.Layers[i].Chords...)
	}

	// Mutations: new bindings, a new layer, a macro, a command, a chord
	// overwrite and a modifier reassignment.
	for _, exp := range []string{
		"a = c",
		"x = overload(shift, x)",
		"extra.y = z",
		"m = macro(a b c)",
		"n = cmd(true)",
		"j+k = tab",
	} {
		_, err := c.AddEntry(exp)
		require.NoError(t, err, exp)
	}
	c.Modifiers[keys.ModCtrl] = []uint16{58}

	b.Restore(c)

	require.Len(t, c.Layers, layerCount)
	assert.Len(t, c.Descriptors, descCount)
	assert.Len(t, c.Macros, macroCount)
	assert.Len(t, c.Commands, cmdCount)
	assert.Equal(t, []uint16{keys.KeyLeftCtrl, keys.KeyRightCtrl}, c.Modifiers[keys.ModCtrl])
	for i := range c.Layers {
		assert.True(t, c.Layers[i].Keymap.EqualTo(&keymaps[i]), "layer %d keymap", i)
		assert.Equal(t, chords[i], c.Layers[i].Chords, "layer %d chords", i)
	}

	// The composite/simple indices forget truncated layers.
	assert.Equal(t, -1, func() int {
		if idx, ok := c.simpleIndex["extra"]; ok {
			return idx
		}
		return -1
	}())
}

func TestParseIncludes(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "common"),
		[]byte("[main]\na = b\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.conf"),
		[]byte("include common\n[main]\nc = d\n"), 0600))

	c := New()
	require.NoError(t, c.Parse(filepath.Join(dir, "default.conf")))

	_, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: 30})
	assert.True(t, ok)
	_, ok = c.Layers[0].Keymap.Get(&Descriptor{ID: 46})
	assert.True(t, ok)
}

func TestParseIncludeDepthLimit(t *testing.T) {
	dir := t.TempDir()

	// A 12-deep include chain: expansion must stop at depth 10.
	for i := 0; i < 12; i++ {
		content := fmt.Sprintf("[main]\n%c = a\n", 'b'+byte(i))
		if i < 11 {
			content = fmt.Sprintf("include inc%d\n", i+1) + content
		}
		name := fmt.Sprintf("inc%d", i)
		if i == 0 {
			name = "default.conf"
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
	}

	c := New()
	require.NoError(t, c.Parse(filepath.Join(dir, "default.conf")))

	// inc10 is reached at depth 10; its include of inc11 is refused.
	_, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: 38}) // 'l', from inc10
	assert.True(t, ok)
	_, ok = c.Layers[0].Keymap.Get(&Descriptor{ID: 50}) // 'm', from inc11
	assert.False(t, ok)
}

func TestParseIncludeCycle(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "one"),
		[]byte("include two\n[main]\na = b\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two"),
		[]byte("include one\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.conf"),
		[]byte("include one\n"), 0600))

	c := New()
	require.NoError(t, c.Parse(filepath.Join(dir, "default.conf")))
	_, ok := c.Layers[0].Keymap.Get(&Descriptor{ID: 30})
	assert.True(t, ok)
}

func TestParseChecksumMismatchRejectsPassTwo(t *testing.T) {
	contents := []string{
		"[main]\na = b\n",
		"[main]\na = c\n",
	}
	i := 0
	read := func() (string, error) {
		content := contents[i]
		i++
		return content, nil
	}

	c := New()
	err := c.parseTwoPass(read)
	require.Error(t, err)
	assert.Zero(t, c.Layers[0].Keymap.Len())
}

func TestDeepEqual(t *testing.T) {
	c := parseConfig(t, "[main]\na = overload(shift, space)\nb = overload(shift, space)\nc = overload(shift, esc)\n")

	da, _ := c.Layers[0].Keymap.Get(&Descriptor{ID: 30})
	db, _ := c.Layers[0].Keymap.Get(&Descriptor{ID: 48})
	dc, _ := c.Layers[0].Keymap.Get(&Descriptor{ID: 46})

	// IDs differ, so shallow equality fails either way.
	da2 := da
	da2.ID = db.ID
	assert.True(t, da2.DeepEqual(c, &db))

	dc2 := dc
	dc2.ID = da.ID
	assert.False(t, da.DeepEqual(c, &dc2))
}
