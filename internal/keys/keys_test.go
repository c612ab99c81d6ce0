package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeySequence(t *testing.T) {
	tests := []struct {
		in       string
		code     uint16
		mods     uint8
		wildcard uint8
		rem      int
	}{
		{"a", 30, 0, 0, 0},
		{"esc", 1, 0, 0, 0},
		{"escape", 1, 0, 0, 0},
		{"A", 30, 1 << ModShift, 0, 0},
		{"C-a", 30, 1 << ModCtrl, 0, 0},
		{"C-S-b", 48, 1<<ModCtrl | 1<<ModShift, 0, 0},
		{"**a", 30, 0, 0xff, 0},
		{"C*a", 30, 0, 1 << ModCtrl, 0},
		{"M-space", KeySpace, 1 << ModSuper, 0, 0},
		{"key_030", 30, 0, 0, 0},
		{"leftshift", KeyLeftShift, 0, 0, 0},
		{"noop", Noop, 0, 0, 0},
		{"wheelup", WheelUp, 0, 0, 0},
		{"C-", 0, 1 << ModCtrl, 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			code, mods, wildcard, rem := ParseKeySequence(tc.in)
			assert.Equal(t, tc.code, code, "code")
			assert.Equal(t, tc.mods, mods, "mods")
			assert.Equal(t, tc.wildcard, wildcard, "wildcard")
			assert.Equal(t, tc.rem, rem, "rem")
		})
	}
}

func TestParseKeySequenceHyphenKey(t *testing.T) {
	// "C-" parses as the prefix, but a bare "-" is the minus key.
	code, mods, _, rem := ParseKeySequence("-")
	require.Equal(t, 0, rem)
	assert.Equal(t, uint16(12), code)
	assert.Zero(t, mods)
}

func TestParseKeySequencePartial(t *testing.T) {
	code, mods, _, rem := ParseKeySequence("C-nosuchkey")
	assert.Zero(t, code)
	assert.Equal(t, uint8(1<<ModCtrl), mods)
	assert.Equal(t, len("nosuchkey"), rem)

	_, _, _, rem = ParseKeySequence("")
	assert.Equal(t, -1, rem)
}

func TestKeyName(t *testing.T) {
	assert.Equal(t, "a", KeyName(30))
	assert.Equal(t, "space", KeyName(KeySpace))
	assert.Equal(t, "key_084", KeyName(84))
	assert.Equal(t, "UNKNOWN", KeyName(EntryCount))
}

func TestModString(t *testing.T) {
	assert.Equal(t, "", ModString(0))
	assert.Equal(t, "C-", ModString(1<<ModCtrl))
	assert.Equal(t, "A-S-", ModString(1<<ModAlt|1<<ModShift))
}

func TestIsWheel(t *testing.T) {
	assert.True(t, IsWheel(WheelUp))
	assert.True(t, IsWheel(WheelRight))
	assert.False(t, IsWheel(KeySpace))
}
