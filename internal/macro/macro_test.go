package macro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyd-cpp/keyd/internal/keys"
)

type fakeRegistry struct {
	cmds []string
}

func (r *fakeRegistry) AddCommand(cmd string) (int, error) {
	r.cmds = append(r.cmds, cmd)
	return len(r.cmds) - 1, nil
}

func TestParseKeyTokens(t *testing.T) {
	m, err := Parse("C-t enter", nil)
	require.NoError(t, err)
	require.Len(t, m, 2)

	assert.Equal(t, KeySeq, m[0].Kind)
	assert.Equal(t, uint16(20), m[0].Code)
	assert.Equal(t, uint8(1<<keys.ModCtrl), m[0].Mods)

	assert.Equal(t, KeySeq, m[1].Kind)
	assert.Equal(t, uint16(keys.KeyEnter), m[1].Code)
}

func TestParseText(t *testing.T) {
	m, err := Parse("type(Hi)", nil)
	require.NoError(t, err)
	require.Len(t, m, 2)

	assert.Equal(t, uint16(35), m[0].Code)
	assert.Equal(t, uint8(1<<keys.ModShift), m[0].Mods)
	assert.Equal(t, uint16(23), m[1].Code)
	assert.Zero(t, m[1].Mods)
}

func TestParseTimeout(t *testing.T) {
	m, err := Parse("a 100ms b", nil)
	require.NoError(t, err)
	require.Len(t, m, 3)
	assert.Equal(t, Timeout, m[1].Kind)
	assert.Equal(t, uint16(100), m[1].Code)
}

func TestParseCompoundHold(t *testing.T) {
	m, err := Parse("a+b+50ms", nil)
	require.NoError(t, err)
	require.Len(t, m, 4)
	assert.Equal(t, Hold, m[0].Kind)
	assert.Equal(t, Hold, m[1].Kind)
	assert.Equal(t, Timeout, m[2].Kind)
	assert.Equal(t, Release, m[3].Kind)
}

func TestParseCommand(t *testing.T) {
	reg := &fakeRegistry{}
	m, err := Parse("cmd(echo hello world)", reg)
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, Command, m[0].Kind)
	require.Len(t, reg.cmds, 1)
	assert.Equal(t, "echo hello world", reg.cmds[0])
}

func TestParseCommandWithoutRegistry(t *testing.T) {
	_, err := Parse("cmd(reboot)", nil)
	assert.Error(t, err)
}

func TestParseRejectsWildcard(t *testing.T) {
	_, err := Parse("macro **a", nil)
	assert.Error(t, err)
}

func TestParseInvalidToken(t *testing.T) {
	_, err := Parse("nosuchkey", nil)
	assert.Error(t, err)
}

func TestParseEscapes(t *testing.T) {
	reg := &fakeRegistry{}
	_, err := Parse(`cmd(echo \))`, reg)
	require.NoError(t, err)
	require.Len(t, reg.cmds, 1)
	assert.Equal(t, "echo )", reg.cmds[0])
}

type sendRec struct {
	code    uint16
	pressed bool
}

func record(out *[]sendRec) func(uint16, bool) {
	return func(code uint16, pressed bool) {
		*out = append(*out, sendRec{code, pressed})
	}
}

func TestRunSimpleSequence(t *testing.T) {
	m, err := Parse("a b", nil)
	require.NoError(t, err)

	var out []sendRec
	Run(record(&out), m, 0, nil)

	assert.Equal(t, []sendRec{
		{30, true}, {30, false},
		{48, true}, {48, false},
	}, out)
}

func TestRunModifierWrapping(t *testing.T) {
	m, err := Parse("C-a", nil)
	require.NoError(t, err)

	var out []sendRec
	Run(record(&out), m, 0, nil)

	assert.Equal(t, []sendRec{
		{keys.KeyLeftCtrl, true},
		{30, true}, {30, false},
		{keys.KeyLeftCtrl, false},
	}, out)
}

func TestRunCompoundHold(t *testing.T) {
	m, err := Parse("a+b", nil)
	require.NoError(t, err)

	var out []sendRec
	Run(record(&out), m, 0, nil)

	assert.Equal(t, []sendRec{
		{30, true}, {48, true},
		{30, false}, {48, false},
	}, out)
}

func TestRunUnicodeEmitsFourKeys(t *testing.T) {
	m, err := Parse("type(é)", nil)
	require.NoError(t, err)
	require.Len(t, m, 1)
	require.Equal(t, Unicode, m[0].Kind)

	var out []sendRec
	Run(record(&out), m, 0, nil)
	assert.Len(t, out, 8)
}

func TestEnvPack(t *testing.T) {
	p := &EnvPack{Env: []string{"HOME=/home/u", "PATH=/bin"}, UID: 1000}
	assert.Equal(t, "/home/u", p.Getenv("HOME"))
	assert.Equal(t, "", p.Getenv("HOM"))
	assert.True(t, p.Equal(&EnvPack{Env: []string{"HOME=/home/u", "PATH=/bin"}, UID: 1000}))
	assert.False(t, p.Equal(&EnvPack{Env: []string{"HOME=/home/u"}, UID: 1000}))
}
