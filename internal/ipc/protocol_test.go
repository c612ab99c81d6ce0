package ipc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	in := &Message{Type: MsgMacro, Timeout: 125, Data: []byte("C-t type(hello)")}
	require.NoError(t, in.Write(&buf))
	assert.Equal(t, frameSize, buf.Len())

	out, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.Timeout, out.Timeout)
	assert.Equal(t, in.Data, out.Data)
}

func TestMessageEmptyPayload(t *testing.T) {
	var buf bytes.Buffer

	in := &Message{Type: MsgReload}
	require.NoError(t, in.Write(&buf))

	out, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgReload, out.Type)
	assert.Empty(t, out.Data)
}

func TestMessageSizeCap(t *testing.T) {
	in := &Message{Type: MsgInput, Data: make([]byte, MaxMessageSize+1)}
	assert.Error(t, in.Write(&bytes.Buffer{}))
}

func TestReadMessageRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	in := &Message{Type: MsgInput, Data: []byte("x")}
	require.NoError(t, in.Write(&buf))

	// Corrupt the size field past the cap.
	frame := buf.Bytes()
	for i := 9; i < 17; i++ {
		frame[i] = 0xff
	}

	_, err := ReadMessage(bytes.NewReader(frame))
	assert.Error(t, err)
}

func TestMessageLittleEndianLayout(t *testing.T) {
	var buf bytes.Buffer
	in := &Message{Type: MsgBind, Timeout: 0x0102030405060708, Data: []byte("k")}
	require.NoError(t, in.Write(&buf))

	frame := buf.Bytes()
	assert.Equal(t, byte(MsgBind), frame[0])
	// Least significant byte first.
	assert.Equal(t, byte(0x08), frame[1])
	assert.Equal(t, byte(0x01), frame[8])
	assert.Equal(t, byte(1), frame[9])
	assert.Equal(t, byte('k'), frame[17])
}

func TestNewFailTruncates(t *testing.T) {
	long := make([]byte, MaxMessageSize*2)
	for i := range long {
		long[i] = 'a'
	}
	msg := NewFail("%s", long)
	assert.Equal(t, MaxMessageSize, len(msg.Data))
	assert.Equal(t, MsgFail, msg.Type)
}
