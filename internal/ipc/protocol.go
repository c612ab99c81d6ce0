// Package ipc provides the framed message socket between the keyd daemon
// and its clients.
//
// The wire format is a fixed-size struct: a one byte message type, a
// 64-bit timeout, a 64-bit payload size and a 4096 byte payload buffer.
// Integer fields are little-endian on the wire.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// MsgType identifies the type of IPC message.
type MsgType uint8

const (
	MsgSuccess MsgType = iota
	MsgFail

	MsgBind
	MsgInput
	MsgMacro
	MsgReload
	MsgLayerListen
)

// MaxMessageSize bounds the payload.
const MaxMessageSize = 4096

// frameSize is the on-wire size of every message.
const frameSize = 1 + 8 + 8 + MaxMessageSize

// MaxTimeout bounds the client-supplied inter-key timeout (in ms).
const MaxTimeout = 1000

// Message is one request or reply.
type Message struct {
	Type    MsgType
	Timeout uint64
	Data    []byte
}

// Write frames the message onto w.
func (m *Message) Write(w io.Writer) error {
	if len(m.Data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum", len(m.Data))
	}

	var buf [frameSize]byte
	buf[0] = byte(m.Type)
	binary.LittleEndian.PutUint64(buf[1:9], m.Timeout)
	binary.LittleEndian.PutUint64(buf[9:17], uint64(len(m.Data)))
	copy(buf[17:], m.Data)

	_, err := w.Write(buf[:])
	return err
}

// ReadMessage reads one framed message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	var buf [frameSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}

	sz := binary.LittleEndian.Uint64(buf[9:17])
	if sz > MaxMessageSize {
		return nil, fmt.Errorf("maximum message size exceeded")
	}

	m := &Message{
		Type:    MsgType(buf[0]),
		Timeout: binary.LittleEndian.Uint64(buf[1:9]),
		Data:    append([]byte(nil), buf[17:17+sz]...),
	}
	return m, nil
}

// NewSuccess builds an empty success reply.
func NewSuccess() *Message {
	return &Message{Type: MsgSuccess}
}

// NewFail builds a failure reply with diagnostic text.
func NewFail(format string, args ...any) *Message {
	text := fmt.Sprintf(format, args...)
	if len(text) > MaxMessageSize {
		text = text[:MaxMessageSize]
	}
	return &Message{Type: MsgFail, Data: []byte(text)}
}

// SocketPath returns the control socket location.
func SocketPath() string {
	if path := os.Getenv("KEYD_SOCKET"); path != "" {
		return path
	}
	return "/var/run/keyd.socket"
}
