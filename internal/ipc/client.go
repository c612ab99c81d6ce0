package ipc

import (
	"fmt"
	"net"
)

// Connect dials the daemon's control socket.
func Connect() (net.Conn, error) {
	conn, err := net.Dial("unix", SocketPath())
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", SocketPath(), err)
	}
	return conn, nil
}

// Exec round-trips one request over an established connection.
func Exec(conn net.Conn, msgType MsgType, data []byte, timeout uint64) (*Message, error) {
	req := &Message{Type: msgType, Timeout: timeout, Data: data}
	if err := req.Write(conn); err != nil {
		return nil, err
	}
	return ReadMessage(conn)
}
