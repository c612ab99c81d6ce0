//go:build linux

package ipc

import (
	"fmt"
	"net"
	"os"

	"github.com/keyd-cpp/keyd/internal/macro"
)

// Client is one accepted connection plus the credentials and environment
// captured from its peer.
type Client struct {
	Conn net.Conn
	UID  uint32
	GID  uint32
	PID  int32
	Env  *macro.EnvPack
}

// Server owns the daemon's unix control socket.
type Server struct {
	listener net.Listener
	path     string
}

// NewServer binds the control socket. Failure here usually means another
// daemon instance is already running.
func NewServer() (*Server, error) {
	path := SocketPath()

	// Probe for a live instance before clobbering the socket file.
	if conn, err := net.Dial("unix", path); err == nil {
		conn.Close()
		return nil, fmt.Errorf("socket %s is already in use", path)
	}
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	if err := os.Chmod(path, 0660); err != nil {
		listener.Close()
		os.Remove(path)
		return nil, fmt.Errorf("set socket permissions: %w", err)
	}

	return &Server{listener: listener, path: path}, nil
}

// Accept waits for a client and captures its peer credentials. When the
// caller's uid differs from the daemon's, the client's initial process
// environment is snapshotted for use by subsequently parsed commands.
func (s *Server) Accept() (*Client, error) {
	conn, err := s.listener.Accept()
	if err != nil {
		return nil, err
	}

	client := &Client{Conn: conn}
	if cred, err := peerCredentials(conn); err == nil {
		client.UID = cred.UID
		client.GID = cred.GID
		client.PID = cred.PID

		if int(cred.UID) != os.Getuid() || int(cred.GID) != os.Getgid() {
			client.Env = captureEnviron(cred.PID, cred.UID, cred.GID)
		}
	}

	return client, nil
}

// Close shuts the socket down and removes it.
func (s *Server) Close() error {
	err := s.listener.Close()
	os.Remove(s.path)
	return err
}
