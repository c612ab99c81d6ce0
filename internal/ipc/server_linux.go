//go:build linux

package ipc

import (
	"bytes"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/keyd-cpp/keyd/internal/macro"
)

// PeerCredentials identifies the process on the other end of a unix
// socket.
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

// peerCredentials retrieves SO_PEERCRED for a connection.
func peerCredentials(conn net.Conn) (*PeerCredentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("not a unix connection")
	}

	rawConn, err := unixConn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("get raw conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	err = rawConn.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("getsockopt: %w", credErr)
	}

	return &PeerCredentials{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}

// captureEnviron snapshots /proc/<pid>/environ into an env pack attached
// to commands parsed on the client's behalf.
func captureEnviron(pid int32, uid, gid uint32) *macro.EnvPack {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/environ", pid))
	if err != nil || len(data) == 0 {
		return nil
	}

	var env []string
	for _, kv := range bytes.Split(data, []byte{0}) {
		if len(kv) > 0 {
			env = append(env, string(kv))
		}
	}

	return &macro.EnvPack{Env: env, UID: uid, GID: gid}
}
