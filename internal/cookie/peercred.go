package cookie

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// PeerCredentials holds the kernel-reported identity of the process on
// the other end of a local (AF_UNIX) connection (spec.md §4.5
// "Credentials: on local sockets the first frame may carry
// kernel-provided peer credentials, consumed by authentication.").
type PeerCredentials struct {
	UID uint32
	GID uint32
	PID int32
}

// PeerCredentialsFrom extracts the kernel-provided credentials of the
// process on the other end of a unix.Conn via SO_PEERCRED. Returns an
// error on any non-unix-socket connection (TCP has no equivalent).
func PeerCredentialsFrom(conn *net.UnixConn) (PeerCredentials, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return PeerCredentials{}, fmt.Errorf("cookie: accessing raw conn: %w", err)
	}

	var ucred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return PeerCredentials{}, fmt.Errorf("cookie: Control: %w", err)
	}
	if sockErr != nil {
		return PeerCredentials{}, fmt.Errorf("cookie: SO_PEERCRED: %w", sockErr)
	}

	return PeerCredentials{UID: ucred.Uid, GID: ucred.Gid, PID: ucred.Pid}, nil
}

// AuthorizedByUID reports whether uid matches the server's own uid or
// belongs to allowedGID (spec.md §4.7 step 3's "peer uid against the
// server's uid / configured group" fallback path).
func AuthorizedByUID(creds PeerCredentials, serverUID uint32, allowedGID uint32, allowedGIDSet bool) bool {
	if creds.UID == serverUID {
		return true
	}
	return allowedGIDSet && creds.GID == allowedGID
}
