package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/driftsound/driftsound/internal/logger"
)

// staleSocketTTL is how old the pidfile beside a busy socket must be before
// staleSocket probes its PID at all; a younger pidfile is taken as belonging
// to a live owner (e.g. a server that has only just started), so a second
// instance doesn't race a real owner out of its own socket (SPEC_FULL.md §5
// "gated by a TTL so a transient false positive doesn't repeatedly attempt
// to steal a live socket").
const staleSocketTTL = 2 * time.Second

// listenUnix binds a unix socket at path, creating its parent directory
// at mode 0700 (spec.md §6, SPEC_FULL.md §3 "unix socket directory
// permission enforcement") and chmod-ing the socket file itself to mode.
// If a stale socket file is already present (left behind by a process
// that died without cleaning up), it probes the pidfile sitting beside
// it and removes the socket once that PID is confirmed dead, mirroring
// the original server's kill(pid, 0) liveness check
// (_examples/original_source/src/daemon.c has no direct analog retrieved
// into original_source/; this is this port's own straightforward reading
// of "probe the believed-stale owner").
func listenUnix(path string, mode os.FileMode, log logger.Logger) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("socket: creating %s: %w", filepath.Dir(path), err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		if !errors.Is(err, syscall.EADDRINUSE) && !os.IsExist(err) {
			return nil, fmt.Errorf("socket: listening on %s: %w", path, err)
		}
		if !staleSocket(path, log) {
			return nil, fmt.Errorf("socket: %s is in use by a live process: %w", path, err)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("socket: removing stale socket %s: %w", path, err)
		}
		ln, err = net.Listen("unix", path)
		if err != nil {
			return nil, fmt.Errorf("socket: listening on %s after clearing stale socket: %w", path, err)
		}
	}

	if err := os.Chmod(path, mode); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("socket: setting mode on %s: %w", path, err)
	}

	return writePidfile(path, ln, log)
}

// staleSocket reports whether the socket at path was left behind by a
// process that's no longer running. It reads the PID recorded in
// path+".pid" by a previous instance and signals it with signal 0
// (process-existence probe, no actual signal delivered). A missing,
// unreadable or unparsable pidfile is treated as stale; a pidfile younger
// than staleSocketTTL is treated as live without probing. The pidfile is
// written once at startup and never refreshed.
func staleSocket(path string, log logger.Logger) bool {
	pidPath := path + ".pid"

	info, err := os.Stat(pidPath)
	if err != nil {
		log.Warn("socket in use with no pidfile, assuming stale", logger.String("path", path))
		return true
	}
	if time.Since(info.ModTime()) < staleSocketTTL {
		return false
	}

	data, err := os.ReadFile(pidPath)
	if err != nil {
		return true
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return true
	}

	if err := unix.Kill(pid, 0); err != nil {
		log.Info("stale socket owner is gone, reclaiming socket",
			logger.String("path", path), logger.Int("pid", pid))
		return true
	}
	return false
}

// writePidfile records the running process's PID beside the socket so a
// future instance can tell a stale socket from a live one.
func writePidfile(path string, ln net.Listener, log logger.Logger) (net.Listener, error) {
	pidPath := path + ".pid"
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		log.Warn("failed to write pidfile", logger.String("path", pidPath), logger.Error(err))
	}
	return &unixListenerWithCleanup{Listener: ln, pidPath: pidPath}, nil
}

// unixListenerWithCleanup removes the pidfile (and the socket file itself,
// which net.UnixListener.Close already does) once the listener is closed.
type unixListenerWithCleanup struct {
	net.Listener
	pidPath string
}

func (l *unixListenerWithCleanup) Close() error {
	_ = os.Remove(l.pidPath)
	return l.Listener.Close()
}
