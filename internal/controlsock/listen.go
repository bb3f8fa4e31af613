// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package controlsock

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Listen opens a control-socket listener at addr. "none" disables the
// control socket entirely (returns three nil values). A "tcp:" prefix opens
// a TCP listener on the remaining address; anything else is a Unix-domain
// socket path, optionally made group-accessible to the named group.
//
// Grounded on control-socket.h's CreateControlSocket/ControlSockUnix/
// ControlSockTCP: for a Unix socket this acquires an exclusive flock on
// "<path>.lock" first, using it to decide whether any existing socket
// inode at path is stale (ours, a socket, expected mode) and safe to
// remove, per spec.md §5's resource-acquisition guarantee.
func Listen(addr, group string) (net.Listener, func() error, error) {
	if addr == "none" {
		return nil, nil, nil
	}
	if strings.HasPrefix(addr, "tcp:") {
		ln, err := net.Listen("tcp", addr[len("tcp:"):])
		if err != nil {
			return nil, nil, fmt.Errorf("controlsock: listen %s: %w", addr, err)
		}
		return ln, func() error { return nil }, nil
	}
	return listenUnix(addr, group)
}

func listenUnix(path, group string) (net.Listener, func() error, error) {
	if !filepath.IsAbs(path) {
		return nil, nil, fmt.Errorf("controlsock: path %q is not absolute", path)
	}
	if strings.HasSuffix(path, "/") {
		return nil, nil, fmt.Errorf("controlsock: path %q ends with a trailing '/'", path)
	}

	gid := -1
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return nil, nil, fmt.Errorf("controlsock: group %q: %w", group, err)
		}
		n, err := strconv.Atoi(g.Gid)
		if err != nil {
			return nil, nil, fmt.Errorf("controlsock: group %q: bad gid: %w", group, err)
		}
		gid = n
	}

	dir := filepath.Dir(path)
	if err := createSocketDir(dir, gid); err != nil {
		return nil, nil, err
	}

	lockfd, err := acquireSocketLock(path, gid)
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		unix.Close(lockfd)
		return nil, nil, fmt.Errorf("controlsock: listen on %s: %w", path, err)
	}

	mode := os.FileMode(0600)
	if gid != -1 {
		mode |= 0060
	}
	if err := os.Chmod(path, mode); err != nil {
		ln.Close()
		unix.Close(lockfd)
		return nil, nil, fmt.Errorf("controlsock: chmod %s: %w", path, err)
	}
	if gid != -1 {
		if err := os.Chown(path, -1, gid); err != nil {
			ln.Close()
			unix.Close(lockfd)
			return nil, nil, fmt.Errorf("controlsock: chown %s: %w", path, err)
		}
	}

	cleanup := func() error {
		os.Remove(path)
		return unix.Close(lockfd)
	}
	return ln, cleanup, nil
}

// createSocketDir ensures dir exists, creating it with the expected
// group/mode when it is missing. A pre-existing directory is accepted as it
// is, without checking its owner, group or mode; any other existing file
// is refused.
func createSocketDir(dir string, gid int) error {
	mode := os.FileMode(0700)
	if gid != -1 {
		mode = 0770
	}

	if st, err := os.Lstat(dir); err == nil {
		if !st.IsDir() {
			return fmt.Errorf("controlsock: %s exists and is not a directory", dir)
		}
		return nil
	}

	if err := os.MkdirAll(dir, mode); err != nil {
		return fmt.Errorf("controlsock: failed to create directory %s: %w", dir, err)
	}
	if err := os.Chmod(dir, mode); err != nil {
		return fmt.Errorf("controlsock: failed to chmod %s: %w", dir, err)
	}
	if gid != -1 {
		if err := os.Chown(dir, -1, gid); err != nil {
			return fmt.Errorf("controlsock: failed to chown %s: %w", dir, err)
		}
	}
	return nil
}

// acquireSocketLock takes an exclusive, non-blocking flock on
// "<path>.lock". If held by someone else, another seedd instance owns the
// socket. Once held, any existing socket inode at path is removed only if
// it is owned by us, is actually a socket, and has the mode we'd have set
// it to ourselves — otherwise acquisition fails rather than risk stomping
// on a file that isn't ours, per spec.md §5/§8 scenario 8.
func acquireSocketLock(path string, gid int) (int, error) {
	lockPath := path + ".lock"

	fd, err := unix.Open(lockPath, unix.O_RDWR|unix.O_CREAT, 0640)
	if err != nil {
		return -1, fmt.Errorf("controlsock: failed to open socket lock %s: %w", lockPath, err)
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if err == unix.EWOULDBLOCK {
			return -1, fmt.Errorf("controlsock: socket %s is owned by another process", path)
		}
		return -1, fmt.Errorf("controlsock: failed to lock %s: %w", lockPath, err)
	}

	if err := removeStaleSocket(path, gid); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

func removeStaleSocket(path string, gid int) error {
	st, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("controlsock: failed to stat %s: %w", path, err)
	}

	if st.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("controlsock: %s exists and is not a socket", path)
	}

	sysStat, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("controlsock: could not inspect owner of %s", path)
	}

	wantMode := os.FileMode(0600)
	if gid != -1 {
		wantMode |= 0060
	}
	if st.Mode().Perm() != wantMode {
		return fmt.Errorf("controlsock: %s exists but is not mode %#o", path, wantMode)
	}
	if int(sysStat.Uid) != os.Geteuid() {
		return fmt.Errorf("controlsock: %s exists but is not owned by us", path)
	}
	wantGid := os.Getegid()
	if gid != -1 {
		wantGid = gid
	}
	if int(sysStat.Gid) != wantGid {
		return fmt.Errorf("controlsock: %s exists but is not in the expected group", path)
	}

	return os.Remove(path)
}
