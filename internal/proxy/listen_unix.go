//go:build linux || darwin || freebsd || openbsd || netbsd

package proxy

import (
	"syscall"

	"golang.org/x/sys/unix"
)

var reusePortControl = func(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
