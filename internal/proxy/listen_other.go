//go:build !(linux || darwin || freebsd || openbsd || netbsd)

package proxy

import "syscall"

var reusePortControl func(network, address string, c syscall.RawConn) error
