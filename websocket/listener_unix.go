//go:build unix

package websocket

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSetSocketOptions sets SO_KEEPALIVE, SO_REUSEADDR and
// SO_REUSEPORT on the listening socket before bind, via
// unix.SetsockoptInt against the raw fd exposed by syscall.RawConn.Control.
func controlSetSocketOptions(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		if sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		// SO_REUSEPORT is not defined on every unix target; ignore
		// ENOPROTOOPT-style failures rather than refusing to listen.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
