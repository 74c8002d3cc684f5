//go:build !unix

package websocket

import "syscall"

// controlSetSocketOptions is a no-op on non-unix platforms: SO_REUSEPORT
// has no portable equivalent there, and the net package's own defaults
// are used for the rest.
func controlSetSocketOptions(network, address string, c syscall.RawConn) error {
	return nil
}
