//go:build !unix

package udplisten

import "syscall"

// The runtime already enables SO_BROADCAST on UDP sockets; address reuse is
// left at the platform default.
func controlFunc(Options) func(network, address string, c syscall.RawConn) error {
	return nil
}
