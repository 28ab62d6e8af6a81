//go:build unix

package udplisten

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func controlFunc(opts Options) func(network, address string, c syscall.RawConn) error {
	if !opts.ReuseAddr && !opts.Broadcast {
		return nil
	}
	return func(network, _ string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			if opts.ReuseAddr {
				if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); serr != nil {
					return
				}
			}
			if opts.Broadcast {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			}
		})
		if err != nil {
			return err
		}
		return serr
	}
}
