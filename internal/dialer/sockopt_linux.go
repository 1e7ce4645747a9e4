//go:build linux

package dialer

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// UserTimeoutSupported reports whether Config.UserTimeout can be honored.
const UserTimeoutSupported = true

// userTimeoutControl returns a net.Dialer Control func setting
// TCP_USER_TIMEOUT, or nil if d is zero.
func userTimeoutControl(d time.Duration) func(network, address string, c syscall.RawConn) error {
	if d <= 0 {
		return nil
	}

	ms := int(d.Milliseconds())
	if ms == 0 {
		ms = 1
	}

	return func(_, _ string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, ms)
		})
		if err != nil {
			return err
		}
		return serr
	}
}
