//go:build !linux

package dialer

import (
	"syscall"
	"time"
)

// UserTimeoutSupported reports whether Config.UserTimeout can be honored.
const UserTimeoutSupported = false

func userTimeoutControl(time.Duration) func(network, address string, c syscall.RawConn) error {
	return nil
}
