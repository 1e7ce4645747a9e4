package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type directDialer struct {
	cfg Config
	d   net.Dialer
}

// NewDirectDialer returns a Dialer making plain TCP connections with cfg's
// timeout, keepalive and user timeout settings.
func NewDirectDialer(cfg Config) (Dialer, error) {
	if cfg.UserTimeout < 0 {
		return nil, errors.New("tcp user timeout must not be negative")
	}
	if cfg.UserTimeout > 0 && !UserTimeoutSupported {
		return nil, errors.New("tcp user timeout is not supported on this platform")
	}

	return &directDialer{
		cfg: cfg,
		d: net.Dialer{
			Timeout: cfg.DialTimeout,
			Control: userTimeoutControl(cfg.UserTimeout),
		},
	}, nil
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := f.d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(f.cfg.KeepAlive)
	}

	return conn, nil
}
