package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	internalssh "github.com/die-net/socks5dial/internal/ssh"
)

// SSHDialer reaches addresses through an SSH jump host, opening one
// "direct-tcpip" channel per DialContext call over a single shared
// transport.
//
// Lifecycle notes:
//   - The SSH transport is created lazily on the first DialContext call.
//   - As with net.Dialer, the context only bounds opening the channel. Once
//     DialContext returns, canceling it has no effect on the channel or the
//     shared transport.
//   - If opening a channel fails for a reason other than the jump host
//     refusing it, the transport is discarded, reconnected once, and the
//     channel dial retried.
type SSHDialer struct {
	sshAddr   string
	sshConfig internalssh.ClientConfig
	direct    Dialer

	mu     sync.Mutex
	client *ssh.Client
	sf     singleflight.Group
}

// NewSSHDialer returns a dialer tunneling through the SSH server at sshAddr.
//
// Password and key authentication may both be configured, in which case both
// are offered. cfg.SSHKeyPath and cfg.SSHKnownHostsPath select the key source
// and host key database.
func NewSSHDialer(ctx context.Context, cfg Config, sshAddr, username, password string) (*SSHDialer, error) {
	if sshAddr == "" {
		return nil, errors.New("ssh dialer: missing ssh address")
	}

	signers, err := internalssh.LoadSigners(ctx, cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	sshConfig := internalssh.ClientConfig{
		Username:         username,
		Password:         password,
		Signers:          signers,
		HandshakeTimeout: cfg.NegotiationTimeout,
	}
	if err := sshConfig.Validate(); err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	sshConfig.HostKeyCallback, err = internalssh.NewHostKeyCallback(cfg.SSHKnownHostsPath, cfg.Logf)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}

	return &SSHDialer{
		sshAddr:   sshAddr,
		sshConfig: sshConfig,
		direct:    direct,
	}, nil
}

// DialContext opens a channel from the jump host to address.
func (f *SSHDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh dial %s %s: unsupported network", network, address)
	}

	client, err := f.getClient(ctx)
	if err != nil {
		return nil, err
	}

	upConn, err := client.DialContext(ctx, "tcp", address)
	if err != nil {
		// The jump host answered, so the transport is fine.
		var openErr *ssh.OpenChannelError
		if errors.As(err, &openErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("ssh dial %s via %s: %w", address, f.sshAddr, err)
		}

		f.invalidateClient(client)
		client, err2 := f.getClient(ctx)
		if err2 != nil {
			return nil, fmt.Errorf("ssh dial %s via %s: %w", address, f.sshAddr, err)
		}
		upConn, err = client.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("ssh dial %s via %s: %w", address, f.sshAddr, err)
		}
	}

	return &sshChannelConn{Conn: upConn}, nil
}

// Close closes the shared transport, if any. Open channels die with it.
func (f *SSHDialer) Close() error {
	f.mu.Lock()
	client := f.client
	f.client = nil
	f.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// getClient returns the shared SSH client, creating it if needed.
//
// Concurrent callers share one connection attempt. A caller whose context
// ends stops waiting, but the attempt continues for the others.
func (f *SSHDialer) getClient(ctx context.Context) (*ssh.Client, error) {
	f.mu.Lock()
	client := f.client
	f.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := f.sf.DoChan("connect", func() (any, error) {
		f.mu.Lock()
		if f.client != nil {
			c := f.client
			f.mu.Unlock()
			return c, nil
		}
		f.mu.Unlock()

		newClient, err := f.dialSSH(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.client = newClient
		f.mu.Unlock()
		return newClient, nil
	})

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

func (f *SSHDialer) dialSSH(ctx context.Context) (*ssh.Client, error) {
	conn, err := f.direct.DialContext(ctx, "tcp", f.sshAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport: %w", err)
	}

	return internalssh.NewClient(ctx, conn, f.sshConfig, f.sshAddr)
}

// invalidateClient drops client if it is still the shared one.
func (f *SSHDialer) invalidateClient(client *ssh.Client) {
	f.mu.Lock()
	if f.client == client {
		f.client = nil
	}
	f.mu.Unlock()
	_ = client.Close()
}

// sshChannelConn is a single "direct-tcpip" channel.
type sshChannelConn struct {
	net.Conn
}

// CloseWrite sends EOF on the channel, leaving the read side open.
func (c *sshChannelConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}
