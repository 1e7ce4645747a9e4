package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// aLongTimeAgo is a non-zero time in the past, used to interrupt blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// ClientConfig holds configuration for establishing an SSH client connection.
type ClientConfig struct {
	// Username for SSH authentication.
	Username string
	// Password for password authentication (optional if Signers is set).
	Password string
	// Signers for public key authentication (optional if Password is set).
	Signers []ssh.Signer
	// HostKeyCallback verifies the server's host key.
	HostKeyCallback ssh.HostKeyCallback
	// HandshakeTimeout bounds the SSH handshake. Zero means no timeout.
	HandshakeTimeout time.Duration
}

// Validate reports whether the configuration can authenticate at all.
func (c *ClientConfig) Validate() error {
	if c.Username == "" {
		return errors.New("missing username")
	}
	if c.Password == "" && len(c.Signers) == 0 {
		return errors.New("missing password or key")
	}
	return nil
}

// AuthMethods returns the ssh.AuthMethod slice for this configuration.
// Public key authentication is offered first if available, followed by password.
func (c *ClientConfig) AuthMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if len(c.Signers) > 0 {
		methods = append(methods, ssh.PublicKeys(c.Signers...))
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}
	return methods
}

// NewClient runs the SSH client handshake over conn, which is typically a TCP
// connection to the jump host. addr is the name used for host key
// verification.
//
// The handshake is bounded by cfg.HandshakeTimeout and by ctx; the deadline
// is cleared again before returning. On error, conn is closed.
func NewClient(ctx context.Context, conn net.Conn, cfg ClientConfig, addr string) (*ssh.Client, error) {
	if err := cfg.Validate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh %s: %w", addr, err)
	}

	hostKeyCallback := cfg.HostKeyCallback
	if hostKeyCallback == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh %s: missing host key callback", addr)
	}

	if cfg.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(aLongTimeAgo)
	})

	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            cfg.AuthMethods(),
		HostKeyCallback: hostKeyCallback,
	})
	if !stop() {
		if err == nil {
			_ = cc.Close()
			err = context.Cause(ctx)
		} else {
			err = fmt.Errorf("%w: %w", err, context.Cause(ctx))
		}
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(cc, chans, reqs), nil
}
