package dialer

import (
	"net"
	"time"

	"github.com/die-net/socks5dial/internal/ssh"
)

// Config holds the transport settings shared by every dialer in this package.
type Config struct {
	// DialTimeout bounds DNS lookup and TCP connect for direct dials.
	DialTimeout time.Duration
	// NegotiationTimeout bounds the proxy connection plus SOCKS5 handshake,
	// and separately the SSH handshake with a jump host.
	NegotiationTimeout time.Duration
	// KeepAlive is applied to every direct TCP connection.
	KeepAlive net.KeepAliveConfig
	// UserTimeout sets TCP_USER_TIMEOUT on direct TCP connections where
	// supported. Zero leaves the system default.
	UserTimeout time.Duration

	// SSHKeyPath is a private key file, "agent", or empty for password only.
	SSHKeyPath string
	// SSHKnownHostsPath is the known_hosts file for jump hosts. Empty
	// disables host key checking.
	SSHKnownHostsPath string

	// Logf receives rare informational events such as a newly trusted host
	// key. It may be nil.
	Logf ssh.Logf
}
