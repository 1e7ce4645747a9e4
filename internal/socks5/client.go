package socks5

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	txsocks5 "github.com/txthinking/socks5"
)

// aLongTimeAgo is a non-zero time in the past, used to interrupt blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Credential is a username/password pair for RFC 1929 authentication.
type Credential struct {
	Username string
	Password string
}

// NewCredential validates that both fields are 1 to 255 bytes, the limits of
// the RFC 1929 length prefixes.
func NewCredential(username, password string) (*Credential, error) {
	if err := validCredentialField("username", username); err != nil {
		return nil, err
	}
	if err := validCredentialField("password", password); err != nil {
		return nil, err
	}
	return &Credential{Username: username, Password: password}, nil
}

func validCredentialField(name, v string) error {
	if len(v) == 0 || len(v) > 255 {
		return fmt.Errorf("%s must be 1-255 bytes, got %d", name, len(v))
	}
	return nil
}

// ContextDialer opens the transport to the proxy. *net.Dialer implements it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client is a SOCKS5 proxy configuration. It is immutable and safe for
// concurrent use.
type Client struct {
	proxy    netip.AddrPort
	cred     *Credential
	greeting []byte
	forward  ContextDialer
}

// NewClient returns a Client for the proxy at addr:port. A nil cred offers
// only "no authentication"; otherwise username/password is offered too.
func NewClient(addr netip.Addr, port uint16, cred *Credential) *Client {
	methods := []byte{txsocks5.MethodNone}
	if cred != nil {
		c := *cred
		cred = &c
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	var greeting bytes.Buffer
	_, _ = txsocks5.NewNegotiationRequest(methods).WriteTo(&greeting)

	return &Client{
		proxy:    netip.AddrPortFrom(addr.Unmap(), port),
		cred:     cred,
		greeting: greeting.Bytes(),
		forward:  &net.Dialer{},
	}
}

// WithForward returns a copy of c that opens proxy transports with d.
func (c *Client) WithForward(d ContextDialer) *Client {
	cc := *c
	cc.forward = d
	return &cc
}

// ProxyAddr returns the proxy endpoint.
func (c *Client) ProxyAddr() netip.AddrPort {
	return c.proxy
}

// Greeting returns a copy of the method negotiation message sent first on
// every connection.
func (c *Client) Greeting() []byte {
	return bytes.Clone(c.greeting)
}

// Connect opens a transport to the proxy and asks it to relay to dst:port.
//
// A ctx deadline is applied to the transport for the duration of the
// handshake, and canceling ctx interrupts a blocked read or write. A
// transport that does not support deadlines is closed instead. ctx does not
// affect the returned Conn. On failure the transport is closed and the error
// is an *Error.
func (c *Client) Connect(ctx context.Context, dst Address, port uint16) (*Conn, error) {
	if _, _, err := dst.wire(); err != nil {
		return nil, &Error{State: StateInit, Err: err}
	}

	conn, err := c.forward.DialContext(ctx, "tcp", c.proxy.String())
	if err != nil {
		return nil, &Error{State: StateInit, Err: transportError("dial "+c.proxy.String(), err)}
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		if err := conn.SetDeadline(aLongTimeAgo); err != nil {
			_ = conn.Close()
		}
	})

	bound, err := c.Handshake(conn, dst, port)
	if !stop() && err == nil {
		err = &Error{State: StateEstablished, Err: transportError("handshake interrupted", context.Cause(ctx))}
	}
	if err != nil {
		_ = conn.Close()
		var he *Error
		if ctx.Err() != nil && errors.As(err, &he) && !errors.Is(err, ctx.Err()) {
			he.Err = fmt.Errorf("%w: %w", he.Err, context.Cause(ctx))
		}
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})
	return &Conn{Conn: conn, bound: bound}, nil
}

// Conn is an established tunnel through the proxy.
type Conn struct {
	net.Conn
	bound Addr
}

// BoundAddr returns the address and port the proxy reported for its side
// of the relay.
func (c *Conn) BoundAddr() net.Addr {
	return c.bound
}

// CloseWrite half-closes the underlying transport if it supports it.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}
