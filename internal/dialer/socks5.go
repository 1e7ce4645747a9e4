package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/die-net/socks5dial/internal/socks5"
)

// SOCKS5Dialer opens CONNECT tunnels through a SOCKS5 proxy. It is safe for
// concurrent use.
type SOCKS5Dialer struct {
	cfg     Config
	host    string
	port    uint16
	cred    *socks5.Credential
	forward Dialer

	// client is set when host is an IP literal.
	client *socks5.Client
	lookup func(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// NewSOCKS5Dialer returns a dialer for the proxy at proxyAddr ("host:port"),
// reached through forward, or a plain net.Dialer if forward is nil. A
// non-empty username enables username/password
// authentication.
//
// A proxy given by name is resolved locally on every dial, including when
// forward is an SSH jump, so the name must resolve on this host. Each
// resolved address is tried in turn until a transport to the proxy opens.
func NewSOCKS5Dialer(cfg Config, proxyAddr, username, password string, forward Dialer) (*SOCKS5Dialer, error) {
	host, portStr, err := net.SplitHostPort(proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy address: %w", err)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy address: %w", err)
	}

	var cred *socks5.Credential
	if username != "" || password != "" {
		if cred, err = socks5.NewCredential(username, password); err != nil {
			return nil, fmt.Errorf("socks5 proxy credential: %w", err)
		}
	}

	d := &SOCKS5Dialer{
		cfg:     cfg,
		host:    host,
		port:    port,
		cred:    cred,
		forward: forward,
		lookup:  net.DefaultResolver.LookupNetIP,
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		d.client = d.newClient(ip)
	}
	return d, nil
}

// ProxyAddr returns the proxy's host:port as configured.
func (d *SOCKS5Dialer) ProxyAddr() string {
	return net.JoinHostPort(d.host, strconv.Itoa(int(d.port)))
}

// DialContext asks the proxy to connect to address, which may name the host
// by IP or by domain name. The returned conn is a *socks5.Conn.
func (d *SOCKS5Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 dial %s %s: unsupported network", network, address)
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("socks5 dial %s: %w", address, err)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return nil, fmt.Errorf("socks5 dial %s: %w", address, err)
	}
	dst, err := socks5.ParseAddress(host)
	if err != nil {
		return nil, fmt.Errorf("socks5 dial %s: %w", address, err)
	}

	if d.cfg.NegotiationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.NegotiationTimeout)
		defer cancel()
	}

	clients, err := d.proxyClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("socks5 dial %s: %w", address, err)
	}

	var firstErr error
	for _, client := range clients {
		conn, err := client.Connect(ctx, dst, port)
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		// Only a transport that never opened moves on to the next address.
		if !transportNotOpened(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("socks5 dial %s via %s: %w", address, d.ProxyAddr(), firstErr)
}

func (d *SOCKS5Dialer) proxyClients(ctx context.Context) ([]*socks5.Client, error) {
	if d.client != nil {
		return []*socks5.Client{d.client}, nil
	}

	ips, err := d.lookup(ctx, "ip", d.host)
	if err != nil {
		return nil, fmt.Errorf("resolve socks5 proxy %s: %w", d.host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve socks5 proxy %s: no addresses", d.host)
	}
	clients := make([]*socks5.Client, 0, len(ips))
	for _, ip := range ips {
		clients = append(clients, d.newClient(ip))
	}
	return clients, nil
}

func transportNotOpened(err error) bool {
	var se *socks5.Error
	return errors.As(err, &se) && se.State == socks5.StateInit && errors.Is(err, socks5.ErrTransportUnavailable)
}

func (d *SOCKS5Dialer) newClient(ip netip.Addr) *socks5.Client {
	c := socks5.NewClient(ip, d.port, d.cred)
	if d.forward != nil {
		c = c.WithForward(d.forward)
	}
	return c
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}
