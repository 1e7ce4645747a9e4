package socks5

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/socks5dial/internal/testutil"
)

type dialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f dialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

func TestNewClientGreeting(t *testing.T) {
	tests := []struct {
		name string
		cred *Credential
		want []byte
	}{
		{name: "no_credential", want: []byte{5, 1, 0}},
		{name: "credential", cred: &Credential{Username: "u", Password: "p"}, want: []byte{5, 2, 0, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(netip.MustParseAddr("192.0.2.1"), 1080, tt.cred)
			if got := c.Greeting(); !bytes.Equal(got, tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
			if got, want := c.ProxyAddr().String(), "192.0.2.1:1080"; got != want {
				t.Fatalf("got %s want %s", got, want)
			}
		})
	}
}

func TestNewCredential(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		pass     string
		wantErr  bool
		contains string
	}{
		{name: "valid", user: "user", pass: "pass"},
		{name: "max_length", user: strings.Repeat("u", 255), pass: strings.Repeat("p", 255)},
		{name: "empty_username", pass: "pass", wantErr: true, contains: "username"},
		{name: "empty_password", user: "user", wantErr: true, contains: "password"},
		{name: "long_username", user: strings.Repeat("u", 256), pass: "pass", wantErr: true, contains: "username"},
		{name: "long_password", user: "user", pass: strings.Repeat("p", 256), wantErr: true, contains: "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCredential(tt.user, tt.pass)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), tt.contains) {
				t.Fatalf("expected error containing %q, got: %v", tt.contains, err)
			}
		})
	}
}

func TestNewClientCopiesCredential(t *testing.T) {
	cred := &Credential{Username: "user", Password: "pass"}
	c := NewClient(netip.MustParseAddr("127.0.0.1"), 1080, cred)
	cred.Password = "changed"

	conn := newScriptedConn([]byte{5, 2}, []byte{1, 0}, successReply)
	if _, err := c.Handshake(conn, mustIPv4(t, "10.0.0.1"), 80); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(conn.written.Bytes(), []byte("pass")) {
		t.Fatalf("wrote %q, want original password", conn.written.Bytes())
	}
}

func TestConnectThroughProxy(t *testing.T) {
	tests := []struct {
		name string
		user string
		pass string
	}{
		{name: "no_auth"},
		{name: "user_pass", user: "user", pass: "pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()

			upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
				_ = testutil.ServeSOCKS5(ctx, c, tt.user, tt.pass)
			})

			var cred *Credential
			if tt.user != "" {
				cred = &Credential{Username: tt.user, Password: tt.pass}
			}
			proxy := netip.MustParseAddrPort(upLn.Addr().String())
			c := NewClient(proxy.Addr(), proxy.Port(), cred)

			echo := netip.MustParseAddrPort(echoLn.Addr().String())
			conn, err := c.Connect(ctx, AddrFromIP(echo.Addr()), echo.Port())
			if err != nil {
				t.Fatal(err)
			}

			testutil.AssertEcho(t, conn, conn, []byte("hello"))

			bound, ok := conn.BoundAddr().(Addr)
			if !ok || bound.Address.Kind != KindIPv4 || bound.Port == 0 {
				t.Fatalf("unexpected bound address %v", conn.BoundAddr())
			}

			_ = conn.Close()
			waitUp()
		})
	}
}

func TestConnectRejectedClosesTransport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	closed := make(chan error, 1)
	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
			closed <- err
			return
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(c); err != nil {
			closed <- err
			return
		}
		if _, err := txsocks5.NewRequestFrom(c); err != nil {
			closed <- err
			return
		}
		if err := testutil.WriteSOCKS5Reply(c, txsocks5.RepConnectionRefused); err != nil {
			closed <- err
			return
		}
		_, err := c.Read(make([]byte, 1))
		closed <- err
	})

	proxy := netip.MustParseAddrPort(upLn.Addr().String())
	c := NewClient(proxy.Addr(), proxy.Port(), nil)

	_, err := c.Connect(ctx, mustIPv4(t, "127.0.0.1"), 1)
	if !errors.Is(err, ErrConnectionRefusedByDestination) {
		t.Fatalf("got %v want %v", err, ErrConnectionRefusedByDestination)
	}

	if err := <-closed; !errors.Is(err, io.EOF) {
		t.Fatalf("proxy read %v, want EOF after client closed", err)
	}
	waitUp()
}

func TestConnectAddressTooLongDoesNotDial(t *testing.T) {
	dials := 0
	c := NewClient(netip.MustParseAddr("127.0.0.1"), 1080, nil).WithForward(dialerFunc(func(context.Context, string, string) (net.Conn, error) {
		dials++
		return nil, errors.New("unexpected dial")
	}))

	dst := Address{Kind: KindDomain, Domain: strings.Repeat("x", 256)}
	_, err := c.Connect(context.Background(), dst, 80)
	if !errors.Is(err, ErrAddressTooLong) {
		t.Fatalf("got %v want %v", err, ErrAddressTooLong)
	}
	if dials != 0 {
		t.Fatalf("dialed %d times, want 0", dials)
	}
}

func TestConnectDialFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	var gotAddr string
	c := NewClient(netip.MustParseAddr("192.0.2.9"), 9050, nil).WithForward(dialerFunc(func(_ context.Context, _ string, address string) (net.Conn, error) {
		gotAddr = address
		return nil, dialErr
	}))

	_, err := c.Connect(context.Background(), mustIPv4(t, "10.0.0.1"), 80)
	if !errors.Is(err, ErrTransportUnavailable) || !errors.Is(err, dialErr) {
		t.Fatalf("got %v, want %v wrapping %v", err, ErrTransportUnavailable, dialErr)
	}
	var he *Error
	if !errors.As(err, &he) || he.State != StateInit {
		t.Fatalf("got %v, want state %s", err, StateInit)
	}
	if gotAddr != "192.0.2.9:9050" {
		t.Fatalf("dialed %s want 192.0.2.9:9050", gotAddr)
	}
}

func TestConnectContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accepted := make(chan struct{})
	upLn, waitUp := testutil.StartSingleAcceptServer(t, context.Background(), func(c net.Conn) {
		close(accepted)
		// Swallow the greeting and never answer.
		_, _ = io.Copy(io.Discard, c)
	})

	go func() {
		<-accepted
		cancel()
	}()

	proxy := netip.MustParseAddrPort(upLn.Addr().String())
	c := NewClient(proxy.Addr(), proxy.Port(), nil)

	_, err := c.Connect(ctx, mustIPv4(t, "10.0.0.1"), 80)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want %v", err, context.Canceled)
	}
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("got %v want %v", err, ErrTransportUnavailable)
	}
	waitUp()
}

func TestConnectDeadlineCleared(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_ = testutil.ServeSOCKS5(ctx, c, "", "")
	})

	proxy := netip.MustParseAddrPort(upLn.Addr().String())
	c := NewClient(proxy.Addr(), proxy.Port(), nil)

	dialCtx, dialCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	echo := netip.MustParseAddrPort(echoLn.Addr().String())
	conn, err := c.Connect(dialCtx, AddrFromIP(echo.Addr()), echo.Port())
	dialCancel()
	if err != nil {
		t.Fatal(err)
	}

	// Neither the expired dial deadline nor the canceled context may affect
	// the established tunnel.
	time.Sleep(150 * time.Millisecond)
	testutil.AssertEcho(t, conn, conn, []byte("still open"))

	_ = conn.Close()
	waitUp()
}

// noDeadlineConn behaves like an SSH channel, which rejects deadlines.
type noDeadlineConn struct {
	net.Conn
}

func (noDeadlineConn) SetDeadline(time.Time) error { return errors.New("deadline not supported") }

func TestConnectContextInterruptsWithoutDeadlines(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		// Take the greeting and stall.
		_, _ = io.ReadFull(server, make([]byte, 3))
	}()

	c := NewClient(netip.MustParseAddr("127.0.0.1"), 1080, nil).WithForward(dialerFunc(func(context.Context, string, string) (net.Conn, error) {
		return noDeadlineConn{Conn: client}, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.Connect(ctx, mustIPv4(t, "10.0.0.1"), 80)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("got %v want %v", err, context.DeadlineExceeded)
		}
		if !errors.Is(err, ErrTransportUnavailable) {
			t.Fatalf("got %v want %v", err, ErrTransportUnavailable)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect still blocked after the context expired")
	}
}
