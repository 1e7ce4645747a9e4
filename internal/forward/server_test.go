package forward

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/die-net/socks5dial/internal/dialer"
	"github.com/die-net/socks5dial/internal/testutil"
)

func TestServerForwardsThroughProxy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_ = testutil.ServeSOCKS5(ctx, c, "", "")
	})

	d, err := dialer.New(dialer.Config{NegotiationTimeout: time.Second}, "socks5://"+upLn.Addr().String(), nil)
	if err != nil {
		t.Fatal(err)
	}

	ln, err := ListenTCP(ctx, "tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: true})
	if err != nil {
		t.Fatal(err)
	}

	srvCtx, srvCancel := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() {
		served <- NewServer(d, echoLn.Addr().String(), nil).Serve(srvCtx, ln)
	}()

	nd := net.Dialer{}
	c, err := nd.DialContext(ctx, "tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("forwarded"))

	if err := c.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(c); err != nil {
		t.Fatal(err)
	}
	waitUp()

	srvCancel()
	if err := <-served; err != nil {
		t.Fatal(err)
	}
}

func TestServerForwardsThroughSSHJump(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_ = testutil.ServeSOCKS5(ctx, c, "", "")
	})

	host := testutil.StartSSHJumpHost(t, ctx, "user", "pass", nil)

	cfg := dialer.Config{DialTimeout: 2 * time.Second, NegotiationTimeout: time.Second}
	via, err := dialer.NewForward(ctx, cfg, "ssh://user:pass@"+host.Addr)
	if err != nil {
		t.Fatal(err)
	}
	defer via.(*dialer.SSHDialer).Close()

	d, err := dialer.New(cfg, "socks5://"+upLn.Addr().String(), via)
	if err != nil {
		t.Fatal(err)
	}

	ln, err := ListenTCP(ctx, "tcp", "127.0.0.1:0", net.KeepAliveConfig{})
	if err != nil {
		t.Fatal(err)
	}

	srvCtx, srvCancel := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() {
		served <- NewServer(d, echoLn.Addr().String(), nil).Serve(srvCtx, ln)
	}()

	nd := net.Dialer{}
	c, err := nd.DialContext(ctx, "tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("first"))
	time.Sleep(50 * time.Millisecond)
	testutil.AssertEcho(t, c, c, []byte("second"))

	if err := c.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(c); err != nil {
		t.Fatal(err)
	}
	waitUp()

	srvCancel()
	if err := <-served; err != nil {
		t.Fatal(err)
	}
}

func TestServerLogsDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var mu sync.Mutex
	var logged []string
	logf := func(format string, _ ...any) {
		mu.Lock()
		logged = append(logged, format)
		mu.Unlock()
	}

	failing := dialerFunc(func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("proxy down")
	})

	ln, err := ListenTCP(ctx, "tcp", "127.0.0.1:0", net.KeepAliveConfig{})
	if err != nil {
		t.Fatal(err)
	}

	srvCtx, srvCancel := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() {
		served <- NewServer(failing, "192.0.2.1:80", logf).Serve(srvCtx, ln)
	}()

	nd := net.Dialer{}
	c, err := nd.DialContext(ctx, "tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// The server hangs up once the upstream dial fails.
	if _, err := c.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("got %v want EOF", err)
	}

	srvCancel()
	if err := <-served; err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(logged) != 1 || !strings.HasPrefix(logged[0], "forward ") {
		t.Fatalf("unexpected log lines %q", logged)
	}
}

type dialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f dialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}
