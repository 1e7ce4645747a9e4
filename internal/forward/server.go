package forward

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/die-net/socks5dial/internal/dialer"
	"github.com/die-net/socks5dial/internal/socks5"
)

// Server tunnels every accepted connection to its target.
type Server struct {
	dialer dialer.Dialer
	target string
	logf   func(format string, args ...any)
}

// NewServer returns a Server dialing target with d. logf reports
// per-connection failures and may be nil.
func NewServer(d dialer.Dialer, target string, logf func(format string, args ...any)) *Server {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Server{dialer: d, target: target, logf: logf}
}

// Serve accepts on ln until ctx is done, then closes ln and waits for open
// tunnels to wind down. It returns nil after a ctx shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("forward accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, c)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, c net.Conn) {
	up, err := s.dialer.DialContext(ctx, "tcp", s.target)
	if err != nil {
		_ = c.Close()
		var he *socks5.Error
		if errors.As(err, &he) {
			s.logf("forward %s: failed at %s: %v", c.RemoteAddr(), he.State, err)
		} else {
			s.logf("forward %s: %v", c.RemoteAddr(), err)
		}
		return
	}

	if err := Relay(ctx, c, up); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		s.logf("forward %s: %v", c.RemoteAddr(), err)
	}
}
