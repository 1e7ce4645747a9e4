package forward

import (
	"context"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Relay copies between left and right until both directions reach EOF, one
// fails, or ctx is done. EOF in one direction is passed on as a half-close.
// Both conns are closed on return.
func Relay(ctx context.Context, left, right net.Conn) error {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, closeBoth)
	defer stop()

	g.Go(func() error {
		return copyHalf(left, right, closeBoth)
	})
	g.Go(func() error {
		return copyHalf(right, left, closeBoth)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}

// copyHalf copies src to dst, then half-closes dst. A dst that cannot
// half-close ends the whole relay.
func copyHalf(dst, src net.Conn, closeBoth func()) error {
	_, err := io.Copy(dst, src)
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		if cerr := cw.CloseWrite(); cerr == nil {
			return err
		}
	}
	closeBoth()
	return err
}
