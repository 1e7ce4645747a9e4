package testutil

import (
	"context"
	"errors"
	"io"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"
)

// ServeSOCKS5 plays a SOCKS5 proxy on c for a single CONNECT request. If user
// is non-empty, username/password authentication is required. The requested
// destination is dialed directly and relayed until either side closes.
func ServeSOCKS5(ctx context.Context, c net.Conn, user, pass string) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(c)
	if err != nil {
		return err
	}

	if user == "" {
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(c); err != nil {
			return err
		}
	} else {
		if !slices.Contains(neg.Methods, txsocks5.MethodUsernamePassword) {
			_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(c)
			return errors.New("client did not offer username/password")
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(c); err != nil {
			return err
		}

		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(c)
		if err != nil {
			return err
		}
		if string(urq.Uname) != user || string(urq.Passwd) != pass {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(c)
			return nil
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(c); err != nil {
			return err
		}
	}

	req, err := txsocks5.NewRequestFrom(c)
	if err != nil {
		return err
	}
	if req.Cmd != txsocks5.CmdConnect {
		return WriteSOCKS5Reply(c, txsocks5.RepCommandNotSupported)
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		return WriteSOCKS5Reply(c, txsocks5.RepHostUnreachable)
	}
	defer dst.Close()

	a, addr, port, err := txsocks5.ParseAddress(dst.LocalAddr().String())
	if err != nil {
		return err
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, a, addr, port).WriteTo(c); err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(dst, c)
		closeWrite(dst)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(c, dst)
		closeWrite(c)
		return err
	})
	return g.Wait()
}

// WriteSOCKS5Reply writes a reply with code rep and a zero IPv4 bound address.
func WriteSOCKS5Reply(c net.Conn, rep byte) error {
	_, err := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
	return err
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}
