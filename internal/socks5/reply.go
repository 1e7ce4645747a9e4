package socks5

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"

	txsocks5 "github.com/txthinking/socks5"
)

// readReply reads a CONNECT reply:
//
//	+----+-----+-------+------+----------+----------+
//	|VER | REP |  RSV  | ATYP | BND.ADDR | BND.PORT |
//	+----+-----+-------+------+----------+----------+
//	| 1  |  1  | X'00' |  1   | Variable |    2     |
//	+----+-----+-------+------+----------+----------+
//
// BND.ADDR and BND.PORT are drained whatever REP says, since they sit in the
// same stream as the relayed data. VER and RSV are not checked.
func readReply(r io.Reader) (Addr, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Addr{}, &Error{State: StateRequestSent, Err: transportError("read reply", err)}
	}
	rep, atyp := hdr[1], hdr[3]

	bound, err := readBound(r, atyp)
	if err != nil {
		return Addr{}, &Error{State: StateReplyHeaderRead, Err: err}
	}

	if rep != txsocks5.RepSuccess {
		return Addr{}, &Error{State: StateTrailerDrained, Err: &ReplyError{Code: rep}}
	}
	return bound, nil
}

// readBound consumes BND.ADDR and BND.PORT for atyp. An unknown atyp is
// rejected before anything is read.
func readBound(r io.Reader, atyp byte) (Addr, error) {
	var n int
	switch atyp {
	case txsocks5.ATYPIPv4:
		n = net.IPv4len
	case txsocks5.ATYPIPv6:
		n = net.IPv6len
	case txsocks5.ATYPDomain:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return Addr{}, transportError("read bound address length", err)
		}
		n = int(l[0])
	default:
		return Addr{}, fmt.Errorf("%w: %d", ErrUnknownAddressType, atyp)
	}

	b := make([]byte, n+2)
	if _, err := io.ReadFull(r, b); err != nil {
		return Addr{}, transportError("read bound address", err)
	}

	bound := Addr{Port: binary.BigEndian.Uint16(b[n:])}
	switch atyp {
	case txsocks5.ATYPIPv4:
		bound.Address = Address{Kind: KindIPv4, IP: netip.AddrFrom4([4]byte(b[:n]))}
	case txsocks5.ATYPIPv6:
		bound.Address = Address{Kind: KindIPv6, IP: netip.AddrFrom16([16]byte(b[:n]))}
	default:
		bound.Address = Address{Kind: KindDomain, Domain: string(b[:n])}
	}
	return bound, nil
}
