package socks5

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// maxDomainLen is the longest name the one byte length prefix can describe.
const maxDomainLen = 255

// AddrKind selects how an Address is encoded on the wire.
type AddrKind uint8

const (
	KindInvalid AddrKind = iota
	KindIPv4
	KindIPv6
	KindDomain
)

func (k AddrKind) String() string {
	switch k {
	case KindIPv4:
		return "ipv4"
	case KindIPv6:
		return "ipv6"
	case KindDomain:
		return "domain"
	default:
		return "invalid"
	}
}

// Address is a SOCKS5 destination or bound address. Kind says which of IP or
// Domain is set. Domain names are passed to the proxy unresolved.
type Address struct {
	Kind   AddrKind
	IP     netip.Addr
	Domain string
}

// AddrFromIP returns the Address for ip. IPv4-mapped IPv6 addresses are
// encoded as IPv4 and zones are dropped.
func AddrFromIP(ip netip.Addr) Address {
	ip = ip.Unmap()
	switch {
	case ip.Is4():
		return Address{Kind: KindIPv4, IP: ip}
	case ip.Is6():
		return Address{Kind: KindIPv6, IP: ip.WithZone("")}
	default:
		return Address{}
	}
}

// AddrFromDomain returns the Address for a domain name. Names longer than 255
// bytes fail with ErrAddressTooLong.
func AddrFromDomain(name string) (Address, error) {
	if name == "" {
		return Address{}, errors.New("empty domain name")
	}
	if len(name) > maxDomainLen {
		return Address{}, fmt.Errorf("%w: %d bytes", ErrAddressTooLong, len(name))
	}
	return Address{Kind: KindDomain, Domain: name}, nil
}

// ParseAddress returns an IP Address if host is an IP literal and a domain
// Address otherwise.
func ParseAddress(host string) (Address, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return AddrFromIP(ip), nil
	}
	return AddrFromDomain(host)
}

func (a Address) String() string {
	switch a.Kind {
	case KindIPv4, KindIPv6:
		return a.IP.String()
	case KindDomain:
		return a.Domain
	default:
		return "<invalid>"
	}
}

// wire returns the ATYP byte and DST.ADDR bytes for a. Domain names are
// returned without their length prefix.
func (a Address) wire() (byte, []byte, error) {
	switch a.Kind {
	case KindIPv4:
		if !a.IP.Is4() {
			return 0, nil, fmt.Errorf("invalid ipv4 address %q", a.IP)
		}
		b := a.IP.As4()
		return txsocks5.ATYPIPv4, b[:], nil
	case KindIPv6:
		if !a.IP.Is6() {
			return 0, nil, fmt.Errorf("invalid ipv6 address %q", a.IP)
		}
		b := a.IP.As16()
		return txsocks5.ATYPIPv6, b[:], nil
	case KindDomain:
		if a.Domain == "" {
			return 0, nil, errors.New("empty domain name")
		}
		if len(a.Domain) > maxDomainLen {
			return 0, nil, fmt.Errorf("%w: %d bytes", ErrAddressTooLong, len(a.Domain))
		}
		return txsocks5.ATYPDomain, []byte(a.Domain), nil
	default:
		return 0, nil, fmt.Errorf("invalid address kind %d", a.Kind)
	}
}

// Addr is an Address with a port. It implements net.Addr.
type Addr struct {
	Address Address
	Port    uint16
}

func (a Addr) Network() string {
	return "tcp"
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Address.String(), strconv.Itoa(int(a.Port)))
}
