package socks5

import (
	"errors"
	"fmt"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	// ErrTransportUnavailable wraps any failure to open or use the
	// connection to the proxy. The underlying cause is wrapped alongside it.
	ErrTransportUnavailable = errors.New("proxy transport unavailable")

	// ErrUnsupportedAuthMethod means the proxy selected a method this client
	// cannot perform, including "no acceptable methods".
	ErrUnsupportedAuthMethod = errors.New("unsupported authentication method")

	// ErrAuthFailed means the proxy rejected the username/password.
	ErrAuthFailed = errors.New("username/password authentication failed")

	// ErrAddressTooLong means a domain name does not fit the one byte length
	// prefix. It is always reported before any bytes are written.
	ErrAddressTooLong = errors.New("domain name longer than 255 bytes")

	ErrProxyGeneralFailure            = errors.New("general SOCKS server failure")
	ErrNotAllowedByRuleset            = errors.New("connection not allowed by ruleset")
	ErrNetworkUnreachable             = errors.New("network unreachable")
	ErrHostUnreachable                = errors.New("host unreachable")
	ErrConnectionRefusedByDestination = errors.New("connection refused by destination host")
	ErrTTLExpired                     = errors.New("TTL expired")
	ErrCommandNotSupported            = errors.New("command not supported")
	ErrAddressTypeNotSupported        = errors.New("address type not supported")
	ErrUnknownProxyStatus             = errors.New("unknown proxy status")

	// ErrUnknownAddressType means the reply carried an ATYP this client cannot
	// size. The reply framing is lost and the connection must be closed.
	ErrUnknownAddressType = errors.New("unknown address type")
)

// Error is returned by a failed handshake. State is the last state the
// session reached before failing.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("socks5 %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReplyError is a non-success REP code from the proxy's CONNECT reply.
// It unwraps to the matching sentinel, e.g. ErrHostUnreachable.
type ReplyError struct {
	Code byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%v (reply code %d)", e.Unwrap(), e.Code)
}

func (e *ReplyError) Unwrap() error {
	switch e.Code {
	case txsocks5.RepServerFailure:
		return ErrProxyGeneralFailure
	case txsocks5.RepNotAllowed:
		return ErrNotAllowedByRuleset
	case txsocks5.RepNetworkUnreachable:
		return ErrNetworkUnreachable
	case txsocks5.RepHostUnreachable:
		return ErrHostUnreachable
	case txsocks5.RepConnectionRefused:
		return ErrConnectionRefusedByDestination
	case txsocks5.RepTTLExpired:
		return ErrTTLExpired
	case txsocks5.RepCommandNotSupported:
		return ErrCommandNotSupported
	case txsocks5.RepAddressNotSupported:
		return ErrAddressTypeNotSupported
	default:
		return ErrUnknownProxyStatus
	}
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransportUnavailable, op, err)
}
