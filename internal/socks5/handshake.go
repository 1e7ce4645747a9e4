package socks5

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// State is a step of the client handshake. A failed handshake reports the
// last state it reached in Error.State.
type State uint8

const (
	StateInit State = iota
	StateTransportOpen
	StateAuthNegotiated
	StateRequestSent
	StateReplyHeaderRead
	StateTrailerDrained
	StateEstablished
)

var stateNames = [...]string{
	StateInit:            "init",
	StateTransportOpen:   "transport open",
	StateAuthNegotiated:  "auth negotiated",
	StateRequestSent:     "request sent",
	StateReplyHeaderRead: "reply header read",
	StateTrailerDrained:  "trailer drained",
	StateEstablished:     "established",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// methodNoAcceptable is the RFC 1928 "no acceptable methods" selection.
const methodNoAcceptable = 0xff

// Handshake negotiates authentication on rw and requests a CONNECT relay to
// dst:port, returning the proxy's bound address.
//
// rw must already be connected to the proxy and stays owned by the caller,
// including on failure. Reads are exact, so on success the next byte read
// from rw is the first byte of application data. Failures are *Error values.
func (c *Client) Handshake(rw io.ReadWriter, dst Address, port uint16) (Addr, error) {
	atyp, dstAddr, err := dst.wire()
	if err != nil {
		return Addr{}, &Error{State: StateInit, Err: err}
	}

	if err := c.negotiate(rw); err != nil {
		return Addr{}, &Error{State: StateTransportOpen, Err: err}
	}

	var dstPort [2]byte
	binary.BigEndian.PutUint16(dstPort[:], port)
	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort[:]).WriteTo(rw); err != nil {
		return Addr{}, &Error{State: StateAuthNegotiated, Err: transportError("write request", err)}
	}

	return readReply(rw)
}

func (c *Client) negotiate(rw io.ReadWriter) error {
	if _, err := rw.Write(c.greeting); err != nil {
		return transportError("write greeting", err)
	}

	// VER METHOD; the version byte is not checked.
	var rep [2]byte
	if _, err := io.ReadFull(rw, rep[:]); err != nil {
		return transportError("read method selection", err)
	}

	switch method := rep[1]; method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		return c.authenticate(rw)
	case methodNoAcceptable:
		return fmt.Errorf("%w: proxy accepted none of the offered methods", ErrUnsupportedAuthMethod)
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedAuthMethod, method)
	}
}

// authenticate runs the RFC 1929 username/password sub-negotiation.
func (c *Client) authenticate(rw io.ReadWriter) error {
	if c.cred == nil {
		return fmt.Errorf("%w: proxy requires username/password but no credential is configured", ErrUnsupportedAuthMethod)
	}
	if validCredentialField("username", c.cred.Username) != nil || validCredentialField("password", c.cred.Password) != nil {
		return fmt.Errorf("%w: credential fields must be 1-255 bytes", ErrAuthFailed)
	}

	req := txsocks5.NewUserPassNegotiationRequest([]byte(c.cred.Username), []byte(c.cred.Password))
	if _, err := req.WriteTo(rw); err != nil {
		return transportError("write username/password", err)
	}

	// VER STATUS; any non-zero status is a failure.
	var rep [2]byte
	if _, err := io.ReadFull(rw, rep[:]); err != nil {
		return transportError("read username/password status", err)
	}
	if rep[1] != txsocks5.UserPassStatusSuccess {
		return fmt.Errorf("%w: status %d", ErrAuthFailed, rep[1])
	}
	return nil
}
