// Package ssh holds the SSH client pieces used to reach a SOCKS5 proxy
// through a jump host: key loading (files or the SSH agent), known_hosts
// verification with trust on first use, and the client handshake over an
// existing connection.
//
// The dialer package owns the shared transport and opens one "direct-tcpip"
// channel per proxy connection, the same thing ssh -J does.
package ssh
