// Package socks5 implements the client side of SOCKS5 connection
// establishment (RFC 1928) for the CONNECT command.
//
// A [Client] holds the proxy endpoint and an optional [Credential] and is
// immutable once built, so one Client can be shared by any number of
// goroutines. Each [Client.Connect] call opens its own transport to the proxy,
// negotiates an authentication method, requests a relay to the destination and
// returns the transport as a [Conn] positioned at the first byte of proxied
// application data.
//
// [Client.Handshake] runs the same exchange over a stream the caller already
// owns. It never buffers reads, so on success nothing past the proxy reply has
// been consumed.
//
// Framing primitives for requests come from github.com/txthinking/socks5.
// Replies are decoded here because the client tolerates any version and
// reserved byte and must consume exactly the bytes the proxy sent.
package socks5
