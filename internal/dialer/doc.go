// Package dialer builds the connections socks5dial needs: a direct TCP dialer
// with keepalive tuning, an SSH jump dialer that tunnels to a proxy behind a
// bastion, and SOCKS5Dialer, which opens CONNECT tunnels through a proxy
// given as a socks5:// URL.
//
// Every dialer implements the same DialContext signature as net.Dialer, so
// they stack: a SOCKS5Dialer reaches its proxy through whichever transport
// NewForward returns.
package dialer
