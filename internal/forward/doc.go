// Package forward serves a local TCP listener whose connections are each
// tunneled to one fixed destination, like ssh -L but through a SOCKS5 proxy.
package forward
