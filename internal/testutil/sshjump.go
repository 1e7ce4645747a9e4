package testutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// SSHJumpHost is an in-process SSH server that only serves "direct-tcpip"
// channels, standing in for the jump host in front of a proxy.
type SSHJumpHost struct {
	Addr    string
	HostKey ssh.PublicKey

	handshakes atomic.Int32
	channels   atomic.Int32
}

// Handshakes reports how many SSH transports were established.
func (h *SSHJumpHost) Handshakes() int { return int(h.handshakes.Load()) }

// Channels reports how many direct-tcpip channels were accepted.
func (h *SSHJumpHost) Channels() int { return int(h.channels.Load()) }

// NewSigner returns a fresh ed25519 signer.
func NewSigner(t *testing.T) ssh.Signer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

// StartSSHJumpHost serves SSH on loopback until ctx is done or the test
// ends. Clients must authenticate with user/pass, or with a key in authorized
// when it is non-nil.
func StartSSHJumpHost(t *testing.T, ctx context.Context, user, pass string, authorized ssh.PublicKey) *SSHJumpHost {
	t.Helper()

	hostKey := NewSigner(t)
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, p []byte) (*ssh.Permissions, error) {
			if c.User() != user || string(p) != pass {
				return nil, errors.New("invalid credentials")
			}
			return &ssh.Permissions{}, nil
		},
	}
	if authorized != nil {
		cfg.PublicKeyCallback = func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() != user || string(key.Marshal()) != string(authorized.Marshal()) {
				return nil, errors.New("unknown key")
			}
			return &ssh.Permissions{}, nil
		}
	}
	cfg.AddHostKey(hostKey)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	h := &SSHJumpHost{Addr: ln.Addr().String(), HostKey: hostKey.PublicKey()}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.serveConn(ctx, c, cfg)
			}()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
		wg.Wait()
	})

	return h
}

func (h *SSHJumpHost) serveConn(ctx context.Context, c net.Conn, cfg *ssh.ServerConfig) {
	defer c.Close()

	sc, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		return
	}
	defer sc.Close()
	h.handshakes.Add(1)

	go ssh.DiscardRequests(reqs)
	stop := context.AfterFunc(ctx, func() {
		_ = sc.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.serveDirectTCPIP(ctx, nc)
		}()
	}
	wg.Wait()
}

func (h *SSHJumpHost) serveDirectTCPIP(ctx context.Context, nc ssh.NewChannel) {
	var payload struct {
		Host       string
		Port       uint32
		OriginHost string
		OriginPort uint32
	}
	if err := ssh.Unmarshal(nc.ExtraData(), &payload); err != nil {
		_ = nc.Reject(ssh.Prohibited, "invalid direct-tcpip payload")
		return
	}

	addr := net.JoinHostPort(payload.Host, strconv.Itoa(int(payload.Port)))
	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		_ = nc.Reject(ssh.ConnectionFailed, fmt.Sprintf("dial %s: %v", addr, err))
		return
	}
	defer dst.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = dst.Close()
	})
	defer stop()

	ch, reqs, err := nc.Accept()
	if err != nil {
		return
	}
	defer ch.Close()
	go ssh.DiscardRequests(reqs)
	h.channels.Add(1)

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(dst, ch)
		closeWrite(dst)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(ch, dst)
		_ = ch.CloseWrite()
		return err
	})
	_ = g.Wait()
}
