package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Logf is the signature of log.Printf.
type Logf func(format string, args ...any)

// NewHostKeyCallback returns a callback verifying jump host keys against the
// known_hosts file at path. An empty path disables host key checking.
//
// Unknown hosts are appended to the file on first contact (trust on first
// use) and reported through logf, which may be nil. A host already present
// with a different key is rejected. The file and its directory are created if
// missing.
func NewHostKeyCallback(path string, logf Logf) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // User explicitly disabled host key checking.
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("creating known_hosts file: %w", err)
	}
	_ = f.Close()

	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts: %w", err)
	}

	tofu := &trustOnFirstUse{path: path, check: check, logf: logf}
	return tofu.verify, nil
}

type trustOnFirstUse struct {
	path  string
	check ssh.HostKeyCallback
	logf  Logf

	mu    sync.Mutex
	added map[string]ssh.PublicKey
}

func (t *trustOnFirstUse) verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	err := t.check(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}
	// A non-empty Want means the host is known under a different key.
	if len(keyErr.Want) > 0 {
		return fmt.Errorf("host key mismatch for %s (possible MITM attack): %w", hostname, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// The loaded database does not see our own appends.
	host := knownhosts.Normalize(hostname)
	if prev, ok := t.added[host]; ok {
		if string(prev.Marshal()) != string(key.Marshal()) {
			return fmt.Errorf("host key mismatch for %s (possible MITM attack)", hostname)
		}
		return nil
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return fmt.Errorf("opening known_hosts for writing: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(knownhosts.Line([]string{host}, key) + "\n"); err != nil {
		return fmt.Errorf("writing to known_hosts: %w", err)
	}

	if t.added == nil {
		t.added = make(map[string]ssh.PublicKey)
	}
	t.added[host] = key
	if t.logf != nil {
		t.logf("ssh: added host key for %s to %s", hostname, t.path)
	}
	return nil
}
