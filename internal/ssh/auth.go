package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AgentAuthType is the special value for --ssh-key to use the SSH agent.
const AgentAuthType = "agent"

// AgentAvailable returns true if the SSH agent socket is available.
func AgentAvailable() bool {
	return os.Getenv("SSH_AUTH_SOCK") != ""
}

// AgentSigners connects to the SSH agent and returns all available signers.
//
// The agent connection backs the returned signers, so it stays open for the
// life of the process.
func AgentSigners(ctx context.Context) ([]ssh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connecting to SSH agent: %w", err)
	}

	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("listing SSH agent keys: %w", err)
	}
	if len(signers) == 0 {
		_ = conn.Close()
		return nil, errors.New("no keys available in SSH agent")
	}

	return signers, nil
}

// LoadPrivateKey reads and parses an unencrypted OpenSSH or PEM private key.
func LoadPrivateKey(path string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("key file %s is encrypted; load it into ssh-agent and use --ssh-key=agent", path)
		}
		return nil, fmt.Errorf("parsing key file: %w", err)
	}

	return signer, nil
}

// LoadSigners loads SSH signers based on the keyPath value:
//   - "agent": all keys held by the SSH agent
//   - "": none, password authentication only
//   - otherwise: the private key file at keyPath
func LoadSigners(ctx context.Context, keyPath string) ([]ssh.Signer, error) {
	switch keyPath {
	case "":
		return nil, nil
	case AgentAuthType:
		return AgentSigners(ctx)
	default:
		signer, err := LoadPrivateKey(keyPath)
		if err != nil {
			return nil, err
		}
		return []ssh.Signer{signer}, nil
	}
}
