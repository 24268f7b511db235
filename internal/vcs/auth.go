package vcs

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	gogithttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gogitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// TokenAuth builds HTTP basic auth from a bearer token. Returns nil auth
// for an empty token (valid for public repositories).
func TokenAuth(token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	return &gogithttp.BasicAuth{
		Username: "x-access-token",
		Password: token,
	}
}

// SSHAuth builds public-key auth from a PEM-encoded private key. When
// knownHostsPath is empty, host keys are not verified.
func SSHAuth(pemBytes []byte, knownHostsPath string) (transport.AuthMethod, error) {
	publicKey, err := gogitssh.NewPublicKeys("git", pemBytes, "")
	if err != nil {
		return nil, fmt.Errorf("parsing SSH private key: %w", err)
	}

	if knownHostsPath != "" {
		callback, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("parsing known_hosts %s: %w", knownHostsPath, err)
		}
		publicKey.HostKeyCallback = callback
	} else {
		publicKey.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return publicKey, nil
}

// FileAuth resolves auth from mounted credential files: an SSH key takes
// priority over a token. Returns nil when neither is configured.
func FileAuth(sshKeyFile, tokenFile, knownHostsFile string) (transport.AuthMethod, error) {
	if sshKeyFile != "" {
		pemBytes, err := os.ReadFile(sshKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading SSH key %s: %w", sshKeyFile, err)
		}
		return SSHAuth(pemBytes, knownHostsFile)
	}

	if tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading token file %s: %w", tokenFile, err)
		}
		return TokenAuth(strings.TrimSpace(string(data))), nil
	}

	return nil, nil
}
