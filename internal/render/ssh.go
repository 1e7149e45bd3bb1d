package render

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/avasquez/carousel-studio/internal/config"
)

// SSHTransport implements Transport over SSH: SFTP for file copy, remote
// command execution for everything else. Each operation dials a fresh
// connection; the render host sees at most one batch at a time, so
// connection reuse buys nothing worth the bookkeeping.
type SSHTransport struct {
	cfg       config.RenderHostConfig
	addr      string
	clientCfg *ssh.ClientConfig
}

// NewSSHTransport builds a transport from the render host configuration.
// The private key is read and parsed once here.
func NewSSHTransport(cfg config.RenderHostConfig) (*SSHTransport, error) {
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read SSH key %s: %w", cfg.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse SSH key: %w", err)
	}

	return &SSHTransport{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.SSHHost, cfg.SSHPort),
		clientCfg: &ssh.ClientConfig{
			User:            cfg.SSHUser,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         cfg.CommandTimeout,
		},
	}, nil
}

// Compile-time interface check.
var _ Transport = (*SSHTransport)(nil)

func (t *SSHTransport) dial() (*ssh.Client, error) {
	client, err := ssh.Dial("tcp", t.addr, t.clientCfg)
	if err != nil {
		return nil, &TransportError{Op: "dial " + t.addr, Err: err}
	}
	return client, nil
}

// withTimeout bounds a blocking remote operation. The operation itself is
// not cancellable mid-flight; on timeout its connection is simply abandoned.
func withTimeout(ctx context.Context, limit time.Duration, op string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(limit):
		return &TimeoutError{Op: op, Limit: limit}
	}
}

// Upload writes data to an absolute path on the host via SFTP.
func (t *SSHTransport) Upload(ctx context.Context, data []byte, remotePath string) error {
	return withTimeout(ctx, t.cfg.CopyTimeout, "upload "+remotePath, func() error {
		client, err := t.dial()
		if err != nil {
			return err
		}
		defer client.Close()

		sess, err := sftp.NewClient(client)
		if err != nil {
			return &TransportError{Op: "sftp", Err: err}
		}
		defer sess.Close()

		f, err := sess.Create(remotePath)
		if err != nil {
			return &TransportError{Op: "create " + remotePath, Err: err}
		}
		defer f.Close()

		if _, err := f.Write(data); err != nil {
			return &TransportError{Op: "write " + remotePath, Err: err}
		}

		log.Debug().Str("path", remotePath).Int("bytes", len(data)).Msg("Uploaded file to render host")
		return nil
	})
}

// EnsureDir creates a directory on the host. Idempotent.
func (t *SSHTransport) EnsureDir(ctx context.Context, remotePath string) error {
	_, err := t.Run(ctx, "mkdir -p "+shellQuote(remotePath))
	return err
}

// Download reads a file from an absolute path on the host via SFTP.
func (t *SSHTransport) Download(ctx context.Context, remotePath string) ([]byte, error) {
	var data []byte
	err := withTimeout(ctx, t.cfg.CopyTimeout, "download "+remotePath, func() error {
		client, err := t.dial()
		if err != nil {
			return err
		}
		defer client.Close()

		sess, err := sftp.NewClient(client)
		if err != nil {
			return &TransportError{Op: "sftp", Err: err}
		}
		defer sess.Close()

		f, err := sess.Open(remotePath)
		if err != nil {
			return &TransportError{Op: "open " + remotePath, Err: err}
		}
		defer f.Close()

		data, err = io.ReadAll(f)
		if err != nil {
			return &TransportError{Op: "read " + remotePath, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Run executes a command on the host and returns its stdout.
func (t *SSHTransport) Run(ctx context.Context, command string) ([]byte, error) {
	var out []byte
	err := withTimeout(ctx, t.cfg.CommandTimeout, "exec", func() error {
		client, err := t.dial()
		if err != nil {
			return err
		}
		defer client.Close()

		session, err := client.NewSession()
		if err != nil {
			return &TransportError{Op: "session", Err: err}
		}
		defer session.Close()

		out, err = session.Output(command)
		if err != nil {
			return &TransportError{Op: "exec", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InvokeJSON calls the loopback-bound job API by running curl on the host.
func (t *SSHTransport) InvokeJSON(ctx context.Context, method, url string, body any) (json.RawMessage, error) {
	cmd := fmt.Sprintf("curl -s -X %s %s", method, shellQuote(url))
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		cmd += " -H 'Content-Type: application/json' -d " + shellQuote(string(payload))
	}

	out, err := t.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, &DecodeError{Op: method + " " + url, Err: err}
	}
	return raw, nil
}

// shellQuote wraps s in single quotes for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
