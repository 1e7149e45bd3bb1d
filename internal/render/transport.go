// Package render talks to the remote job-graph execution host. The host is
// reachable only over SSH: files move via SFTP and the loopback-bound job
// API is invoked by running curl on the host itself. All operations are
// blocking with fixed per-call timeouts; retry policy belongs to the
// batch orchestrator, not this layer.
package render

import (
	"context"
	"encoding/json"
)

// Transport moves bytes to and from the render host and executes commands
// on it. The SSH implementation is the only production transport; a direct
// network path to the job API would be a drop-in alternative.
type Transport interface {
	// Upload writes data to an absolute path on the host.
	Upload(ctx context.Context, data []byte, remotePath string) error

	// EnsureDir creates a directory on the host; idempotent.
	EnsureDir(ctx context.Context, remotePath string) error

	// Download reads a file from an absolute path on the host.
	Download(ctx context.Context, remotePath string) ([]byte, error)

	// Run executes a command on the host and returns its stdout.
	Run(ctx context.Context, command string) ([]byte, error)

	// InvokeJSON performs an HTTP call against the host's loopback-bound
	// job API by tunnelling it through remote command execution, and
	// returns the decoded JSON response body.
	InvokeJSON(ctx context.Context, method, url string, body any) (json.RawMessage, error)
}
