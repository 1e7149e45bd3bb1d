package render

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for programmatic error checking via errors.Is().
var (
	// ErrConfig indicates a template configuration problem, e.g. a
	// parameter slot missing from the job graph template. Fatal for the
	// whole batch, never a per-item failure.
	ErrConfig = errors.New("config error")

	// ErrTransport indicates a remote shell or HTTP connectivity failure.
	ErrTransport = errors.New("transport error")

	// ErrTimeout indicates a single remote call exceeded its fixed bound.
	ErrTimeout = errors.New("timeout")

	// ErrDecode indicates an unexpected response shape from the render host.
	ErrDecode = errors.New("decode error")
)

// ConfigError reports a parameter slot that does not exist in the template.
type ConfigError struct {
	Slot string // node key of the missing slot
	Msg  string
}

func (e *ConfigError) Error() string {
	if e.Slot != "" {
		return fmt.Sprintf("%s: slot %q: %s", ErrConfig.Error(), e.Slot, e.Msg)
	}
	return fmt.Sprintf("%s: %s", ErrConfig.Error(), e.Msg)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// TransportError reports a failed remote operation.
type TransportError struct {
	Op  string // "upload", "mkdir", "exec", "download", "http"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransport.Error(), e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return ErrTransport }

// TimeoutError reports a remote operation that did not finish inside its bound.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s did not finish within %s", ErrTimeout.Error(), e.Op, e.Limit)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// DecodeError reports an undecodable response from the render host.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDecode.Error(), e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }
