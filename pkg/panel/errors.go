package panel

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for the panel error taxonomy. Callers classify with
// errors.Is; concrete clients wrap these with request context.
var (
	// ErrConnectivity marks transient network or timeout failures. Retryable.
	ErrConnectivity = errors.New("panel connectivity error")

	// ErrAuth marks credential rejection by the panel. Fatal, never retried.
	ErrAuth = errors.New("panel authentication rejected")

	// ErrProtocol marks a malformed or unexpected panel response. Fatal for
	// the job; the wrapping error carries the raw response context.
	ErrProtocol = errors.New("panel protocol error")

	// ErrBackupFailed marks a panel-reported backup failure. Fatal for the job.
	ErrBackupFailed = errors.New("panel backup failed")
)

// ConnectivityError wraps err as a retryable connectivity failure
func ConnectivityError(err error) error {
	return fmt.Errorf("%w: %v", ErrConnectivity, err)
}

// ProtocolError wraps a protocol failure with the raw response body for
// operator diagnosis
func ProtocolError(msg string, raw string) error {
	if len(raw) > 512 {
		raw = raw[:512]
	}
	return fmt.Errorf("%w: %s (response: %q)", ErrProtocol, msg, raw)
}

// IsConnectivity reports whether err is a transient connectivity failure,
// including raw network and deadline errors from the HTTP layer
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectivity) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
