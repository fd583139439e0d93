// Package delivery defines the channel interface that receives backup
// artifacts and status notifications.
package delivery

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors for the delivery error taxonomy
var (
	// ErrSizeLimit means the size hint exceeds the channel's ceiling. Raised
	// before any upload traffic; fatal, the remote artifact is kept.
	ErrSizeLimit = errors.New("delivery size limit exceeded")

	// ErrTimeout means the bounded upload window elapsed. Retryable up to the
	// runner's attempt ceiling.
	ErrTimeout = errors.New("delivery timed out")

	// ErrRejected marks authentication or channel-configuration failures.
	// Fatal and surfaced prominently to the operator.
	ErrRejected = errors.New("delivery rejected")
)

// Metadata describes the artifact being sent
type Metadata struct {
	PanelName string
	Database  string
	Filename  string
	CreatedAt time.Time
}

// Receipt confirms a completed delivery
type Receipt struct {
	Channel   string
	Ref       string // channel-specific reference: file id, object key, ...
	Delivered time.Time
}

// Channel pushes artifacts and status messages to an external destination
type Channel interface {
	// Send streams the artifact to the channel. sizeHint is checked against
	// Ceiling before any network I/O; the stream is never buffered whole.
	Send(ctx context.Context, r io.Reader, sizeHint int64, meta Metadata) (Receipt, error)

	// Notify sends a fire-and-forget status message. Failures are logged by
	// callers, never escalated.
	Notify(ctx context.Context, text string) error

	// Ceiling returns the channel's per-file size limit in bytes, or 0 when
	// the channel has no practical limit.
	Ceiling() int64
}

// CheckCeiling is the shared pre-flight size gate
func CheckCeiling(sizeHint, ceiling int64) error {
	if ceiling > 0 && sizeHint > ceiling {
		return ErrSizeLimit
	}
	return nil
}
