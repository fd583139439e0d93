// Package panel defines the client interface to a hosting control panel's
// database backup operations.
package panel

import (
	"context"
	"io"
	"time"
)

// Connection identifies one panel instance. Jobs capture a Connection by
// value at start so later edits never alter a running job.
type Connection struct {
	Name   string
	URL    string
	APIKey string
}

// Database is a database as enumerated by the panel
type Database struct {
	ID   int
	Name string
}

// Artifact is a single backup file produced by the panel for one database
type Artifact struct {
	ID        int
	Filename  string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Client is the typed interface to a panel's backup operations. All calls
// perform network I/O and honor context cancellation.
type Client interface {
	// ListDatabases enumerates databases managed by the panel.
	ListDatabases(ctx context.Context) ([]Database, error)

	// TriggerBackup instructs the panel to produce a fresh backup of the
	// database and blocks until the panel confirms completion. The call is
	// not idempotent: retrying after an ambiguous timeout may produce a
	// duplicate artifact, so callers reconcile via ListArtifacts instead.
	TriggerBackup(ctx context.Context, db Database) error

	// ListArtifacts returns the backup files the panel holds for the
	// database, newest first.
	ListArtifacts(ctx context.Context, db Database) ([]Artifact, error)

	// DownloadArtifact opens a streamed read of the artifact contents.
	// The returned size may be zero when the panel does not report one.
	DownloadArtifact(ctx context.Context, ref Artifact) (io.ReadCloser, int64, error)

	// DeleteArtifact removes the remote backup file.
	DeleteArtifact(ctx context.Context, ref Artifact) error

	// EmptyRecycleBin purges the panel's recycle bin.
	EmptyRecycleBin(ctx context.Context) error

	// Ping verifies connectivity and credentials.
	Ping(ctx context.Context) error
}
