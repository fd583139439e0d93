// Package history manages tracking and persistence of backup job records
// and the persisted panel and schedule configuration.
package history

import (
	"log"
	"time"

	"github.com/supporttools/GoPanelGuard/pkg/config"
	"github.com/supporttools/GoPanelGuard/pkg/jobs"
)

// Filter narrows job history queries
type Filter struct {
	PanelName  string
	Database   string
	State      jobs.State
	ActiveOnly bool
	Limit      int
}

// Store persists job records. Records are appended on job creation and
// updated in place keyed by job ID; only the owning runner writes a given
// job, so stores need no per-record locking beyond their own structure.
type Store interface {
	// Record upserts a job snapshot. Satisfies jobs.Recorder.
	Record(rec jobs.Record) error

	// GetJobs returns records matching the filter, newest first.
	GetJobs(filter Filter) ([]jobs.Record, error)

	// GetJobByID returns a single record.
	GetJobByID(id string) (jobs.Record, bool, error)

	// ActiveJob returns the non-terminal job for a pair, if any.
	ActiveJob(panelName, database string) (jobs.Record, bool, error)

	// PurgeOldJobs deletes terminal records older than age, returning the
	// number removed.
	PurgeOldJobs(age time.Duration) (int, error)
}

// DefaultStore is the global job history store instance
var DefaultStore Store

// Initialize creates the history store: database-backed when the history DB
// is enabled, file-based otherwise
func Initialize() error {
	if DefaultStore != nil {
		return nil // Already initialized
	}

	if config.CFG.HistoryDB.Enabled {
		if err := InitializeDatabase(); err != nil {
			return err
		}
		DefaultStore = NewDBStore(DB)
		log.Println("Using database-backed job history store")
		return nil
	}

	store, err := NewFileStore(config.CFG.DataDirectory)
	if err != nil {
		return err
	}
	DefaultStore = store
	log.Println("Using file-based job history store")
	return nil
}
