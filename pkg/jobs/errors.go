package jobs

import "errors"

// ErrAlreadyRunning means another job for the same (panel, database) pair is
// still active. Fatal for the new trigger only; not an alarm condition.
var ErrAlreadyRunning = errors.New("a backup job for this database is already running")

// ErrCancelled means the job was cancelled at a transition boundary
var ErrCancelled = errors.New("job cancelled")
