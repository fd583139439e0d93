// Package jobs implements the backup job state machine, the per-target
// exclusivity lock table, and the worker pool that executes jobs.
package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/supporttools/GoPanelGuard/pkg/panel"
)

// State is a backup job lifecycle state
type State string

// Job lifecycle states. A job walks Pending through CleaningUp in order;
// Succeeded and Failed are terminal.
const (
	StatePending          State = "pending"
	StateTriggering       State = "triggering"
	StateAwaitingArtifact State = "awaiting_artifact"
	StateDownloading      State = "downloading"
	StateDelivering       State = "delivering"
	StateCleaningUp       State = "cleaning_up"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
)

// Terminal reports whether the state ends the job
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Trigger identifies what started a job
type Trigger string

const (
	// TriggerManual marks operator-initiated jobs
	TriggerManual Trigger = "manual"
	// TriggerScheduled marks jobs enqueued by the scheduler
	TriggerScheduled Trigger = "scheduled"
)

// DeliveryStatus is the artifact delivery outcome recorded in history
type DeliveryStatus string

const (
	DeliveryNone    DeliveryStatus = "none"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailure DeliveryStatus = "failure"
)

// Transition is one recorded state change
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Job is a single unit of backup work: one database, one panel connection,
// one trigger. Mutated only by the owning runner.
type Job struct {
	ID         string
	PanelName  string
	Connection panel.Connection // snapshot; connection edits never alter a running job
	Database   panel.Database
	Trigger    Trigger

	// reserved means the pool acquired the pair lock at trigger time and the
	// runner takes ownership of it. Set before enqueue, read by the worker.
	reserved bool

	mu             sync.Mutex
	state          State
	createdAt      time.Time
	completedAt    time.Time
	artifact       *panel.Artifact
	deliveryStatus DeliveryStatus
	deliveryRef    string
	errDetail      string
	transitions    []Transition
	cancelled      bool
}

// New creates a job in state Pending
func New(conn panel.Connection, db panel.Database, trigger Trigger) *Job {
	now := time.Now()
	return &Job{
		ID:             uuid.NewString(),
		PanelName:      conn.Name,
		Connection:     conn,
		Database:       db,
		Trigger:        trigger,
		state:          StatePending,
		createdAt:      now,
		deliveryStatus: DeliveryNone,
		transitions:    []Transition{{State: StatePending, At: now}},
	}
}

// State returns the current lifecycle state
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// setState appends a timestamped transition
func (j *Job) setState(s State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
	j.transitions = append(j.transitions, Transition{State: s, At: time.Now()})
	if s.Terminal() {
		j.completedAt = time.Now()
	}
}

// Cancel marks the job for cancellation. The runner honors the mark at the
// next transition boundary; an in-flight transfer is never force-aborted.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelled = true
}

// cancelRequested reports whether Cancel was called
func (j *Job) cancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// setArtifact records the resolved remote artifact reference
func (j *Job) setArtifact(a panel.Artifact) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.artifact = &a
}

// Artifact returns the resolved artifact reference, zero until reconciled
func (j *Job) Artifact() panel.Artifact {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.artifact == nil {
		return panel.Artifact{}
	}
	return *j.artifact
}

// setDelivery records the delivery outcome
func (j *Job) setDelivery(status DeliveryStatus, ref string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.deliveryStatus = status
	j.deliveryRef = ref
}

// setError records the terminal error detail
func (j *Job) setError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		j.errDetail = err.Error()
	}
}

// LockKey identifies the (connection, target) pair the job serializes on
func (j *Job) LockKey() string {
	return LockKey(j.PanelName, j.Database.Name)
}

// Record is an immutable snapshot of a job for history storage and the
// admin interface
type Record struct {
	ID             string         `json:"id"`
	PanelName      string         `json:"panelName"`
	Database       string         `json:"database"`
	DatabaseID     int            `json:"databaseID"`
	Trigger        Trigger        `json:"trigger"`
	State          State          `json:"state"`
	CreatedAt      time.Time      `json:"createdAt"`
	CompletedAt    time.Time      `json:"completedAt,omitempty"`
	ArtifactName   string         `json:"artifactName,omitempty"`
	ArtifactSize   int64          `json:"artifactSize,omitempty"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus"`
	DeliveryRef    string         `json:"deliveryRef,omitempty"`
	Error          string         `json:"error,omitempty"`
	Transitions    []Transition   `json:"transitions"`
}

// Record snapshots the job
func (j *Job) Record() Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := Record{
		ID:             j.ID,
		PanelName:      j.PanelName,
		Database:       j.Database.Name,
		DatabaseID:     j.Database.ID,
		Trigger:        j.Trigger,
		State:          j.state,
		CreatedAt:      j.createdAt,
		CompletedAt:    j.completedAt,
		DeliveryStatus: j.deliveryStatus,
		DeliveryRef:    j.deliveryRef,
		Error:          j.errDetail,
		Transitions:    make([]Transition, len(j.transitions)),
	}
	copy(rec.Transitions, j.transitions)

	if j.artifact != nil {
		rec.ArtifactName = j.artifact.Filename
		rec.ArtifactSize = j.artifact.Size
	}
	return rec
}

// Recorder persists job snapshots. The job runner is the single writer for a
// given job; Record is called on creation and after every transition.
type Recorder interface {
	Record(rec Record) error
}
