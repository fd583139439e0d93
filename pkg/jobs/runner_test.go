package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoPanelGuard/pkg/delivery"
	"github.com/supporttools/GoPanelGuard/pkg/panel"
)

// fakeClient is a scripted panel client
type fakeClient struct {
	mu sync.Mutex

	triggerErrs  []error
	triggerCalls int
	triggerGate  chan struct{} // when set, TriggerBackup blocks until the gate closes

	artifacts []panel.Artifact
	listErrs  []error
	listCalls int

	payload       string
	downloadErrs  []error
	downloadCalls int

	deleteErr   error
	deleteCalls int
	emptyCalls  int
}

func (f *fakeClient) ListDatabases(ctx context.Context) ([]panel.Database, error) {
	return nil, nil
}

func (f *fakeClient) TriggerBackup(ctx context.Context, db panel.Database) error {
	f.mu.Lock()
	f.triggerCalls++
	gate := f.triggerGate
	var err error
	if len(f.triggerErrs) > 0 {
		err = f.triggerErrs[0]
		f.triggerErrs = f.triggerErrs[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeClient) ListArtifacts(ctx context.Context, db panel.Database) ([]panel.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.artifacts, nil
}

func (f *fakeClient) DownloadArtifact(ctx context.Context, a panel.Artifact) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadCalls++
	if len(f.downloadErrs) > 0 {
		err := f.downloadErrs[0]
		f.downloadErrs = f.downloadErrs[1:]
		if err != nil {
			return nil, 0, err
		}
	}
	return io.NopCloser(strings.NewReader(f.payload)), int64(len(f.payload)), nil
}

func (f *fakeClient) DeleteArtifact(ctx context.Context, a panel.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	return f.deleteErr
}

func (f *fakeClient) EmptyRecycleBin(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emptyCalls++
	return nil
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

// fakeChannel is a scripted delivery channel
type fakeChannel struct {
	mu       sync.Mutex
	sendErrs []error
	sends    int
	received []string
	refs     []string
	notes    []string
	ceiling  int64
}

func (f *fakeChannel) Send(ctx context.Context, r io.Reader, sizeHint int64, meta delivery.Metadata) (delivery.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if err := delivery.CheckCeiling(sizeHint, f.ceiling); err != nil {
		return delivery.Receipt{}, err
	}
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return delivery.Receipt{}, err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return delivery.Receipt{}, fmt.Errorf("%w: %v", delivery.ErrTimeout, err)
	}
	f.received = append(f.received, string(data))
	ref := "msg-" + meta.Filename
	f.refs = append(f.refs, ref)
	return delivery.Receipt{Channel: "fake", Ref: ref, Delivered: time.Now()}, nil
}

func (f *fakeChannel) Notify(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, text)
	return nil
}

func (f *fakeChannel) Ceiling() int64 { return f.ceiling }

// fakeRecorder collects every snapshot the runner persists
type fakeRecorder struct {
	mu   sync.Mutex
	recs []Record
}

func (f *fakeRecorder) Record(rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeRecorder) states() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]State, 0, len(f.recs))
	for _, rec := range f.recs {
		out = append(out, rec.State)
	}
	return out
}

func testOptions() Options {
	return Options{
		MaxAttempts:     3,
		BackoffBase:     time.Millisecond,
		BackoffCap:      4 * time.Millisecond,
		ReconcileWindow: time.Second,
		ReconcilePoll:   time.Millisecond,
	}
}

func newTestRunner(client *fakeClient, channel *fakeChannel, recorder *fakeRecorder, opts Options) (*Runner, *LockTable) {
	locks := NewLockTable()
	r := NewRunner(locks, recorder, channel,
		"fake", func(conn panel.Connection) panel.Client { return client }, opts)
	r.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return r, locks
}

func freshArtifact() panel.Artifact {
	return panel.Artifact{
		ID:        1,
		Filename:  "shop_20250830_031500.sql.gz",
		Path:      "/www/backup/database",
		Size:      2048,
		CreatedAt: time.Now(),
	}
}

func testJob() *Job {
	conn := panel.Connection{Name: "panel-a", URL: "http://panel-a:8888", APIKey: "key"}
	return New(conn, panel.Database{ID: 7, Name: "shop"}, TriggerManual)
}

func TestRunHappyPath(t *testing.T) {
	client := &fakeClient{payload: "dump-bytes", artifacts: []panel.Artifact{freshArtifact()}}
	channel := &fakeChannel{}
	recorder := &fakeRecorder{}
	runner, _ := newTestRunner(client, channel, recorder, testOptions())

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateSucceeded, job.State())
	rec := job.Record()
	assert.Equal(t, DeliverySuccess, rec.DeliveryStatus)
	assert.Equal(t, "msg-shop_20250830_031500.sql.gz", rec.DeliveryRef)
	assert.Equal(t, "shop_20250830_031500.sql.gz", rec.ArtifactName)
	assert.False(t, rec.CompletedAt.IsZero())

	assert.Equal(t, 1, client.triggerCalls)
	assert.Equal(t, 1, client.downloadCalls)
	assert.Equal(t, 1, client.deleteCalls)
	assert.Equal(t, 1, client.emptyCalls)
	assert.Equal(t, []string{"dump-bytes"}, channel.received)

	// Forward-only lifecycle, every phase visited exactly once.
	assert.Equal(t, []State{
		StatePending, StateTriggering, StateAwaitingArtifact, StateAwaitingArtifact,
		StateDownloading, StateDelivering, StateDelivering, StateCleaningUp, StateSucceeded,
	}, recorder.states())

	require.Len(t, channel.notes, 1)
	assert.Contains(t, channel.notes[0], "Backup Delivered")
	assert.Contains(t, channel.notes[0], "shop")
}

func TestRunRejectsWhenPairLocked(t *testing.T) {
	client := &fakeClient{artifacts: []panel.Artifact{freshArtifact()}}
	channel := &fakeChannel{}
	recorder := &fakeRecorder{}
	runner, locks := newTestRunner(client, channel, recorder, testOptions())

	require.True(t, locks.Acquire(LockKey("panel-a", "shop")))
	defer locks.Release(LockKey("panel-a", "shop"))

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateFailed, job.State())
	assert.Contains(t, job.Record().Error, ErrAlreadyRunning.Error())
	assert.Zero(t, client.triggerCalls)

	// Expected collision, nobody gets paged.
	assert.Empty(t, channel.notes)
}

func TestTriggerTimeoutReconcilesWithoutSecondTrigger(t *testing.T) {
	client := &fakeClient{
		payload:     "dump",
		triggerErrs: []error{context.DeadlineExceeded},
		artifacts:   []panel.Artifact{freshArtifact()},
	}
	channel := &fakeChannel{}
	recorder := &fakeRecorder{}
	runner, _ := newTestRunner(client, channel, recorder, testOptions())

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateSucceeded, job.State())
	assert.Equal(t, 1, client.triggerCalls, "an ambiguous timeout must not re-trigger the backup")
	assert.GreaterOrEqual(t, client.listCalls, 1)
}

func TestTriggerRetriesConnectivityErrors(t *testing.T) {
	client := &fakeClient{
		payload: "dump",
		triggerErrs: []error{
			panel.ConnectivityError(errors.New("connection refused")),
			panel.ConnectivityError(errors.New("connection refused")),
			nil,
		},
		artifacts: []panel.Artifact{freshArtifact()},
	}
	channel := &fakeChannel{}
	recorder := &fakeRecorder{}
	runner, _ := newTestRunner(client, channel, recorder, testOptions())

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateSucceeded, job.State())
	assert.Equal(t, 3, client.triggerCalls)
}

func TestTriggerGivesUpAfterMaxAttempts(t *testing.T) {
	connErr := panel.ConnectivityError(errors.New("connection refused"))
	client := &fakeClient{triggerErrs: []error{connErr, connErr, connErr}}
	channel := &fakeChannel{}
	recorder := &fakeRecorder{}
	runner, _ := newTestRunner(client, channel, recorder, testOptions())

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateFailed, job.State())
	assert.Equal(t, 3, client.triggerCalls)
	require.Len(t, channel.notes, 1)
	assert.Contains(t, channel.notes[0], "Backup Failed")
}

func TestTriggerBackupFailedIsNotRetried(t *testing.T) {
	client := &fakeClient{
		triggerErrs: []error{fmt.Errorf("%w: database does not exist", panel.ErrBackupFailed)},
	}
	channel := &fakeChannel{}
	recorder := &fakeRecorder{}
	runner, _ := newTestRunner(client, channel, recorder, testOptions())

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateFailed, job.State())
	assert.Equal(t, 1, client.triggerCalls)
}

func TestReconcileWindowExpires(t *testing.T) {
	client := &fakeClient{} // No artifact ever appears
	channel := &fakeChannel{}
	recorder := &fakeRecorder{}
	opts := testOptions()
	opts.ReconcileWindow = -time.Millisecond
	runner, _ := newTestRunner(client, channel, recorder, opts)

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateFailed, job.State())
	assert.Contains(t, job.Record().Error, "no artifact appeared")
	assert.Zero(t, client.downloadCalls)
}

func TestReconcileIgnoresStaleArtifacts(t *testing.T) {
	stale := freshArtifact()
	stale.Filename = "shop_20240101_000000.sql.gz"
	stale.CreatedAt = time.Now().Add(-24 * time.Hour)

	client := &fakeClient{payload: "dump", artifacts: []panel.Artifact{stale, freshArtifact()}}
	channel := &fakeChannel{}
	recorder := &fakeRecorder{}
	runner, _ := newTestRunner(client, channel, recorder, testOptions())

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateSucceeded, job.State())
	assert.Equal(t, "shop_20250830_031500.sql.gz", job.Record().ArtifactName)
}

func TestDeliveryRejectionKeepsRemoteArtifact(t *testing.T) {
	client := &fakeClient{payload: "dump", artifacts: []panel.Artifact{freshArtifact()}}
	channel := &fakeChannel{sendErrs: []error{fmt.Errorf("%w: chat not found", delivery.ErrRejected)}}
	recorder := &fakeRecorder{}
	runner, _ := newTestRunner(client, channel, recorder, testOptions())

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateFailed, job.State())
	rec := job.Record()
	assert.Equal(t, DeliveryFailure, rec.DeliveryStatus)

	// The remote copy stays put for manual retrieval.
	assert.Zero(t, client.deleteCalls)
	assert.Zero(t, client.emptyCalls)
	assert.Equal(t, 1, channel.sends, "a rejection is permanent, no retry")
}

func TestDeliveryTimeoutRetriesFromDownload(t *testing.T) {
	client := &fakeClient{payload: "dump", artifacts: []panel.Artifact{freshArtifact()}}
	channel := &fakeChannel{sendErrs: []error{fmt.Errorf("%w: upload window elapsed", delivery.ErrTimeout)}}
	recorder := &fakeRecorder{}
	runner, _ := newTestRunner(client, channel, recorder, testOptions())

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateSucceeded, job.State())
	assert.Equal(t, 2, client.downloadCalls, "retry must restart from the download for a complete stream")
	assert.Equal(t, 2, channel.sends)
	assert.Equal(t, []string{"dump"}, channel.received)
}

func TestDeliverySizeLimitFailsImmediately(t *testing.T) {
	client := &fakeClient{payload: "dump", artifacts: []panel.Artifact{freshArtifact()}}
	channel := &fakeChannel{ceiling: 1} // Everything is over the ceiling
	recorder := &fakeRecorder{}
	runner, _ := newTestRunner(client, channel, recorder, testOptions())

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateFailed, job.State())
	assert.Equal(t, 1, channel.sends)
	assert.Zero(t, client.deleteCalls)
}

func TestCleanupFailureDoesNotFailTheJob(t *testing.T) {
	client := &fakeClient{
		payload:   "dump",
		artifacts: []panel.Artifact{freshArtifact()},
		deleteErr: errors.New("panel said no"),
	}
	channel := &fakeChannel{}
	recorder := &fakeRecorder{}
	runner, _ := newTestRunner(client, channel, recorder, testOptions())

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateSucceeded, job.State())
	assert.Equal(t, 1, client.deleteCalls)
}

func TestCancelledJobFailsBeforePanelCalls(t *testing.T) {
	client := &fakeClient{payload: "dump-bytes", artifacts: []panel.Artifact{freshArtifact()}}
	recorder := &fakeRecorder{}
	runner, _ := newTestRunner(client, &fakeChannel{}, recorder, testOptions())

	job := testJob()
	job.Cancel()
	runner.Run(context.Background(), job)

	assert.Equal(t, StateFailed, job.State())
	assert.Contains(t, job.Record().Error, ErrCancelled.Error())
	assert.Equal(t, 0, client.triggerCalls)
}

func TestCancelTakesEffectAtNextCheckpoint(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{payload: "dump-bytes", artifacts: []panel.Artifact{freshArtifact()}, triggerGate: gate}
	channel := &fakeChannel{}
	recorder := &fakeRecorder{}
	runner, _ := newTestRunner(client, channel, recorder, testOptions())

	job := testJob()
	done := make(chan struct{})
	go func() {
		runner.Run(context.Background(), job)
		close(done)
	}()

	// Cancel while the trigger call is in flight; the call itself is never
	// aborted, the mark lands at the next boundary.
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.triggerCalls == 1
	}, time.Second, time.Millisecond)
	job.Cancel()
	close(gate)

	<-done
	assert.Equal(t, StateFailed, job.State())
	assert.Contains(t, job.Record().Error, ErrCancelled.Error())

	// The trigger completed; nothing past the boundary ran.
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 0, client.listCalls)
	assert.Equal(t, 0, client.downloadCalls)
	assert.Equal(t, 0, channel.sends)
}

func TestRunReleasesLockOnFailure(t *testing.T) {
	client := &fakeClient{
		triggerErrs: []error{fmt.Errorf("%w: boom", panel.ErrProtocol)},
	}
	channel := &fakeChannel{}
	recorder := &fakeRecorder{}
	runner, locks := newTestRunner(client, channel, recorder, testOptions())

	job := testJob()
	runner.Run(context.Background(), job)

	require.Equal(t, StateFailed, job.State())
	assert.False(t, locks.Busy(LockKey("panel-a", "shop")))
}

func TestBackoffIsBounded(t *testing.T) {
	runner, _ := newTestRunner(&fakeClient{}, &fakeChannel{}, &fakeRecorder{}, Options{
		MaxAttempts: 10,
		BackoffBase: time.Second,
		BackoffCap:  8 * time.Second,
	})

	assert.Equal(t, time.Second, runner.backoff(1))
	assert.Equal(t, 2*time.Second, runner.backoff(2))
	assert.Equal(t, 4*time.Second, runner.backoff(3))
	assert.Equal(t, 8*time.Second, runner.backoff(4))
	assert.Equal(t, 8*time.Second, runner.backoff(9))
}
