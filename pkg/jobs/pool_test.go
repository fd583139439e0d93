package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoPanelGuard/pkg/panel"
)

func newTestPool(client *fakeClient, channel *fakeChannel, recorder *fakeRecorder, workers, queueSize int) (*Pool, *LockTable) {
	locks := NewLockTable()
	runner := NewRunner(locks, recorder, channel,
		"fake", func(conn panel.Connection) panel.Client { return client }, testOptions())
	runner.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return NewPool(runner, locks, workers, queueSize), locks
}

func waitForTerminal(t *testing.T, job *Job) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !job.State().Terminal() {
		if time.Now().After(deadline) {
			t.Fatalf("job %s did not reach a terminal state, stuck in %s", job.ID, job.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPoolRunsQueuedJob(t *testing.T) {
	client := &fakeClient{payload: "dump", artifacts: []panel.Artifact{freshArtifact()}}
	pool, _ := newTestPool(client, &fakeChannel{}, &fakeRecorder{}, 2, 4)
	defer pool.Stop()

	conn := panel.Connection{Name: "panel-a", URL: "http://panel-a:8888", APIKey: "key"}
	job, err := pool.Trigger(conn, panel.Database{ID: 7, Name: "shop"}, TriggerScheduled)
	require.NoError(t, err)

	waitForTerminal(t, job)
	assert.Equal(t, StateSucceeded, job.State())
}

func TestPoolRejectsBusyPair(t *testing.T) {
	client := &fakeClient{payload: "dump", artifacts: []panel.Artifact{freshArtifact()}}
	pool, locks := newTestPool(client, &fakeChannel{}, &fakeRecorder{}, 1, 4)
	defer pool.Stop()

	require.True(t, locks.Acquire(LockKey("panel-a", "shop")))
	defer locks.Release(LockKey("panel-a", "shop"))

	conn := panel.Connection{Name: "panel-a", URL: "http://panel-a:8888", APIKey: "key"}
	job, err := pool.Trigger(conn, panel.Database{ID: 7, Name: "shop"}, TriggerManual)
	require.NoError(t, err)

	// Rejection is synchronous, no waiting involved.
	assert.Equal(t, StateFailed, job.State())
	assert.Contains(t, job.Record().Error, ErrAlreadyRunning.Error())
	assert.True(t, pool.Busy("panel-a", "shop"))
}

func TestPoolDistinctPairsRunIndependently(t *testing.T) {
	client := &fakeClient{payload: "dump", artifacts: []panel.Artifact{freshArtifact()}}
	pool, _ := newTestPool(client, &fakeChannel{}, &fakeRecorder{}, 2, 8)
	defer pool.Stop()

	conn := panel.Connection{Name: "panel-a", URL: "http://panel-a:8888", APIKey: "key"}
	shop, err := pool.Trigger(conn, panel.Database{ID: 7, Name: "shop"}, TriggerScheduled)
	require.NoError(t, err)
	blog, err := pool.Trigger(conn, panel.Database{ID: 8, Name: "blog"}, TriggerScheduled)
	require.NoError(t, err)

	waitForTerminal(t, shop)
	waitForTerminal(t, blog)
	assert.Equal(t, StateSucceeded, shop.State())
	assert.Equal(t, StateSucceeded, blog.State())
}

func TestPoolQueueFull(t *testing.T) {
	// No workers drain the queue, so the second trigger has nowhere to go.
	client := &fakeClient{artifacts: []panel.Artifact{freshArtifact()}}
	pool, _ := newTestPool(client, &fakeChannel{}, &fakeRecorder{}, 0, 1)
	defer pool.Stop()

	conn := panel.Connection{Name: "panel-a", URL: "http://panel-a:8888", APIKey: "key"}
	_, err := pool.Trigger(conn, panel.Database{ID: 7, Name: "shop"}, TriggerScheduled)
	require.NoError(t, err)

	_, err = pool.Trigger(conn, panel.Database{ID: 8, Name: "blog"}, TriggerScheduled)
	require.Error(t, err)

	// The reservation for the refused job is rolled back.
	assert.False(t, pool.Busy("panel-a", "blog"))
}

func TestPoolRejectsDuplicateQueuedTrigger(t *testing.T) {
	// A queued job must exclude duplicates for its pair just like a running
	// one: the pair lock is reserved at trigger time, not at pickup.
	gate := make(chan struct{})
	client := &fakeClient{payload: "dump", artifacts: []panel.Artifact{freshArtifact()}, triggerGate: gate}
	pool, _ := newTestPool(client, &fakeChannel{}, &fakeRecorder{}, 1, 4)
	defer pool.Stop()

	conn := panel.Connection{Name: "panel-a", URL: "http://panel-a:8888", APIKey: "key"}

	// Wedge the single worker on another pair so the shop job only queues.
	blog, err := pool.Trigger(conn, panel.Database{ID: 8, Name: "blog"}, TriggerScheduled)
	require.NoError(t, err)

	first, err := pool.Trigger(conn, panel.Database{ID: 7, Name: "shop"}, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, StatePending, first.State())
	assert.True(t, pool.Busy("panel-a", "shop"))

	second, err := pool.Trigger(conn, panel.Database{ID: 7, Name: "shop"}, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, second.State())
	assert.Contains(t, second.Record().Error, ErrAlreadyRunning.Error())

	close(gate)
	waitForTerminal(t, blog)
	waitForTerminal(t, first)
	assert.Equal(t, StateSucceeded, blog.State())
	assert.Equal(t, StateSucceeded, first.State())

	// Exactly one backup ran per pair; the duplicate never reached the panel.
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 2, client.triggerCalls)
}

func TestPoolCancelQueuedJob(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{payload: "dump", artifacts: []panel.Artifact{freshArtifact()}, triggerGate: gate}
	pool, _ := newTestPool(client, &fakeChannel{}, &fakeRecorder{}, 1, 4)
	defer pool.Stop()

	conn := panel.Connection{Name: "panel-a", URL: "http://panel-a:8888", APIKey: "key"}
	blog, err := pool.Trigger(conn, panel.Database{ID: 8, Name: "blog"}, TriggerScheduled)
	require.NoError(t, err)
	shop, err := pool.Trigger(conn, panel.Database{ID: 7, Name: "shop"}, TriggerManual)
	require.NoError(t, err)

	assert.False(t, pool.Cancel("no-such-id"))
	require.True(t, pool.Cancel(shop.ID))

	close(gate)
	waitForTerminal(t, blog)
	waitForTerminal(t, shop)

	assert.Equal(t, StateFailed, shop.State())
	assert.Contains(t, shop.Record().Error, ErrCancelled.Error())
	assert.False(t, pool.Busy("panel-a", "shop"))

	// Only the wedged blog job ever reached the panel.
	client.mu.Lock()
	triggers := client.triggerCalls
	client.mu.Unlock()
	assert.Equal(t, 1, triggers)

	// Terminal jobs drop out of the active set.
	require.Eventually(t, func() bool { return !pool.Cancel(shop.ID) },
		time.Second, 5*time.Millisecond)
}
