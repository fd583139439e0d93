package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/supporttools/GoPanelGuard/pkg/panel"
)

// Pool runs backup jobs on a fixed set of workers. Jobs for distinct
// (panel, database) pairs run concurrently up to the worker count; the lock
// table serializes jobs for the same pair.
type Pool struct {
	runner *Runner
	locks  *LockTable
	queue  chan *Job

	quit chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
	active  map[string]*Job
}

// NewPool creates a worker pool over the runner
func NewPool(runner *Runner, locks *LockTable, workers, queueSize int) *Pool {
	p := &Pool{
		runner: runner,
		locks:  locks,
		queue:  make(chan *Job, queueSize),
		quit:   make(chan struct{}),
		active: make(map[string]*Job),
	}
	p.startWorkers(workers)
	return p
}

func (p *Pool) startWorkers(workers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	log.Printf("Job pool started with %d workers", workers)
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case job := <-p.queue:
			// Jobs are not force-aborted on shutdown; Stop waits for them.
			p.runner.Run(context.Background(), job)
			p.forget(job.ID)
		}
	}
}

// Busy reports whether a job for the pair is currently active
func (p *Pool) Busy(panelName, database string) bool {
	return p.locks.Busy(LockKey(panelName, database))
}

// Trigger creates and enqueues a backup job. A trigger for a pair with an
// active job, queued or running, yields a job already in terminal state
// Failed with ErrAlreadyRunning; the active job is unaffected.
func (p *Pool) Trigger(conn panel.Connection, db panel.Database, trigger Trigger) (*Job, error) {
	job := New(conn, db, trigger)

	// The pair lock is reserved here, not when the worker picks the job up,
	// so a job waiting in the queue already excludes duplicates for its pair.
	if !p.locks.Acquire(job.LockKey()) {
		p.runner.Reject(job, ErrAlreadyRunning)
		return job, nil
	}
	job.reserved = true

	select {
	case p.queue <- job:
		p.track(job)
		return job, nil
	default:
		p.locks.Release(job.LockKey())
		return nil, fmt.Errorf("job queue is full (%d pending)", cap(p.queue))
	}
}

func (p *Pool) track(job *Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[job.ID] = job
}

func (p *Pool) forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, id)
}

// Cancel marks an active job, queued or running, for cancellation. The
// runner honors the mark at its next transition boundary, so the job lands
// in Failed without an in-flight transfer being aborted. Returns false when
// no active job has the ID.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	job, ok := p.active[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	job.Cancel()
	return true
}

// Stop drains the pool: no new jobs start and in-flight jobs run to
// completion before Stop returns.
func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
	log.Println("Job pool stopped")
}
