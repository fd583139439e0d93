package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/supporttools/GoPanelGuard/pkg/config"
	"github.com/supporttools/GoPanelGuard/pkg/delivery"
	"github.com/supporttools/GoPanelGuard/pkg/metrics"
	"github.com/supporttools/GoPanelGuard/pkg/panel"
)

// ClientFactory builds a panel client for a connection snapshot
type ClientFactory func(conn panel.Connection) panel.Client

// Options holds the runner's operational tuning. All of it is
// configuration; none of it changes job semantics.
type Options struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	ReconcileWindow time.Duration
	ReconcilePoll   time.Duration
}

// OptionsFromConfig parses the runner config block. Durations were already
// validated by config.ValidateConfig.
func OptionsFromConfig(cfg config.RunnerConfig) Options {
	base, _ := time.ParseDuration(cfg.BackoffBase)
	cap, _ := time.ParseDuration(cfg.BackoffCap)
	window, _ := time.ParseDuration(cfg.ReconcileWindow)
	poll, _ := time.ParseDuration(cfg.ReconcilePoll)
	return Options{
		MaxAttempts:     cfg.MaxAttempts,
		BackoffBase:     base,
		BackoffCap:      cap,
		ReconcileWindow: window,
		ReconcilePoll:   poll,
	}
}

// Runner drives a backup job through its lifecycle
type Runner struct {
	locks       *LockTable
	recorder    Recorder
	channel     delivery.Channel
	channelName string
	clients     ClientFactory
	opts        Options

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a job runner
func NewRunner(locks *LockTable, recorder Recorder, channel delivery.Channel, channelName string, clients ClientFactory, opts Options) *Runner {
	return &Runner{
		locks:       locks,
		recorder:    recorder,
		channel:     channel,
		channelName: channelName,
		clients:     clients,
		opts:        opts,
		sleep:       sleepCtx,
	}
}

// sleepCtx sleeps for d or until the context is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the bounded exponential delay before retry attempt n
// (1-based: attempt 1 already happened)
func (r *Runner) backoff(attempt int) time.Duration {
	d := r.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.opts.BackoffCap {
			return r.opts.BackoffCap
		}
	}
	if d > r.opts.BackoffCap {
		return r.opts.BackoffCap
	}
	return d
}

// record persists the job's current snapshot. History write failures are
// logged, never fatal: the job itself is the source of truth while running.
func (r *Runner) record(job *Job) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(job.Record()); err != nil {
		log.Printf("Warning: failed to record job %s: %v", job.ID, err)
	}
}

// transition advances the job and persists the change
func (r *Runner) transition(job *Job, s State) {
	job.setState(s)
	r.record(job)
}

// checkpoint enforces cancellation at transition boundaries. An in-flight
// transfer is never aborted mid-stream; the mark takes effect here.
func (r *Runner) checkpoint(ctx context.Context, job *Job) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if job.cancelRequested() {
		return ErrCancelled
	}
	return nil
}

// Run drives the job from Pending to a terminal state. It never returns a
// Go error: every outcome is recorded on the job itself.
func (r *Runner) Run(ctx context.Context, job *Job) {
	start := time.Now()
	r.record(job)

	if !job.reserved && !r.locks.Acquire(job.LockKey()) {
		r.fail(ctx, job, start, ErrAlreadyRunning)
		return
	}
	// Released on every exit path, unconditionally.
	defer r.locks.Release(job.LockKey())

	// A job cancelled while still queued fails here, before any panel call.
	if err := r.checkpoint(ctx, job); err != nil {
		r.fail(ctx, job, start, err)
		return
	}

	client := r.clients(job.Connection)

	r.transition(job, StateTriggering)
	triggeredAt := time.Now()
	if err := r.triggerBackup(ctx, client, job); err != nil {
		r.fail(ctx, job, start, err)
		return
	}

	r.transition(job, StateAwaitingArtifact)
	artifact, err := r.awaitArtifact(ctx, client, job, triggeredAt)
	if err != nil {
		r.fail(ctx, job, start, err)
		return
	}
	job.setArtifact(artifact)
	r.record(job)

	if err := r.checkpoint(ctx, job); err != nil {
		r.fail(ctx, job, start, err)
		return
	}

	r.transition(job, StateDownloading)
	if err := r.deliver(ctx, client, job); err != nil {
		// The remote artifact is deliberately kept on delivery failure so an
		// operator can retrieve it by hand.
		r.fail(ctx, job, start, err)
		return
	}

	r.transition(job, StateCleaningUp)
	r.cleanup(ctx, client, job)

	r.transition(job, StateSucceeded)
	r.finishMetrics(job, start, "success")
	r.notifySuccess(ctx, job, time.Since(start))
}

// triggerBackup asks the panel for a fresh backup, retrying clear
// connectivity failures. A timeout is ambiguous: the panel may still have
// produced the backup, so the job advances to reconciliation instead of
// assuming failure.
func (r *Runner) triggerBackup(ctx context.Context, client panel.Client, job *Job) error {
	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if err := r.checkpoint(ctx, job); err != nil {
			return err
		}

		err := client.TriggerBackup(ctx, job.Database)
		if err == nil {
			return nil
		}

		if isAmbiguousTimeout(err) {
			log.Printf("Job %s: trigger timed out with ambiguous outcome, reconciling via artifact list", job.ID)
			return nil
		}
		if !panel.IsConnectivity(err) {
			return err
		}

		lastErr = err
		log.Printf("Job %s: trigger attempt %d/%d failed: %v", job.ID, attempt, r.opts.MaxAttempts, err)
		if attempt < r.opts.MaxAttempts {
			if err := r.sleep(ctx, r.backoff(attempt)); err != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, err)
			}
		}
	}
	return lastErr
}

// isAmbiguousTimeout reports whether the request may have reached the panel
// before failing. Connection-refused style errors are unambiguous and safe
// to retry; deadline expiry is not.
func isAmbiguousTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || isTimeout(err)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// awaitArtifact polls the artifact list until one created at or after the
// trigger appears, newest first. The bounded window keeps a silently failed
// panel backup from wedging the job forever.
func (r *Runner) awaitArtifact(ctx context.Context, client panel.Client, job *Job, since time.Time) (panel.Artifact, error) {
	deadline := time.Now().Add(r.opts.ReconcileWindow)

	// Allow for clock skew between us and the panel.
	cutoff := since.Add(-time.Minute)

	for {
		if err := r.checkpoint(ctx, job); err != nil {
			return panel.Artifact{}, err
		}

		artifacts, err := client.ListArtifacts(ctx, job.Database)
		switch {
		case err == nil:
			for _, a := range artifacts {
				if a.CreatedAt.After(cutoff) {
					return a, nil
				}
			}
		case panel.IsConnectivity(err):
			log.Printf("Job %s: artifact list failed, will retry: %v", job.ID, err)
		default:
			return panel.Artifact{}, err
		}

		if time.Now().After(deadline) {
			return panel.Artifact{}, fmt.Errorf("%w: no artifact appeared within %s", panel.ErrBackupFailed, r.opts.ReconcileWindow)
		}
		if err := r.sleep(ctx, r.opts.ReconcilePoll); err != nil {
			return panel.Artifact{}, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
	}
}

// deliver streams the artifact from the panel into the delivery channel.
// Nothing is buffered whole; retryable failures restart the download so the
// channel always sees a complete stream.
func (r *Runner) deliver(ctx context.Context, client panel.Client, job *Job) error {
	artifact := job.Artifact()
	meta := delivery.Metadata{
		PanelName: job.PanelName,
		Database:  job.Database.Name,
		Filename:  artifact.Filename,
		CreatedAt: artifact.CreatedAt,
	}

	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if err := r.checkpoint(ctx, job); err != nil {
			return err
		}

		body, size, err := client.DownloadArtifact(ctx, artifact)
		if err != nil {
			if !panel.IsConnectivity(err) {
				return err
			}
			lastErr = err
		} else {
			if size <= 0 {
				size = artifact.Size
			}
			if job.State() != StateDelivering {
				r.transition(job, StateDelivering)
			}

			sendStart := time.Now()
			receipt, sendErr := r.channel.Send(ctx, body, size, meta)
			body.Close()

			if sendErr == nil {
				metrics.DeliveryCount.WithLabelValues(r.channelName, "success").Inc()
				metrics.DeliveryDuration.WithLabelValues(r.channelName).Observe(time.Since(sendStart).Seconds())
				job.setDelivery(DeliverySuccess, receipt.Ref)
				r.record(job)
				return nil
			}

			metrics.DeliveryCount.WithLabelValues(r.channelName, "error").Inc()
			if errors.Is(sendErr, delivery.ErrSizeLimit) || errors.Is(sendErr, delivery.ErrRejected) {
				job.setDelivery(DeliveryFailure, "")
				return sendErr
			}
			// Timeout or transient transport failure: retry from the download.
			lastErr = sendErr
		}

		log.Printf("Job %s: delivery attempt %d/%d failed: %v", job.ID, attempt, r.opts.MaxAttempts, lastErr)
		if attempt < r.opts.MaxAttempts {
			if err := r.sleep(ctx, r.backoff(attempt)); err != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, err)
			}
		}
	}

	job.setDelivery(DeliveryFailure, "")
	return lastErr
}

// cleanup removes the remote artifact and purges the recycle bin. Delivery
// already succeeded, so failures here are logged and counted, never fatal.
func (r *Runner) cleanup(ctx context.Context, client panel.Client, job *Job) {
	artifact := job.Artifact()

	if err := client.DeleteArtifact(ctx, artifact); err != nil {
		log.Printf("Job %s: failed to delete remote artifact %s: %v", job.ID, artifact.Filename, err)
		metrics.CleanupFailures.WithLabelValues(job.PanelName).Inc()
	}
	if err := client.EmptyRecycleBin(ctx); err != nil {
		log.Printf("Job %s: failed to empty recycle bin: %v", job.ID, err)
		metrics.CleanupFailures.WithLabelValues(job.PanelName).Inc()
	}
}

// Reject marks a never-started job as Failed with the given cause. Used by
// the pool when the exclusivity check already knows the job cannot run.
func (r *Runner) Reject(job *Job, cause error) {
	r.fail(context.Background(), job, time.Now(), cause)
}

// fail moves the job to Failed with the error detail recorded
func (r *Runner) fail(ctx context.Context, job *Job, start time.Time, cause error) {
	job.setError(cause)
	r.transition(job, StateFailed)
	r.finishMetrics(job, start, "error")

	log.Printf("Job %s (%s/%s) failed: %v", job.ID, job.PanelName, job.Database.Name, cause)

	// AlreadyRunning is an expected collision, not worth an operator ping.
	if r.channel != nil && !errors.Is(cause, ErrAlreadyRunning) {
		text := fmt.Sprintf("❌ <b>Backup Failed</b>\n🖥 Panel: %s\n📊 Database: %s\n⚠️ Error: %v",
			job.PanelName, job.Database.Name, cause)
		if err := r.channel.Notify(ctx, text); err != nil {
			log.Printf("Job %s: failure notification not sent: %v", job.ID, err)
		}
	}
}

// finishMetrics records the terminal outcome
func (r *Runner) finishMetrics(job *Job, start time.Time, status string) {
	metrics.JobCount.WithLabelValues(job.PanelName, job.Database.Name, string(job.Trigger), status).Inc()
	metrics.JobDuration.WithLabelValues(job.PanelName, job.Database.Name).Observe(time.Since(start).Seconds())
	if status == "success" {
		metrics.LastSuccessTimestamp.WithLabelValues(job.PanelName, job.Database.Name).Set(float64(time.Now().Unix()))
		if a := job.Artifact(); a.Size > 0 {
			metrics.ArtifactSize.WithLabelValues(job.PanelName, job.Database.Name).Set(float64(a.Size))
		}
	}
}

// notifySuccess sends the delivery summary
func (r *Runner) notifySuccess(ctx context.Context, job *Job, took time.Duration) {
	if r.channel == nil {
		return
	}
	artifact := job.Artifact()
	text := fmt.Sprintf("✅ <b>Backup Delivered</b>\n🖥 Panel: %s\n📊 Database: %s\n📁 File: %s\n📏 Size: %s\n⏱ Duration: %s",
		job.PanelName, job.Database.Name, artifact.Filename,
		humanize.IBytes(uint64(artifact.Size)), took.Round(time.Second))
	if err := r.channel.Notify(ctx, text); err != nil {
		log.Printf("Job %s: success notification not sent: %v", job.ID, err)
	}
}
