package service

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"taskloop/pkg/metrics"
	"taskloop/scheduler-service/internal/jobstore"

	"go.uber.org/zap"
)

const (
	// Failed callbacks back off briefly before the next try; after the
	// budget is spent the job is dropped rather than retried forever.
	failureBackoff = 30 * time.Second
	maxFailures    = 5
)

// Dispatcher polls the job store every tick and fires due jobs by POSTing
// their data payload to the registered callback URL. One-shot jobs are
// removed after a successful dispatch; recurring jobs are rescheduled to
// their next fire time.
type Dispatcher struct {
	store      *jobstore.Store
	httpClient *http.Client
	interval   time.Duration
	batchSize  int64
	logger     *zap.Logger
	now        func() time.Time
}

func NewDispatcher(store *jobstore.Store, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store: store,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		interval:  time.Second,
		batchSize: 100,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs the dispatch loop until the context is cancelled. Call in a
// goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting job dispatcher",
		zap.Duration("interval", d.interval),
		zap.Int64("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Job dispatcher stopped")
			return
		case <-ticker.C:
			d.dispatchDue(ctx)
		}
	}
}

func (d *Dispatcher) dispatchDue(ctx context.Context) {
	now := d.now()
	jobs, err := d.store.Due(ctx, now, d.batchSize)
	if err != nil {
		return
	}

	for _, job := range jobs {
		d.dispatch(ctx, job, now)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, job *jobstore.Job, now time.Time) {
	schedule, err := ParseSchedule(job.Schedule)
	if err != nil {
		d.logger.Error("Job has unparseable schedule, dropping",
			zap.String("job", job.Name),
			zap.String("schedule", job.Schedule),
			zap.Error(err),
		)
		d.store.Delete(ctx, job.Name)
		metrics.RecordJobDispatch("dropped")
		return
	}

	d.logger.Info("Dispatching job",
		zap.String("job", job.Name),
		zap.String("callback_url", job.CallbackURL),
	)

	if err := d.callback(ctx, job); err != nil {
		failures, cntErr := d.store.MarkFailure(ctx, job.Name)
		if cntErr != nil {
			failures = int64(job.Failures) + 1
		}
		metrics.RecordJobDispatch("failed")
		d.logger.Warn("Job callback failed",
			zap.String("job", job.Name),
			zap.Int64("failures", failures),
			zap.Error(err),
		)

		if failures >= maxFailures {
			d.logger.Error("Job failed too many times, dropping",
				zap.String("job", job.Name),
				zap.Int64("failures", failures),
			)
			d.store.Delete(ctx, job.Name)
			metrics.RecordJobDispatch("dropped")
			return
		}
		d.store.Reschedule(ctx, job.Name, now.Add(failureBackoff))
		return
	}

	metrics.RecordJobDispatch("success")

	if schedule.OneShot {
		d.store.Delete(ctx, job.Name)
		return
	}
	next := schedule.NextFireTime(now)
	if err := d.store.Reschedule(ctx, job.Name, next); err == nil {
		d.logger.Debug("Recurring job rescheduled",
			zap.String("job", job.Name),
			zap.Time("next_fire_time", next),
		)
	}
}

func (d *Dispatcher) callback(ctx context.Context, job *jobstore.Job) error {
	body := job.Data
	if len(body) == 0 {
		body = []byte("{}")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}
