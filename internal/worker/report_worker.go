package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"servhub/internal/models"

	"github.com/rs/zerolog"
)

const (
	taskBooking  = "booking"
	taskSnapshot = "snapshot"
)

// Reporter applies booking and summary updates to the external report
// destination (the Sheets mirror in production).
type Reporter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateSummary(ctx context.Context, snapshot models.AnalyticsSnapshot) error
}

type reportTask struct {
	kind     string
	booking  *models.Booking
	snapshot models.AnalyticsSnapshot
	attempt  int
}

// ReportWorker consumes transition tasks from the facade and pushes them to
// the reporter with retries. Delivery is best-effort: exhausted tasks are
// logged as dead letters, never surfaced to the caller.
type ReportWorker struct {
	reporter    Reporter
	retryPolicy RetryPolicy
	queue       chan reportTask
	logger      *zerolog.Logger
}

func NewReportWorker(reporter Reporter, retry RetryPolicy, logger *zerolog.Logger) *ReportWorker {
	return &ReportWorker{
		reporter:    reporter,
		retryPolicy: retry.WithDefaults(),
		queue:       make(chan reportTask, models.WorkerQueueSize),
		logger:      logger,
	}
}

// EnqueueBooking schedules a booking row sync. Never blocks: a full queue
// drops the task with a log line.
func (w *ReportWorker) EnqueueBooking(ctx context.Context, booking *models.Booking) error {
	if booking == nil || booking.ID == "" {
		return errors.New("booking id is required")
	}
	return w.enqueue(reportTask{kind: taskBooking, booking: booking})
}

// EnqueueSnapshot schedules a summary refresh.
func (w *ReportWorker) EnqueueSnapshot(ctx context.Context, snapshot models.AnalyticsSnapshot) error {
	return w.enqueue(reportTask{kind: taskSnapshot, snapshot: snapshot})
}

func (w *ReportWorker) enqueue(t reportTask) error {
	select {
	case w.queue <- t:
		return nil
	default:
		w.logger.Warn().Str("kind", t.kind).Msg("report queue full, task dropped")
		return errors.New("report queue full")
	}
}

// Start launches the main loop; stops when ctx is done.
func (w *ReportWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("report worker started")
	defer w.logger.Info().Msg("report worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.queue:
			w.process(ctx, t)
		}
	}
}

func (w *ReportWorker) process(ctx context.Context, t reportTask) {
	err := w.deliver(ctx, t)
	if err == nil {
		return
	}

	t.attempt++
	if t.attempt > w.retryPolicy.MaxRetries {
		w.logger.Error().Err(err).Str("kind", t.kind).Int("attempts", t.attempt).Msg("report task dead-lettered")
		return
	}

	delay := w.retryPolicy.NextDelay(t.attempt)
	w.logger.Warn().Err(err).Str("kind", t.kind).Int("attempt", t.attempt).Dur("retry_in", delay).Msg("report task failed, will retry")

	select {
	case <-ctx.Done():
	case <-time.After(delay):
		// Requeue without blocking the loop.
		if qErr := w.enqueue(t); qErr != nil {
			w.logger.Error().Err(qErr).Str("kind", t.kind).Msg("report task requeue failed")
		}
	}
}

func (w *ReportWorker) deliver(ctx context.Context, t reportTask) error {
	switch t.kind {
	case taskBooking:
		return w.reporter.UpsertBooking(ctx, t.booking)
	case taskSnapshot:
		return w.reporter.UpdateSummary(ctx, t.snapshot)
	default:
		return fmt.Errorf("unknown task kind: %s", t.kind)
	}
}
