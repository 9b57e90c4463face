package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"servhub/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReporter struct {
	mu           sync.Mutex
	bookings     []string
	summaries    int
	failuresLeft int

	delivered chan struct{}
}

func newFakeReporter(failures int) *fakeReporter {
	return &fakeReporter{failuresLeft: failures, delivered: make(chan struct{}, 64)}
}

func (r *fakeReporter) UpsertBooking(ctx context.Context, booking *models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failuresLeft > 0 {
		r.failuresLeft--
		return errors.New("sheets unavailable")
	}
	r.bookings = append(r.bookings, booking.ID)
	r.delivered <- struct{}{}
	return nil
}

func (r *fakeReporter) UpdateSummary(ctx context.Context, snapshot models.AnalyticsSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failuresLeft > 0 {
		r.failuresLeft--
		return errors.New("sheets unavailable")
	}
	r.summaries++
	r.delivered <- struct{}{}
	return nil
}

func (r *fakeReporter) bookingIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.bookings...)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}
}

func waitDelivered(t *testing.T, r *fakeReporter, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.delivered:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
}

func TestReportWorkerDelivers(t *testing.T) {
	logger := zerolog.New(io.Discard)
	reporter := newFakeReporter(0)
	w := NewReportWorker(reporter, fastRetry(), &logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	require.NoError(t, w.EnqueueBooking(ctx, &models.Booking{ID: "b1"}))
	require.NoError(t, w.EnqueueSnapshot(ctx, models.AnalyticsSnapshot{Total: 5}))

	waitDelivered(t, reporter, 2)
	assert.Equal(t, []string{"b1"}, reporter.bookingIDs())
	assert.Equal(t, 1, reporter.summaries)
}

func TestReportWorkerRetries(t *testing.T) {
	logger := zerolog.New(io.Discard)
	reporter := newFakeReporter(2) // fail twice, succeed on the third attempt
	w := NewReportWorker(reporter, fastRetry(), &logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	require.NoError(t, w.EnqueueBooking(ctx, &models.Booking{ID: "retry-me"}))

	waitDelivered(t, reporter, 1)
	assert.Equal(t, []string{"retry-me"}, reporter.bookingIDs())
}

func TestReportWorkerDeadLetters(t *testing.T) {
	logger := zerolog.New(io.Discard)
	reporter := newFakeReporter(100) // never recovers within MaxRetries
	w := NewReportWorker(reporter, fastRetry(), &logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	require.NoError(t, w.EnqueueBooking(ctx, &models.Booking{ID: "doomed"}))

	// Give the retries time to exhaust; nothing must be delivered.
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, reporter.bookingIDs())
}

func TestEnqueueValidation(t *testing.T) {
	logger := zerolog.New(io.Discard)
	w := NewReportWorker(newFakeReporter(0), fastRetry(), &logger)
	ctx := context.Background()

	assert.Error(t, w.EnqueueBooking(ctx, nil))
	assert.Error(t, w.EnqueueBooking(ctx, &models.Booking{}))
}

func TestRetryPolicyNextDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2, MaxRetries: 5}

	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 10*time.Second, p.NextDelay(5), "clamped at max delay")
	assert.Equal(t, time.Second, p.NextDelay(0), "attempt floor")
}

func TestRetryPolicyWithDefaults(t *testing.T) {
	p := RetryPolicy{}.WithDefaults()
	assert.Equal(t, 5, p.MaxRetries)
	assert.Equal(t, 2*time.Second, p.InitialDelay)
	assert.Equal(t, time.Minute, p.MaxDelay)
	assert.Equal(t, 2.0, p.BackoffFactor)
}
