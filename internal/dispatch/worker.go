// Package dispatch drains the durable ticket queue and delivers payloads
// downstream with lane priority and bounded retries.
package dispatch

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aegishub/aegishub-go/internal/logging"
	"github.com/aegishub/aegishub-go/internal/metrics"
	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
)

const (
	workerCount = 4
	laneCount   = 4

	// fairnessTicket caps consecutive claims from one lane before the next
	// non-empty lane gets a turn, so p0 bursts cannot starve p3 forever.
	fairnessTicket = 8

	idlePollInterval = 500 * time.Millisecond
)

// Worker runs the delivery pool.
type Worker struct {
	store       *store.Store
	sink        Sink
	maxAttempts int
	backoff     backoffConfig
	logger      zerolog.Logger
	now         func() time.Time

	mu          sync.Mutex
	streakLane  int
	streakCount int
	rng         *rand.Rand
}

// NewWorker builds the dispatch worker pool.
func NewWorker(s *store.Store, sink Sink, maxAttempts int, initialBackoff time.Duration) *Worker {
	if maxAttempts < 1 {
		maxAttempts = 6
	}
	return &Worker{
		store:       s,
		sink:        sink,
		maxAttempts: maxAttempts,
		backoff: backoffConfig{
			Initial:    initialBackoff,
			Multiplier: 2,
			Jitter:     0.5,
			Max:        5 * time.Minute,
		},
		logger:     logging.Component("dispatch"),
		now:        time.Now,
		streakLane: -1,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run blocks until ctx is cancelled, draining the queue with a fixed
// worker pool.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	g.Go(func() error {
		return w.publishDepths(ctx)
	})
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		job, err := w.claimNext(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("Claiming dispatch job failed")
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePollInterval):
			}
			continue
		}

		w.process(ctx, job)
	}
}

// claimNext walks lanes p0..p3 in strict priority order, except when the
// fairness ticket forces a look at the next lane first.
func (w *Worker) claimNext(ctx context.Context) (*models.DispatchJob, error) {
	now := w.now()
	order := w.laneOrder()

	for _, lane := range order {
		job, err := w.store.ClaimDispatchJob(ctx, lane, now)
		if err != nil {
			return nil, err
		}
		if job != nil {
			w.recordClaim(lane)
			return job, nil
		}
	}
	return nil, nil
}

// laneOrder yields the scan order for this claim. After fairnessTicket
// consecutive claims from one lane, that lane rotates to the back once.
func (w *Worker) laneOrder() []int {
	w.mu.Lock()
	defer w.mu.Unlock()

	order := make([]int, 0, laneCount)
	if w.streakLane >= 0 && w.streakCount >= fairnessTicket {
		for lane := 0; lane < laneCount; lane++ {
			if lane != w.streakLane {
				order = append(order, lane)
			}
		}
		order = append(order, w.streakLane)
		return order
	}
	for lane := 0; lane < laneCount; lane++ {
		order = append(order, lane)
	}
	return order
}

func (w *Worker) recordClaim(lane int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if lane == w.streakLane {
		w.streakCount++
		if w.streakCount > fairnessTicket {
			// The forced rotation happened; start counting fresh.
			w.streakCount = 1
		}
	} else {
		w.streakLane = lane
		w.streakCount = 1
	}
}

func (w *Worker) process(ctx context.Context, job *models.DispatchJob) {
	attempt := job.Attempts + 1
	status, deliverErr := w.sink.Deliver(ctx, job.Payload, job.IdempotencyKey)

	now := w.now().UTC()
	record := models.DispatchAttempt{
		JobID:      job.ID,
		Attempt:    attempt,
		StatusCode: status,
		At:         now,
	}
	if deliverErr != nil {
		record.Error = deliverErr.Error()
	}

	state, nextAt, lastErr := w.resolve(job, attempt, status, deliverErr, now)

	if err := w.store.CompleteDispatchJob(ctx, job.ID, record, state, nextAt, lastErr); err != nil {
		w.logger.Error().Err(err).Str("job", job.ID).Msg("Recording dispatch outcome failed")
		return
	}

	switch state {
	case models.DispatchDelivered:
		metrics.DispatchDeliveriesTotal.WithLabelValues("delivered").Inc()
		w.logger.Info().Str("job", job.ID).Int("attempt", attempt).Int("status", status).
			Msg("Ticket delivered")
	case models.DispatchQueued:
		metrics.DispatchDeliveriesTotal.WithLabelValues("retry").Inc()
		w.logger.Warn().Str("job", job.ID).Int("attempt", attempt).Int("status", status).
			Time("next_attempt", nextAt).Msg("Delivery failed, retry scheduled")
	case models.DispatchFailed:
		metrics.DispatchDeliveriesTotal.WithLabelValues("failed").Inc()
		w.logger.Error().Str("job", job.ID).Int("attempt", attempt).Int("status", status).
			Msg("Delivery failed terminally")
	}
}

// resolve decides the job's next state from one delivery outcome.
// 2xx and 409 (downstream already has it) are success; most other 4xx
// are permanent; everything else retries until attempts run out.
func (w *Worker) resolve(job *models.DispatchJob, attempt, status int, deliverErr error, now time.Time) (models.DispatchState, time.Time, string) {
	lastErr := ""
	if deliverErr != nil {
		lastErr = deliverErr.Error()
	} else if status >= 300 {
		lastErr = "downstream status " + http.StatusText(status)
	}

	delivered := deliverErr == nil && ((status >= 200 && status < 300) || status == http.StatusConflict)
	if delivered {
		return models.DispatchDelivered, now, ""
	}

	permanent := deliverErr == nil && status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
	if permanent || attempt >= w.maxAttempts {
		return models.DispatchFailed, now, lastErr
	}

	w.mu.Lock()
	rng := w.rng.Float64()
	w.mu.Unlock()
	delay := w.backoff.nextDelay(attempt-1, rng)
	return models.DispatchQueued, now.Add(delay), lastErr
}

// publishDepths refreshes the queue-depth gauges.
func (w *Worker) publishDepths(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		depths, err := w.store.DispatchQueueDepths(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("Reading queue depths failed")
			continue
		}
		for lane := 0; lane < laneCount; lane++ {
			metrics.SetQueueDepth(lane, depths[lane])
		}
	}
}

// RetryPending requeues terminally failed jobs, resetting their attempt
// budget. Returns the number of jobs requeued.
func (w *Worker) RetryPending(ctx context.Context) (int, error) {
	n, err := w.store.RequeueFailedDispatch(ctx, w.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Info().Int("jobs", n).Msg("Requeued failed dispatch jobs")
	}
	return n, nil
}
