package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"github.com/user/blimp/internal/types"
)

// laneSize is the per-channel buffer; a full lane rejects new jobs.
const laneSize = 100

// DefaultLaneIdle is how long an empty lane waits before its goroutine exits.
const DefaultLaneIdle = 5 * time.Minute

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("dispatch queue stopped")

// Processor handles one job. ctx is the queue's context, not the context of
// the connection that delivered the message, so jobs outlive socket closure.
type Processor func(ctx context.Context, job *Job) error

// Queue runs message jobs off the frame-handling path. Each channel gets its
// own FIFO lane so messages in one channel are processed in order, while a
// global semaphore bounds how many jobs run at once across all channels.
type Queue struct {
	lanes     map[types.Snowflake]chan *Job
	semaphore *semaphore.Weighted
	processor Processor
	logger    *slog.Logger
	metrics   *queueMetrics
	active    atomic.Int64
	stopped   bool
	laneIdle  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue that runs up to maxConcurrent jobs at a time.
func NewQueue(maxConcurrent int64, processor Processor, logger *slog.Logger) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		lanes:     make(map[types.Snowflake]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		processor: processor,
		logger:    logger,
		laneIdle:  DefaultLaneIdle,
	}
}

// WithMetrics registers the queue's collectors on reg.
func (q *Queue) WithMetrics(reg prometheus.Registerer, namespace string) *Queue {
	q.metrics = newQueueMetrics(reg, namespace)
	return q
}

// WithLaneIdle sets how long an empty channel lane lives before it is
// reaped. The next message for that channel opens a fresh lane.
func (q *Queue) WithLaneIdle(d time.Duration) *Queue {
	if d > 0 {
		q.laneIdle = d
	}
	return q
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes and waits for in-flight
// jobs to return.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	if q.cancel != nil {
		q.cancel()
	}
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue appends job to its channel's lane, creating the lane on first use.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.ctx == nil {
		return ErrStopped
	}

	lane, exists := q.lanes[job.ChannelID]
	if !exists {
		lane = make(chan *Job, laneSize)
		q.lanes[job.ChannelID] = lane
		q.wg.Add(1)
		go q.processLane(job.ChannelID, lane)
	}

	select {
	case lane <- job:
		q.metrics.queued()
		return nil
	default:
		q.metrics.dropped()
		return fmt.Errorf("queue full for channel %s", job.ChannelID)
	}
}

// HandleMessage wraps msg in a Job and enqueues it. It never blocks on the
// processor.
func (q *Queue) HandleMessage(_ context.Context, msg *types.Message) error {
	job := NewJob(msg)
	if err := q.Enqueue(job); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) processLane(channelID types.Snowflake, lane chan *Job) {
	defer q.wg.Done()
	idle := time.NewTimer(q.laneIdle)
	defer idle.Stop()
	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			q.run(job)
			q.semaphore.Release(1)
			idle.Reset(q.laneIdle)
		case <-idle.C:
			if q.reapLane(channelID, lane) {
				return
			}
			idle.Reset(q.laneIdle)
		case <-q.ctx.Done():
			return
		}
	}
}

// reapLane removes lane if it is still empty. Enqueue sends under mu, so no
// job can land in a lane after it is removed.
func (q *Queue) reapLane(channelID types.Snowflake, lane chan *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || len(lane) > 0 {
		return false
	}
	if q.lanes[channelID] == lane {
		delete(q.lanes, channelID)
	}
	q.logger.Debug("reaped idle lane", "channel_id", string(channelID))
	return true
}

// Lanes returns the number of open channel lanes.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

func (q *Queue) run(job *Job) {
	if q.processor == nil {
		return
	}
	q.active.Add(1)
	defer q.active.Add(-1)

	job.start()
	err := q.processor(q.ctx, job)
	job.finish(err)
	q.metrics.finished(job)

	if err != nil {
		q.logger.Error("job failed",
			"job_id", string(job.ID),
			"channel_id", string(job.ChannelID),
			"error", err,
		)
		return
	}
	q.logger.Debug("job complete", "job_id", string(job.ID), "duration", job.EndedAt.Sub(*job.StartedAt))
}

// Active returns the number of jobs currently running.
func (q *Queue) Active() int64 {
	return q.active.Load()
}

// WaitIdle blocks until no jobs are running or the timeout expires. It
// reports whether the queue went idle.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

type queueMetrics struct {
	jobs     *prometheus.CounterVec
	duration prometheus.Histogram
}

func newQueueMetrics(reg prometheus.Registerer, namespace string) *queueMetrics {
	if namespace == "" {
		namespace = "blimp"
	}
	factory := promauto.With(reg)
	return &queueMetrics{
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "jobs_total",
			Help:      "Message jobs by outcome (queued, dropped, complete, failed).",
		}, []string{"status"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "job_duration_seconds",
			Help:      "Time spent processing a message job.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *queueMetrics) queued() {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(string(JobQueued)).Inc()
}

func (m *queueMetrics) dropped() {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues("dropped").Inc()
}

func (m *queueMetrics) finished(job *Job) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(string(job.Status)).Inc()
	if job.StartedAt != nil && job.EndedAt != nil {
		m.duration.Observe(job.EndedAt.Sub(*job.StartedAt).Seconds())
	}
}
