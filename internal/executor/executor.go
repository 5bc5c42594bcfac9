// Package executor runs a fixed pool of workers that pull the
// highest-priority Request off a queue.PriorityQueue, acquire a
// Connection from the pool to run it against, and publish the outcome
// exactly once.
package executor

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/websqlite3/internal/metrics"
	"github.com/joao-brasil/websqlite3/internal/pool"
	"github.com/joao-brasil/websqlite3/internal/queue"
	"github.com/joao-brasil/websqlite3/internal/werrors"
)

// Executor dispatches queued Requests to a fixed number of workers.
// Worker count defaults to pool.max_size (spec.md §9, Open Question
// 3): there is never a point running more workers than the pool can
// hand out connections to.
type Executor struct {
	pool  *pool.Pool
	queue *queue.PriorityQueue

	workers int

	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once

	activeWorkers atomic.Int32
	totalExecuted atomic.Uint64
	totalFailed   atomic.Uint64
	totalTimedOut atomic.Uint64
}

// Stats is a point-in-time snapshot of executor counters, matching the
// executor sub-object of the stats() shape (spec.md §6).
type Stats struct {
	QueueSize     int
	Workers       int
	ActiveWorkers int
	TotalExecuted uint64
	TotalFailed   uint64
	TotalTimedOut uint64
}

// Stats returns the current executor statistics.
func (e *Executor) Stats() Stats {
	return Stats{
		QueueSize:     e.queue.Len(),
		Workers:       e.workers,
		ActiveWorkers: int(e.activeWorkers.Load()),
		TotalExecuted: e.totalExecuted.Load(),
		TotalFailed:   e.totalFailed.Load(),
		TotalTimedOut: e.totalTimedOut.Load(),
	}
}

// New creates an Executor and starts its workers. workers must be >= 1.
func New(p *pool.Pool, q *queue.PriorityQueue, workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	e := &Executor{
		pool:    p,
		queue:   q,
		workers: workers,
		stopCh:  make(chan struct{}),
	}

	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.runWorker(i)
	}

	log.Printf("[executor] started with %d workers", workers)
	return e
}

// Submit enqueues req for dispatch. The caller awaits the result with
// req.Result(ctx).
func (e *Executor) Submit(req *queue.Request) error {
	if err := e.queue.Push(req); err != nil {
		return err
	}
	metrics.RequestsDispatched.WithLabelValues(req.Priority.String()).Inc()
	metrics.QueueLength.WithLabelValues("priority_queue").Set(float64(e.queue.Len()))
	return nil
}

// Close stops accepting new dispatch, drains any requests still
// waiting in the queue (failing each with a Shutdown error), and waits
// up to 15 seconds for in-flight requests to finish. Requests still
// running after that are abandoned and their number is logged.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		close(e.stopCh)
		e.queue.Close()

		for _, req := range e.queue.Drain() {
			req.Fail(werrors.New(werrors.KindShutdown, "executor shut down before dispatch"))
			metrics.RequestsCompleted.WithLabelValues("shutdown").Inc()
		}

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			log.Println("[executor] closed")
		case <-time.After(15 * time.Second):
			log.Printf("[executor] closed after 15s grace period, abandoning %d in-flight requests", e.activeWorkers.Load())
		}
	})
}

func (e *Executor) runWorker(id int) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		req, err := e.queue.PopHighest(context.Background())
		if err != nil {
			if werrors.Is(err, werrors.KindShutdown) {
				return
			}
			continue
		}

		metrics.QueueLength.WithLabelValues("priority_queue").Set(float64(e.queue.Len()))
		e.dispatch(id, req)
	}
}

func (e *Executor) dispatch(workerID int, req *queue.Request) {
	start := time.Now()

	e.activeWorkers.Add(1)
	defer e.activeWorkers.Add(-1)

	if !req.Deadline.IsZero() && req.Deadline.Before(start) {
		req.Fail(werrors.New(werrors.KindTimeout, "deadline passed before dispatch"))
		e.totalTimedOut.Add(1)
		metrics.RequestsCompleted.WithLabelValues("timeout").Inc()
		return
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if !req.Deadline.IsZero() {
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		req.Fail(err)
		if werrors.Is(err, werrors.KindTimeout) || werrors.Is(err, werrors.KindPoolExhausted) {
			e.totalTimedOut.Add(1)
		} else {
			e.totalFailed.Add(1)
		}
		metrics.RequestsCompleted.WithLabelValues("acquire_failed").Inc()
		return
	}

	value, runErr := req.Run(ctx, conn)

	metrics.QueryDuration.WithLabelValues(req.Kind.String()).Observe(time.Since(start).Seconds())

	if werrors.IsConnectionLevel(runErr) {
		conn.MarkUnhealthy()
		metrics.ConnectionErrors.WithLabelValues("query_failed").Inc()
	}
	e.pool.Release(conn, runErr == nil || !werrors.IsConnectionLevel(runErr))

	if runErr != nil {
		req.Fail(runErr)
		if werrors.Is(runErr, werrors.KindTimeout) {
			e.totalTimedOut.Add(1)
		} else {
			e.totalFailed.Add(1)
		}
		metrics.RequestsCompleted.WithLabelValues("error").Inc()
		return
	}

	req.Complete(value)
	e.totalExecuted.Add(1)
	metrics.RequestsCompleted.WithLabelValues("success").Inc()
}
