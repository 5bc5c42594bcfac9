// Package queue implements the priority-ordered request queue that sits
// between callers and the executor's worker pool. Requests are popped
// highest-priority-first, FIFO among equal priorities.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/websqlite3/internal/pool"
	"github.com/joao-brasil/websqlite3/internal/werrors"
)

// Priority controls scheduling order within the executor's request
// queue. Higher values are dispatched first; equal priorities are
// served FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the lower-case name used in metric labels and logs.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (p Priority) valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// Kind identifies what a Request asks the executor to do. The executor
// itself is agnostic to SQL; Kind only drives metrics labeling and lets
// a Request describe itself in logs.
type Kind int

const (
	KindExecute Kind = iota
	KindExecuteMany
	KindFetchOne
	KindFetchAll
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindExecute:
		return "execute"
	case KindExecuteMany:
		return "execute_many"
	case KindFetchOne:
		return "fetch_one"
	case KindFetchAll:
		return "fetch_all"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Outcome carries a Request's result back to its caller. Value holds a
// kind-specific payload built by Run; the queue and executor never
// inspect it, which keeps this package free of any dependency on the
// root package's result types.
type Outcome struct {
	Value any
	Err   error
}

// Request is one unit of work submitted to the executor. Run performs
// the actual database call against the Connection the executor hands
// it; the closure is built by the caller (the root websqlite3 package),
// which keeps queue/executor ignorant of *pool.Connection's SQL-level
// API and of the root package's Row/Value types, avoiding an import
// cycle between them.
type Request struct {
	Kind     Kind
	Priority Priority
	Run      func(ctx context.Context, conn *pool.Connection) (any, error)

	// Deadline bounds both pool acquisition and Run, if non-zero.
	Deadline time.Time

	// seq breaks ties between equal priorities, FIFO.
	seq uint64

	// resultCh receives exactly one Outcome when the request completes,
	// is cancelled, or the queue shuts down.
	resultCh chan Outcome

	// index is maintained by container/heap; do not set directly.
	index int
}

// Result blocks until the request completes or ctx is cancelled,
// whichever happens first. It is safe to call exactly once.
func (r *Request) Result(ctx context.Context) (any, error) {
	select {
	case out := <-r.resultCh:
		return out.Value, out.Err
	case <-ctx.Done():
		return nil, werrors.Wrap(werrors.KindTimeout, "waiting for request result", ctx.Err())
	}
}

func newRequest(kind Kind, priority Priority, run func(ctx context.Context, conn *pool.Connection) (any, error)) *Request {
	return &Request{
		Kind:     kind,
		Priority: priority,
		Run:      run,
		resultCh: make(chan Outcome, 1),
	}
}

// NewRequest builds a Request ready for Push. priority must be one of
// the Priority constants; NewRequest falls back to PriorityNormal
// otherwise.
func NewRequest(kind Kind, priority Priority, run func(ctx context.Context, conn *pool.Connection) (any, error)) *Request {
	if !priority.valid() {
		priority = PriorityNormal
	}
	return newRequest(kind, priority, run)
}

// complete delivers a Request's outcome. Safe to call at most once.
func (r *Request) complete(value any, err error) {
	r.resultCh <- Outcome{Value: value, Err: err}
}

// requestHeap implements container/heap.Interface, ordering by
// priority descending then seq ascending (FIFO within a priority).
type requestHeap []*Request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	req := x.(*Request)
	req.index = len(*h)
	*h = append(*h, req)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	req.index = -1
	*h = old[:n-1]
	return req
}

// PriorityQueue is a bounded, priority-ordered, blocking queue of
// Requests, safe for concurrent Push by many producers and concurrent
// PopHighest by many consumers (the executor's worker pool).
type PriorityQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   requestHeap
	seq    atomic.Uint64
	closed bool

	// maxDepth bounds the number of requests waiting in the queue; 0
	// means unbounded. Exceeding it rejects Push with a QueueFull error
	// rather than let submitters pile up unboundedly behind a stalled
	// executor.
	maxDepth int
}

// New creates an empty PriorityQueue. maxDepth <= 0 means unbounded.
func New(maxDepth int) *PriorityQueue {
	q := &PriorityQueue{maxDepth: maxDepth}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues req, assigning it the next FIFO tie-break sequence
// number. Returns a QueueFull error if the queue is at maxDepth, or a
// Shutdown error if the queue has been closed.
func (q *PriorityQueue) Push(req *Request) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return werrors.New(werrors.KindShutdown, "queue is closed")
	}
	if q.maxDepth > 0 && len(q.heap) >= q.maxDepth {
		q.mu.Unlock()
		return werrors.New(werrors.KindQueueFull, "request queue is at capacity")
	}
	req.seq = q.seq.Add(1)
	heap.Push(&q.heap, req)
	q.mu.Unlock()
	q.cond.Signal()
	return nil
}

// PopHighest blocks until a Request is available, the queue is closed,
// or ctx is done. On close it returns a Shutdown error; callers should
// treat that as "stop pulling", not as a single request's failure.
func (q *PriorityQueue) PopHighest(ctx context.Context) (*Request, error) {
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-stopWatch:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.heap) > 0 {
			req := heap.Pop(&q.heap).(*Request)
			return req, nil
		}
		if q.closed {
			return nil, werrors.New(werrors.KindShutdown, "queue is closed")
		}
		if err := ctx.Err(); err != nil {
			return nil, werrors.Wrap(werrors.KindTimeout, "waiting for a request", err)
		}
		q.cond.Wait()
	}
}

// Len returns the current queue depth.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close marks the queue closed and wakes every blocked PopHighest
// caller; later Push calls fail with a Shutdown error. It does not
// itself resolve requests still in the queue — callers should follow
// Close with Drain to fail them.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Drain empties the queue, returning every Request still waiting so
// the caller (the executor, during shutdown) can resolve each with a
// Shutdown outcome.
func (q *PriorityQueue) Drain() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Request, len(q.heap))
	copy(out, q.heap)
	q.heap = q.heap[:0]
	return out
}

// Fail resolves req with err (for example a Shutdown error for
// requests returned by Drain).
func (r *Request) Fail(err error) {
	r.complete(nil, err)
}

// Complete resolves req with a successful value.
func (r *Request) Complete(value any) {
	r.complete(value, nil)
}
