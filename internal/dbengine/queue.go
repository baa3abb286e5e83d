package dbengine

import (
	"container/list"
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// opThunk is the unit of work the queue serializes: a closure returning a
// boxed result. Engine callers box their typed result into `any` and
// unbox it after enqueue returns.
type opThunk func(ctx context.Context) (any, error)

type opResult struct {
	val any
	err error
}

type queueItem struct {
	id            int64
	correlationID string
	thunk         opThunk
	resultCh      chan opResult
	enqueuedAt    time.Time
	removed       bool
}

// opQueue is a FIFO of pending write operations served by a single consumer
// goroutine. The consumer starts lazily on first enqueue and exits once the
// queue drains, restarting on the next enqueue — there is no permanently
// running background goroutine.
type opQueue struct {
	mu      sync.Mutex
	pending *list.List // of *queueItem
	started bool
	nextID  int64
}

func newOpQueue() *opQueue {
	return &opQueue{pending: list.New()}
}

// enqueue pushes thunk onto the queue and blocks until it completes, times
// out while waiting for its turn, or the caller's context is cancelled. If
// thunk is not started within timeout, it is removed from the queue and
// never invoked; the caller receives a *TimeoutError{operation: "queue"}.
func (q *opQueue) enqueue(ctx context.Context, timeout time.Duration, thunk opThunk) (any, error) {
	item := &queueItem{
		correlationID: uuid.NewString(),
		thunk:         thunk,
		resultCh:      make(chan opResult, 1),
		enqueuedAt:    time.Now(),
	}

	q.mu.Lock()
	q.nextID++
	item.id = q.nextID
	elem := q.pending.PushBack(item)
	if !q.started {
		q.started = true
		go q.run()
	}
	q.mu.Unlock()

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-item.resultCh:
		return r.val, r.err
	case <-timer.C:
		q.mu.Lock()
		if item.removed {
			// The consumer already took this item: it was admitted in time,
			// so wait for its result instead of reporting a queue timeout.
			q.mu.Unlock()
			select {
			case r := <-item.resultCh:
				return r.val, r.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		q.pending.Remove(elem)
		item.removed = true
		q.mu.Unlock()
		log.Printf("dbengine: queue item %s timed out after %s waiting for admission", item.correlationID, timeout)
		return nil, &TimeoutError{Operation: "queue", Elapsed: timeout}
	case <-ctx.Done():
		q.mu.Lock()
		if !item.removed {
			q.pending.Remove(elem)
			item.removed = true
		}
		q.mu.Unlock()
		return nil, ctx.Err()
	}
}

// run drains the queue serially: pop the head, run its thunk to completion,
// hand back the result, repeat. It exits once the queue is empty and is
// restarted by the next enqueue.
func (q *opQueue) run() {
	for {
		q.mu.Lock()
		elem := q.pending.Front()
		if elem == nil {
			q.started = false
			q.mu.Unlock()
			return
		}
		item := elem.Value.(*queueItem)
		q.pending.Remove(elem)
		item.removed = true
		q.mu.Unlock()

		val, err := item.thunk(context.Background())
		select {
		case item.resultCh <- opResult{val, err}:
		default:
			// Caller already gave up (timeout/ctx done); nothing to deliver to.
		}
	}
}

// clear cancels every pending item with ErrQueueCleared and resets the
// queue to empty. Items already handed to the consumer (in flight) are
// unaffected; they complete normally.
func (q *opQueue) clear() {
	q.mu.Lock()
	var items []*queueItem
	for e := q.pending.Front(); e != nil; e = e.Next() {
		items = append(items, e.Value.(*queueItem))
	}
	q.pending.Init()
	q.mu.Unlock()

	for _, it := range items {
		log.Printf("dbengine: queue item %s aborted by clear()", it.correlationID)
		select {
		case it.resultCh <- opResult{nil, ErrQueueCleared}:
		default:
		}
	}
}

// queueStats reports the number of items waiting admission and the age of
// the oldest of them, in milliseconds.
type queueStats struct {
	Pending     int
	OldestAgeMs int64
}

func (q *opQueue) stats() queueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := queueStats{Pending: q.pending.Len()}
	if front := q.pending.Front(); front != nil {
		item := front.Value.(*queueItem)
		st.OldestAgeMs = time.Since(item.enqueuedAt).Milliseconds()
	}
	return st
}
