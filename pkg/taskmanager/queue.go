package taskmanager

import (
	"container/list"
	"context"
	"sync"

	"github.com/cuemby/fabric/pkg/types"
)

// fifoQueue is a single-writer/single-reader sub-task queue (spec §5:
// "enqueuer is the job ingest thread; reader is the dispatch worker").
// pop blocks on an empty queue until push or the context is canceled;
// the wake-up is a buffered signal channel rather than sync.Cond so it
// composes with ctx.Done() in a select.
type fifoQueue struct {
	mu     sync.Mutex
	items  *list.List
	notify chan struct{}
}

func newFIFOQueue() *fifoQueue {
	return &fifoQueue{
		items:  list.New(),
		notify: make(chan struct{}, 1),
	}
}

func (q *fifoQueue) push(st *types.SubTask) {
	q.mu.Lock()
	q.items.PushBack(st)
	q.mu.Unlock()
	q.wake()
}

// pushFront re-inserts st at the head, used on result-wait failure
// (spec §4.6 step 7) so a stalled sub-task is retried before anything
// enqueued after it.
func (q *fifoQueue) pushFront(st *types.SubTask) {
	q.mu.Lock()
	q.items.PushFront(st)
	q.mu.Unlock()
	q.wake()
}

func (q *fifoQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until a sub-task is available or ctx is done.
func (q *fifoQueue) pop(ctx context.Context) (*types.SubTask, bool) {
	for {
		if st, ok := q.tryPop(); ok {
			return st, true
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *fifoQueue) tryPop() (*types.SubTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.items.Front()
	if front == nil {
		return nil, false
	}
	q.items.Remove(front)
	return front.Value.(*types.SubTask), true
}

func (q *fifoQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
