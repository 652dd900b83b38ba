package crawler

import (
	"sync"

	"github.com/advanced-crawler/crawler/internal/storage"
)

// workQueue is the in-process frontier. Page ids that have ever been
// enqueued stay in the dedup set so two workers cannot admit the same page
// twice. Workers block on pop until an item arrives or the queue drains.
type workQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []storage.QueueItem
	queued map[int64]struct{}
	active int
	closed bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{queued: make(map[int64]struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues an item unless its page id was already enqueued.
func (q *workQueue) push(item storage.QueueItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.queued[item.PageID]; dup {
		return false
	}
	q.queued[item.PageID] = struct{}{}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// pop blocks until an item is available and marks the caller active. It
// returns false when the queue is drained (empty with no active worker) or
// closed, which is the worker's signal to exit.
func (q *workQueue) pop() (storage.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed || q.active == 0 {
			// Wake the other waiters so they observe the drain too.
			q.cond.Broadcast()
			return storage.QueueItem{}, false
		}
		q.cond.Wait()
	}

	if q.closed {
		q.cond.Broadcast()
		return storage.QueueItem{}, false
	}

	item := q.items[0]
	q.items = q.items[1:]
	q.active++
	return item, true
}

// done marks one item finished. The last active worker on an empty queue
// wakes everyone so the pool can terminate.
func (q *workQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.active--
	if q.active == 0 && len(q.items) == 0 {
		q.cond.Broadcast()
	}
}

// close stops the queue; blocked workers wake and exit after finishing
// their current item.
func (q *workQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

func (q *workQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
