package core

import (
	"sync"

	"github.com/eapache/queue"
)

// runQueue is the FIFO of services eligible for a worker. A service is
// present at most once because it is only pushed on the enqueued 0→1
// transition of its mailbox, or re-pushed by the worker that owns it.
type runQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  *queue.Queue
	closed bool
}

func newRunQueue() *runQueue {
	rq := &runQueue{queue: queue.New()}
	rq.cond = sync.NewCond(&rq.mu)
	return rq
}

func (rq *runQueue) push(svc *service) {
	rq.mu.Lock()
	rq.queue.Add(svc)
	rq.mu.Unlock()
	rq.cond.Signal()
}

// pop blocks until a service is runnable. It returns false once the queue
// is closed; services still queued at that point are left for release.
func (rq *runQueue) pop() (*service, bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	for rq.queue.Length() == 0 && !rq.closed {
		rq.cond.Wait()
	}
	if rq.closed {
		return nil, false
	}
	return rq.queue.Remove().(*service), true
}

// close wakes every blocked worker.
func (rq *runQueue) close() {
	rq.mu.Lock()
	rq.closed = true
	rq.mu.Unlock()
	rq.cond.Broadcast()
}

// drain removes every service left behind after close.
func (rq *runQueue) drain() []*service {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	svcs := make([]*service, 0, rq.queue.Length())
	for rq.queue.Length() > 0 {
		svcs = append(svcs, rq.queue.Remove().(*service))
	}
	return svcs
}

func (rq *runQueue) length() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.queue.Length()
}
