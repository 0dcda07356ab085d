package core

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// delayTask is a message waiting in the timer heap.
type delayTask struct {
	expiry time.Time
	seq    uint64
	msg    *Message
}

// taskHeap orders tasks by expiry; equal expiries keep insertion order.
type taskHeap []*delayTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].expiry.Equal(h[j].expiry) {
		return h[i].seq < h[j].seq
	}
	return h[i].expiry.Before(h[j].expiry)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*delayTask)) }

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}

// DelayTimer delivers messages once their delay has elapsed.
//
// AddTask may be called from any goroutine. New tasks go to a pending
// list guarded by mu; the timer goroutine merges them into its heap on
// every Tick, so the heap itself is never shared.
type DelayTimer struct {
	mu   sync.Mutex
	adds []*delayTask
	next time.Time
	seq  uint64
	wake chan struct{}

	pending atomic.Int64

	heap       taskHeap
	deliver    func(*Message)
	now        func() time.Time
	resolution time.Duration
}

// NewDelayTimer creates a timer handing expired messages to deliver.
// resolution is the shortest sleep the timer goroutine takes between
// ticks; zero means as precise as the scheduler allows.
func NewDelayTimer(deliver func(*Message), resolution time.Duration) *DelayTimer {
	return &DelayTimer{
		wake:       make(chan struct{}, 1),
		deliver:    deliver,
		now:        time.Now,
		resolution: resolution,
	}
}

// AddTask schedules msg for target after delay. Non-positive delays fire
// on the next tick.
func (t *DelayTimer) AddTask(target Handle, delay time.Duration, msg *Message) {
	if delay < 0 {
		delay = 0
	}
	msg.Target = target

	t.mu.Lock()
	t.seq++
	task := &delayTask{expiry: t.now().Add(delay), seq: t.seq, msg: msg}
	t.adds = append(t.adds, task)
	t.pending.Add(1)
	earlier := t.next.IsZero() || task.expiry.Before(t.next)
	if earlier {
		t.next = task.expiry
	}
	t.mu.Unlock()

	if earlier {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}

// Tick merges pending tasks, delivers every expired one in expiry order,
// and returns how long until the next expiry. A negative result means the
// heap is empty. Tick must only be called from one goroutine.
func (t *DelayTimer) Tick() time.Duration {
	t.mu.Lock()
	adds := t.adds
	t.adds = nil
	t.mu.Unlock()

	for _, task := range adds {
		heap.Push(&t.heap, task)
	}

	now := t.now()
	for len(t.heap) > 0 && !t.heap[0].expiry.After(now) {
		task := heap.Pop(&t.heap).(*delayTask)
		t.deliver(task.msg)
		t.pending.Add(-1)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Tasks added while delivering compared themselves against a stale
	// minimum, so take another pass right away.
	if len(t.adds) > 0 {
		return 0
	}
	if len(t.heap) == 0 {
		t.next = time.Time{}
		return -1
	}
	t.next = t.heap[0].expiry
	return t.next.Sub(now)
}

// Len returns the number of tasks not yet delivered.
func (t *DelayTimer) Len() int {
	return int(t.pending.Load())
}

// Run ticks until ctx is done, sleeping until the earliest expiry or
// until AddTask brings in an earlier one.
func (t *DelayTimer) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		wait := t.Tick()
		if wait == 0 {
			continue
		}

		var expired <-chan time.Time
		if wait > 0 {
			if wait < t.resolution {
				wait = t.resolution
			}
			timer.Reset(wait)
			expired = timer.C
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.wake:
		case <-expired:
		}
		timer.Stop()
	}
}
