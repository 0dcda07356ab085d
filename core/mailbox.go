package core

import (
	"sync"

	"github.com/eapache/queue"
)

// mailbox is the inbound FIFO of one service plus the table of
// continuations parked on a Call.
//
// The queue and the enqueued flag are guarded by mu. The waits table is
// touched only by the worker currently owning the service, so it has no
// lock of its own.
type mailbox struct {
	mu       sync.Mutex
	queue    *queue.Queue
	enqueued bool
	closed   bool

	waits map[SessionID]continuation
}

func newMailbox() *mailbox {
	return &mailbox{
		queue: queue.New(),
		waits: make(map[SessionID]continuation),
	}
}

// push appends msg. schedule is true exactly when the caller flipped the
// enqueued flag and must hand the service to the run queue. ok is false
// if the mailbox no longer accepts messages.
func (m *mailbox) push(msg *Message) (schedule, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, false
	}
	m.queue.Add(msg)
	if m.enqueued {
		return false, true
	}
	m.enqueued = true
	return true, true
}

// drain pops up to batch messages into buf.
func (m *mailbox) drain(batch int, buf []*Message) []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < batch && m.queue.Length() > 0; i++ {
		buf = append(buf, m.queue.Remove().(*Message))
	}
	return buf
}

// finishPass ends a drain pass. If messages arrived while the pass ran,
// or the mailbox was closed meanwhile, the flag stays set and the service
// must be rescheduled; otherwise the flag is cleared. Both decisions are
// made under the same lock as push, so a concurrent push either sees the
// flag set or schedules itself.
func (m *mailbox) finishPass() (reschedule bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.Length() > 0 || m.closed {
		return true
	}
	m.enqueued = false
	return false
}

// hold marks the mailbox enqueued without scheduling it, so pushes queue
// up until finishPass releases it.
func (m *mailbox) hold() {
	m.mu.Lock()
	m.enqueued = true
	m.mu.Unlock()
}

// close stops accepting messages. schedule reports whether the caller must hand the service to the run
// queue so its owner can release it.
func (m *mailbox) close() (schedule bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.enqueued {
		return false
	}
	m.enqueued = true
	return true
}

// takeAll empties the queue.
func (m *mailbox) takeAll() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]*Message, 0, m.queue.Length())
	for m.queue.Length() > 0 {
		msgs = append(msgs, m.queue.Remove().(*Message))
	}
	return msgs
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mailbox) length() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Length()
}

func (m *mailbox) registerWait(id SessionID, c continuation) {
	m.waits[id] = c
}

func (m *mailbox) takeWait(id SessionID) (continuation, bool) {
	c, ok := m.waits[id]
	if ok {
		delete(m.waits, id)
	}
	return c, ok
}

// takeAllWaits empties the continuation table.
func (m *mailbox) takeAllWaits() []continuation {
	conts := make([]continuation, 0, len(m.waits))
	for id, c := range m.waits {
		conts = append(conts, c)
		delete(m.waits, id)
	}
	return conts
}
