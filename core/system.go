package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options configures a System.
type Options struct {
	// Workers is the number of goroutines draining the run queue.
	Workers int

	// Batch is the maximum number of messages a worker takes from one
	// mailbox before yielding the service back to the run queue.
	Batch int

	// TimerResolution is the shortest sleep of the timer goroutine.
	TimerResolution time.Duration

	// Modules resolves the names passed to Launch.
	Modules *ModuleRegistry
}

// DefaultOptions returns the options used when fields are left zero.
func DefaultOptions() Options {
	return Options{
		Workers:         4,
		Batch:           16,
		TimerResolution: time.Millisecond,
	}
}

const (
	stateCreated int32 = iota
	stateRunning
	stateStopped
)

// System owns the service registry, the run queue with its workers, the
// session allocator and the delay timer.
type System struct {
	opts     Options
	registry *registry
	runq     *runQueue
	sessions SessionAllocator
	timer    *DelayTimer
	modules  *ModuleRegistry

	// external holds the reply channels of System.Call callers that are
	// not services.
	external sync.Map // SessionID -> chan *Message

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
}

// New creates a stopped System.
func New(opts Options) *System {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.Batch <= 0 {
		opts.Batch = def.Batch
	}
	if opts.TimerResolution < 0 {
		opts.TimerResolution = 0
	}
	if opts.Modules == nil {
		opts.Modules = NewModuleRegistry()
	}

	s := &System{
		opts:     opts,
		registry: newRegistry(),
		runq:     newRunQueue(),
		modules:  opts.Modules,
		done:     make(chan struct{}),
	}
	s.timer = NewDelayTimer(func(msg *Message) {
		_ = s.deliver(msg)
	}, opts.TimerResolution)
	return s
}

// Start launches the worker pool and the timer goroutine. Services may be
// created and messaged before Start; their messages wait in the mailboxes.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Load() {
	case stateRunning:
		return ErrSystemStarted
	case stateStopped:
		return ErrSystemStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Workers; i++ {
		id := i
		g.Go(func() error {
			return s.work(id)
		})
	}
	g.Go(func() error {
		return s.timer.Run(gctx)
	})
	s.group = g
	s.state.Store(stateRunning)

	log.Infof("system started: %d workers, batch %d", s.opts.Workers, s.opts.Batch)
	return nil
}

// Shutdown stops the workers and the timer, then releases every service.
// Parked calls are abandoned and outstanding external calls resolve as
// unreachable. If ctx expires first, Shutdown returns its error and the
// release happens when the workers finish.
//
// Shutdown waits for every worker, including one running the caller, so
// calling it from inside a handler blocks until ctx ends. Handlers that
// need to stop the system should call it from a new goroutine.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.Swap(stateStopped)
	if prev == stateStopped {
		return nil
	}
	close(s.done)
	s.runq.close()

	finished := make(chan error, 1)
	go func() {
		var err error
		if s.group != nil {
			s.cancel()
			err = s.group.Wait()
		}
		s.releaseAll()
		finished <- err
	}()

	select {
	case err := <-finished:
		log.Infof("system stopped")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// releaseAll runs after every worker has exited.
func (s *System) releaseAll() {
	for _, svc := range s.runq.drain() {
		s.release(svc)
	}
	for _, svc := range s.registry.list() {
		s.registry.remove(svc.handle)
		svc.mbox.close()
		s.release(svc)
	}
}

// Running reports whether Start succeeded and Shutdown has not been called.
func (s *System) Running() bool {
	return s.state.Load() == stateRunning
}

// NewService registers a direct-style service. An empty name registers an
// anonymous service reachable only by handle.
func (s *System) NewService(name string, h Handler) (Handle, error) {
	if h == nil {
		return NoHandle, ErrNilHandler
	}
	svc := newService(name)
	svc.handler = h
	return s.register(svc)
}

// NewEffectService registers an effect-style service.
func (s *System) NewEffectService(name string, h EffectHandler) (Handle, error) {
	if h == nil {
		return NoHandle, ErrNilHandler
	}
	svc := newService(name)
	svc.effect = h
	return s.register(svc)
}

func (s *System) register(svc *service) (Handle, error) {
	if s.state.Load() == stateStopped {
		return NoHandle, ErrSystemStopped
	}
	h, err := s.registry.insert(svc)
	if err != nil {
		return NoHandle, err
	}
	log.Debugf("service %s registered", svc)
	return h, nil
}

// Launch creates a service from a registered module. Init runs before
// Launch returns; messages that reach the service during Init are queued
// and dispatched afterwards. If Init fails the service is removed and
// the error returned.
func (s *System) Launch(module, name string, args []string) (Handle, error) {
	factory, ok := s.modules.Lookup(module)
	if !ok {
		return NoHandle, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	m := factory()
	if m == nil {
		return NoHandle, fmt.Errorf("module %s: %w", module, ErrNilHandler)
	}

	svc := newService(name)
	if err := svc.bind(m); err != nil {
		return NoHandle, fmt.Errorf("module %s: %w", module, err)
	}
	svc.module = m
	svc.mbox.hold()

	h, err := s.register(svc)
	if err != nil {
		return NoHandle, err
	}

	if err := initModule(s, svc, args); err != nil {
		s.registry.remove(h)
		svc.mbox.close()
		svc.module = nil
		s.release(svc)
		log.Errorf("launch %s as %s failed: %s", module, svc, err.Error())
		return NoHandle, fmt.Errorf("init %s: %w", module, err)
	}

	if svc.mbox.finishPass() {
		s.runq.push(svc)
	}
	log.Infof("launched %s as %s", module, svc)
	return h, nil
}

func initModule(s *System, svc *service, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return svc.module.Init(s, svc.handle, args)
}

// RemoveService makes h stale at once. Its queued messages and parked
// calls are dropped by the worker that releases it; pending requesters
// receive unreachable replies.
func (s *System) RemoveService(h Handle) error {
	svc, ok := s.registry.remove(h)
	if !ok {
		return ErrUnreachable
	}
	if svc.mbox.close() {
		s.runq.push(svc)
	}
	log.Debugf("service %s removed", svc)
	return nil
}

// ServiceByName resolves a registered name.
func (s *System) ServiceByName(name string) (Handle, bool) {
	return s.registry.lookupName(name)
}

// Alive reports whether h still names a live service.
func (s *System) Alive(h Handle) bool {
	_, ok := s.registry.resolve(h)
	return ok
}

// Services lists the live handles in slot order.
func (s *System) Services() []Handle {
	svcs := s.registry.list()
	handles := make([]Handle, len(svcs))
	for i, svc := range svcs {
		handles[i] = svc.handle
	}
	return handles
}

// Stats returns a snapshot per live service.
func (s *System) Stats() []ServiceStats {
	svcs := s.registry.list()
	stats := make([]ServiceStats, len(svcs))
	for i, svc := range svcs {
		stats[i] = svc.stats()
	}
	return stats
}

// PendingTimers returns the number of delayed messages not yet delivered.
func (s *System) PendingTimers() int {
	return s.timer.Len()
}

// Send delivers a one-way message. from may be NoHandle. Sending to a
// stale handle returns ErrUnreachable and has no other effect.
func (s *System) Send(from, to Handle, typ MessageType, data []byte) error {
	return s.send(from, to, typ, NoSession, data)
}

// SendByName resolves name and delivers a one-way message.
func (s *System) SendByName(from Handle, name string, typ MessageType, data []byte) error {
	to, ok := s.ServiceByName(name)
	if !ok {
		return ErrUnreachable
	}
	return s.Send(from, to, typ, data)
}

func (s *System) send(from, to Handle, typ MessageType, session SessionID, data []byte) error {
	if s.state.Load() == stateStopped {
		return ErrSystemStopped
	}
	return s.deliver(&Message{
		Type:      typ,
		Source:    from,
		Target:    to,
		Session:   session,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// deliver pushes msg into the target mailbox, scheduling the target on
// the enqueued transition. Replies addressed to NoHandle go to external
// callers.
func (s *System) deliver(msg *Message) error {
	if msg.Target == NoHandle {
		if msg.Session.IsReply() {
			s.deliverExternal(msg)
			return nil
		}
		return ErrUnreachable
	}
	svc, ok := s.registry.resolve(msg.Target)
	if !ok {
		return ErrUnreachable
	}
	schedule, ok := svc.mbox.push(msg)
	if !ok {
		return ErrUnreachable
	}
	if schedule {
		s.runq.push(svc)
	}
	return nil
}

func (s *System) deliverExternal(msg *Message) {
	v, ok := s.external.LoadAndDelete(msg.Session.ToSend())
	if !ok {
		log.Debugf("dropped reply %s with no external caller", msg.Session)
		return
	}
	v.(chan *Message) <- msg
}

// Call sends a request from outside any service and blocks until the
// reply. A ctx that ends first yields StatusTimeout; Shutdown yields
// StatusUnreachable.
//
// Handlers must use Context.Call or CallEff instead: System.Call blocks
// the calling goroutine, so from inside a handler it holds a worker for
// the whole round trip.
func (s *System) Call(ctx context.Context, to Handle, typ MessageType, data []byte) Reply {
	id := s.sessions.NextID()
	ch := make(chan *Message, 1)
	s.external.Store(id, ch)
	defer s.external.Delete(id)

	if err := s.send(NoHandle, to, typ, id, data); err != nil {
		return Reply{Status: StatusUnreachable}
	}

	select {
	case msg := <-ch:
		return replyFromMessage(msg)
	case <-ctx.Done():
		return Reply{Status: StatusTimeout}
	case <-s.done:
		return Reply{Status: StatusUnreachable}
	}
}

// CallByName resolves name and calls it from outside any service.
func (s *System) CallByName(ctx context.Context, name string, typ MessageType, data []byte) Reply {
	to, ok := s.ServiceByName(name)
	if !ok {
		return Reply{Status: StatusUnreachable}
	}
	return s.Call(ctx, to, typ, data)
}

// Reply answers session on behalf of from. A NoSession session is
// ignored.
func (s *System) Reply(from, to Handle, session SessionID, data []byte) error {
	if session == NoSession {
		return nil
	}
	return s.send(from, to, MessageTypeResponse, session.ToReply(), data)
}

// replyError answers with an error reply. A nil err is read by the
// caller as unreachable.
func (s *System) replyError(from, to Handle, session SessionID, err error) error {
	if session == NoSession {
		return nil
	}
	var data []byte
	if err != nil {
		text := err.Error()
		if text == "" {
			text = "error"
		}
		data = []byte(text)
	}
	return s.send(from, to, MessageTypeError, session.ToReply(), data)
}

// AddDelayedMessage delivers a one-way message of typ to target after d.
func (s *System) AddDelayedMessage(target Handle, d time.Duration, typ MessageType, data []byte) {
	s.timer.AddTask(target, d, &Message{
		Type:      typ,
		Target:    target,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// startCall sends a request from svc. wait is false when the target is
// unreachable, in which case immediate holds the result.
func (s *System) startCall(svc *service, target Handle, typ MessageType, data []byte, timeout time.Duration) (SessionID, Reply, bool) {
	id := s.sessions.NextID()
	if err := s.send(svc.handle, target, typ, id, data); err != nil {
		return NoSession, Reply{Status: StatusUnreachable}, false
	}
	if timeout > 0 {
		s.timer.AddTask(svc.handle, timeout, &Message{
			Type:    MessageTypeTimeout,
			Source:  target,
			Session: id.ToReply(),
		})
	}
	return id, Reply{}, true
}

// startSleep arranges a wake-up reply for svc after d.
func (s *System) startSleep(svc *service, d time.Duration) SessionID {
	id := s.sessions.NextID()
	s.timer.AddTask(svc.handle, d, &Message{
		Type:    MessageTypeTimeout,
		Source:  svc.handle,
		Session: id.ToReply(),
	})
	return id
}
