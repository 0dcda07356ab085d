package core

import (
	"time"
)

// request is the inbound message a handler invocation was started for.
type request struct {
	sys     *System
	svc     *service
	msg     *Message
	replied bool
}

// expectsReply reports whether the sender is waiting on this message.
func (r *request) expectsReply() bool {
	return r.msg.Session != NoSession && !r.msg.Session.IsReply()
}

// Self returns the handle of the service running the handler.
func (r *request) Self() Handle {
	return r.svc.handle
}

// Name returns the registered name of the service, or "".
func (r *request) Name() string {
	return r.svc.name
}

// System returns the runtime the service lives in.
func (r *request) System() *System {
	return r.sys
}

// Send delivers a one-way message from this service.
func (r *request) Send(to Handle, typ MessageType, data []byte) error {
	return r.sys.Send(r.svc.handle, to, typ, data)
}

// SendByName resolves name and delivers a one-way message.
func (r *request) SendByName(name string, typ MessageType, data []byte) error {
	to, ok := r.sys.ServiceByName(name)
	if !ok {
		return ErrUnreachable
	}
	return r.Send(to, typ, data)
}

// After schedules a message of the given type to this service.
func (r *request) After(d time.Duration, typ MessageType, data []byte) {
	r.sys.AddDelayedMessage(r.svc.handle, d, typ, data)
}

// Reply answers the current request now. Later results of the handler
// are not sent again.
func (r *request) Reply(data []byte) error {
	if !r.expectsReply() {
		return nil
	}
	if r.replied {
		return ErrAlreadyReplied
	}
	r.replied = true
	return r.sys.Reply(r.svc.handle, r.msg.Source, r.msg.Session, data)
}

// Responder detaches the obligation to answer the current request so it
// can be fulfilled later, typically while handling another message.
// It returns nil when the message expects no reply or was answered.
func (r *request) Responder() *Responder {
	if !r.expectsReply() || r.replied {
		return nil
	}
	r.replied = true
	return &Responder{
		sys:     r.sys,
		from:    r.svc.handle,
		to:      r.msg.Source,
		session: r.msg.Session,
	}
}

// Context is handed to direct-style handlers. It is valid only on the
// goroutine the handler was invoked on and only until the handler
// returns.
type Context struct {
	request
	co *coroutine
}

// Call sends a request to target and parks the handler until the reply,
// a timeout, or an unreachable result. timeout <= 0 waits indefinitely.
func (c *Context) Call(target Handle, typ MessageType, data []byte, timeout time.Duration) Reply {
	id, immediate, wait := c.sys.startCall(c.svc, target, typ, data, timeout)
	if !wait {
		return immediate
	}
	return c.co.suspend(id)
}

// CallByName resolves name and calls it.
func (c *Context) CallByName(name string, typ MessageType, data []byte, timeout time.Duration) Reply {
	target, ok := c.sys.ServiceByName(name)
	if !ok {
		return Reply{Status: StatusUnreachable}
	}
	return c.Call(target, typ, data, timeout)
}

// Sleep parks the handler for at least d without holding the worker.
func (c *Context) Sleep(d time.Duration) {
	c.co.suspend(c.sys.startSleep(c.svc, d))
}

// EffectContext is handed to effect-style handlers. Non-suspending
// operations are plain methods; suspending ones are effects (CallEff,
// SleepEff).
type EffectContext struct {
	request
}

// Responder answers a request after its handler has returned.
type Responder struct {
	sys     *System
	from    Handle
	to      Handle
	session SessionID
	done    bool
}

// Reply sends data as the answer. Only the first call has any effect.
func (r *Responder) Reply(data []byte) error {
	if r.done {
		return ErrAlreadyReplied
	}
	r.done = true
	return r.sys.Reply(r.from, r.to, r.session, data)
}

// Fail answers with an error reply.
func (r *Responder) Fail(err error) error {
	if r.done {
		return ErrAlreadyReplied
	}
	r.done = true
	return r.sys.replyError(r.from, r.to, r.session, err)
}
