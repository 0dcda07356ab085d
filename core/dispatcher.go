package core

import (
	"time"
)

// work is the loop of one worker goroutine.
func (s *System) work(id int) error {
	buf := make([]*Message, 0, s.opts.Batch)
	for {
		svc, ok := s.runq.pop()
		if !ok {
			log.Debugf("worker %d exiting", id)
			return nil
		}
		s.runService(svc, buf[:0])
	}
}

// runService gives one pass to svc, which the caller owns until it is
// re-pushed or its enqueued flag is cleared.
func (s *System) runService(svc *service, buf []*Message) {
	if svc.mbox.isClosed() {
		s.release(svc)
		return
	}
	for _, msg := range svc.mbox.drain(s.opts.Batch, buf) {
		s.dispatch(svc, msg)
	}
	if svc.mbox.finishPass() {
		s.runq.push(svc)
	}
}

// dispatch routes one message: replies resume the continuation parked on
// their session, everything else starts a new handler invocation.
func (s *System) dispatch(svc *service, msg *Message) {
	svc.processed.Add(1)
	svc.lastMessageAt.Store(time.Now().UnixNano())

	if msg.Session.IsReply() {
		cont, ok := svc.mbox.takeWait(msg.Session.ToSend())
		if !ok {
			log.Debugf("service %s dropped %s reply %s from %s", svc, msg.Type, msg.Session, msg.Source)
			return
		}
		svc.parked.Add(-1)
		r := replyFromMessage(msg)
		s.settle(svc, cont, protect(func() outcome {
			return cont.resume(r)
		}))
		return
	}

	req := request{sys: s, svc: svc, msg: msg}
	if svc.effect != nil {
		ctx := &EffectContext{request: req}
		var cont *effectCont
		out := protect(func() outcome {
			var out outcome
			cont, out = startEffect(svc.effect, ctx)
			return out
		})
		if cont == nil {
			cont = &effectCont{ctx: ctx}
		}
		s.settle(svc, cont, out)
		return
	}

	ctx := &Context{request: req}
	co := startCoroutine(svc.handler, ctx)
	s.settle(svc, co, co.first())
}

// protect runs f and turns a panic into a failed outcome.
func protect(f func() outcome) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{done: true, err: &panicError{value: r}}
		}
	}()
	return f()
}

// settle parks cont or completes its request.
func (s *System) settle(svc *service, cont continuation, out outcome) {
	if !out.done {
		svc.mbox.registerWait(out.wait, cont)
		svc.parked.Add(1)
		return
	}

	req := cont.origin()
	if out.err != nil {
		svc.failures.Add(1)
		log.Errorf("service %s failed on %s from %s: %s", svc, req.msg.Type, req.msg.Source, out.err.Error())
		if req.expectsReply() && !req.replied {
			req.replied = true
			_ = s.replyError(svc.handle, req.msg.Source, req.msg.Session, out.err)
		}
		return
	}
	if req.expectsReply() && !req.replied {
		req.replied = true
		_ = s.Reply(svc.handle, req.msg.Source, req.msg.Session, out.data)
	}
}

// release tears svc down once: queued requests and parked invocations
// are answered as unreachable, then the module's Exit runs. The caller
// must own svc.
func (s *System) release(svc *service) {
	if svc.released {
		return
	}
	svc.released = true

	for _, msg := range svc.mbox.takeAll() {
		if msg.Session != NoSession && !msg.Session.IsReply() {
			_ = s.replyError(svc.handle, msg.Source, msg.Session, nil)
		}
	}
	for _, cont := range svc.mbox.takeAllWaits() {
		cont.abandon()
		if req := cont.origin(); req.expectsReply() && !req.replied {
			req.replied = true
			_ = s.replyError(svc.handle, req.msg.Source, req.msg.Session, nil)
		}
	}
	svc.parked.Store(0)

	if svc.module != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("service %s exit panicked: %v", svc, r)
				}
			}()
			svc.module.Exit(s, svc.handle)
		}()
	}
	log.Debugf("service %s released", svc)
}
