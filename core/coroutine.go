package core

// coroutine runs one direct-style handler invocation on its own goroutine
// and passes control back and forth with the owning worker, so at most one
// side runs at any instant. The worker waits only while the handler runs;
// a parked handler costs a blocked goroutine, not a worker.
type coroutine struct {
	ctx      *Context
	resumeCh chan Reply
	yieldCh  chan outcome
	done     chan struct{}
	dead     bool
}

// abandonSignal unwinds a parked handler whose service was released.
type abandonSignal struct{}

// startCoroutine launches h for ctx and waits until it parks or finishes.
func startCoroutine(h Handler, ctx *Context) *coroutine {
	co := &coroutine{
		ctx:      ctx,
		resumeCh: make(chan Reply),
		yieldCh:  make(chan outcome),
		done:     make(chan struct{}),
	}
	ctx.co = co
	go co.run(h)
	return co
}

// run never yields once abandoned, even if the handler recovered the
// abandon signal and returned normally; nobody is receiving anymore.
func (co *coroutine) run(h Handler) {
	defer close(co.done)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(abandonSignal); ok || co.dead {
				return
			}
			co.yieldCh <- outcome{done: true, err: &panicError{value: r}}
		}
	}()

	data, err := h.HandleMessage(co.ctx, co.ctx.msg)
	if co.dead {
		return
	}
	co.yieldCh <- outcome{done: true, data: data, err: err}
}

// first returns the outcome of the initial run.
func (co *coroutine) first() outcome {
	return <-co.yieldCh
}

// suspend is called on the handler goroutine.
func (co *coroutine) suspend(id SessionID) Reply {
	if co.dead {
		panic(abandonSignal{})
	}
	co.yieldCh <- outcome{wait: id}
	r, ok := <-co.resumeCh
	if !ok {
		co.dead = true
		panic(abandonSignal{})
	}
	return r
}

func (co *coroutine) resume(r Reply) outcome {
	co.resumeCh <- r
	return <-co.yieldCh
}

// abandon unwinds the parked handler and waits until its goroutine has
// exited, so deferred handler code runs before the worker moves on.
func (co *coroutine) abandon() {
	close(co.resumeCh)
	<-co.done
}

func (co *coroutine) origin() *request {
	return &co.ctx.request
}
