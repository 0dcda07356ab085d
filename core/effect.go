package core

import (
	"fmt"
	"time"

	"code.hybscloud.com/kont"
)

// Result is the final value of an effect-style handler.
type Result struct {
	Data []byte
	Err  error
}

// Done completes an effect handler with data as the reply payload.
func Done(data []byte) kont.Eff[Result] {
	return kont.Pure(Result{Data: data})
}

// Fail completes an effect handler with an error.
func Fail(err error) kont.Eff[Result] {
	return kont.Pure(Result{Err: err})
}

// callOp is the effect performed by CallEff.
type callOp struct {
	kont.Phantom[Reply]
	target  Handle
	typ     MessageType
	data    []byte
	timeout time.Duration
}

// sleepOp is the effect performed by SleepEff.
type sleepOp struct {
	kont.Phantom[Reply]
	d time.Duration
}

// CallEff sends a request to target and resumes with its Reply.
// timeout <= 0 waits indefinitely.
func CallEff(target Handle, typ MessageType, data []byte, timeout time.Duration) kont.Eff[Reply] {
	return kont.Perform(callOp{target: target, typ: typ, data: data, timeout: timeout})
}

// SleepEff resumes after at least d.
func SleepEff(d time.Duration) kont.Eff[Reply] {
	return kont.Perform(sleepOp{d: d})
}

// effectCont is a parked effect-style invocation: the suspension it is
// stopped at plus the request it serves.
type effectCont struct {
	ctx  *EffectContext
	susp *kont.Suspension[Result]
}

// startEffect reifies the handler computation and steps it to its first
// park or to completion.
func startEffect(h EffectHandler, ctx *EffectContext) (*effectCont, outcome) {
	c := &effectCont{ctx: ctx}
	result, susp := kont.StepExpr(kont.Reify(h.HandleEffect(ctx, ctx.msg)))
	return c, c.advance(result, susp)
}

// advance performs effects until one parks or the computation completes.
// Effects that can be answered at once (unreachable targets) are resumed
// in place.
func (c *effectCont) advance(result Result, susp *kont.Suspension[Result]) outcome {
	for susp != nil {
		switch op := susp.Op().(type) {
		case callOp:
			id, immediate, wait := c.ctx.sys.startCall(c.ctx.svc, op.target, op.typ, op.data, op.timeout)
			if !wait {
				result, susp = susp.Resume(immediate)
				continue
			}
			c.susp = susp
			return outcome{wait: id}
		case sleepOp:
			c.susp = susp
			return outcome{wait: c.ctx.sys.startSleep(c.ctx.svc, op.d)}
		default:
			susp.Discard()
			return outcome{done: true, err: fmt.Errorf("unhandled effect %T", op)}
		}
	}
	return outcome{done: true, data: result.Data, err: result.Err}
}

func (c *effectCont) resume(r Reply) outcome {
	susp := c.susp
	c.susp = nil
	result, next := susp.Resume(r)
	return c.advance(result, next)
}

func (c *effectCont) abandon() {
	if c.susp != nil {
		c.susp.Discard()
		c.susp = nil
	}
}

func (c *effectCont) origin() *request {
	return &c.ctx.request
}
