package core

import (
	"code.hybscloud.com/kont"
)

// Handler processes one inbound message of a direct-style service.
//
// The returned data is sent back as the reply when the message was a
// request and the handler did not answer it through Context.Reply or a
// Responder. A non-nil error is logged and answered with an error reply.
// The handler may call Context.Call; the worker is released while the
// call is outstanding.
type Handler interface {
	HandleMessage(ctx *Context, msg *Message) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx *Context, msg *Message) ([]byte, error)

// HandleMessage calls f(ctx, msg).
func (f HandlerFunc) HandleMessage(ctx *Context, msg *Message) ([]byte, error) {
	return f(ctx, msg)
}

// EffectHandler processes one inbound message of an effect-style service.
// It returns a computation that may perform CallEff and SleepEff; the
// dispatcher steps it and parks it between effects.
type EffectHandler interface {
	HandleEffect(ctx *EffectContext, msg *Message) kont.Eff[Result]
}

// EffectHandlerFunc adapts a function to EffectHandler.
type EffectHandlerFunc func(ctx *EffectContext, msg *Message) kont.Eff[Result]

// HandleEffect calls f(ctx, msg).
func (f EffectHandlerFunc) HandleEffect(ctx *EffectContext, msg *Message) kont.Eff[Result] {
	return f(ctx, msg)
}

// Module is the init/exit pair a launched service is built around. The
// value returned by a ModuleFactory must also implement Handler or
// EffectHandler.
type Module interface {
	// Init runs once before the service receives messages. Messages sent
	// to self in the meantime are queued.
	Init(sys *System, self Handle, args []string) error

	// Exit runs once when the service is released.
	Exit(sys *System, self Handle)
}

// ModuleFactory creates a fresh module instance per launched service.
type ModuleFactory func() Module

// outcome is what a continuation reports back to the dispatcher after
// running: either parked on wait, or done with a result.
type outcome struct {
	wait SessionID
	done bool
	data []byte
	err  error
}

// continuation is a handler invocation in progress. It is owned by the
// mailbox of its service and driven only by the owning worker.
type continuation interface {
	// resume feeds r to the pending Call and runs until the next park or
	// completion.
	resume(r Reply) outcome

	// abandon drops the computation without resuming it. Direct-style
	// handlers unwind (their deferred code runs) before abandon returns.
	abandon()

	// origin returns the request that started the invocation.
	origin() *request
}
