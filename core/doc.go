// Package core implements the message dispatch runtime of SNGO.
//
// A System holds services addressed by generation-checked Handles. Each
// service has a mailbox; a fixed pool of workers takes runnable services
// from a shared run queue, and a service is processed by at most one
// worker at a time. Requests carry a session id, and the reply comes back
// with the same id in reply form (bit 63 set).
//
// Handlers come in two styles. A direct-style Handler calls Context.Call
// and Context.Sleep as ordinary blocking functions; the invocation runs
// on its own goroutine and the worker is released while it is parked. An
// effect-style EffectHandler returns a kont computation that performs
// CallEff and SleepEff; the dispatcher steps it and keeps the suspension
// between replies. In both styles the parked state lives in the mailbox,
// keyed by session.
//
// Delayed messages, call timeouts and sleeps are driven by a DelayTimer.
package core
