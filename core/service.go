package core

import (
	"fmt"
	"sync/atomic"
	"time"

	"code.hybscloud.com/atomix"
)

// service is one registered message handler with its mailbox.
type service struct {
	handle Handle
	name   string

	// Exactly one of handler and effect is set.
	handler Handler
	effect  EffectHandler
	module  Module

	mbox *mailbox

	createdAt     time.Time
	processed     atomix.Uint64
	failures      atomix.Uint64
	parked        atomic.Int64
	lastMessageAt atomic.Int64 // unix nanoseconds

	// released is set by whoever ran release; it is only read by that
	// same owner or by Shutdown after the workers have stopped.
	released bool
}

func newService(name string) *service {
	return &service{
		name:      name,
		mbox:      newMailbox(),
		createdAt: time.Now(),
	}
}

// bind picks the handler interface implemented by v.
func (svc *service) bind(v any) error {
	switch h := v.(type) {
	case EffectHandler:
		svc.effect = h
	case Handler:
		svc.handler = h
	default:
		return fmt.Errorf("%T: %w", v, ErrNotHandler)
	}
	return nil
}

func (svc *service) String() string {
	if svc.name == "" {
		return svc.handle.String()
	}
	return fmt.Sprintf("%s(%s)", svc.name, svc.handle)
}

func (svc *service) stats() ServiceStats {
	st := ServiceStats{
		Handle:            svc.handle,
		Name:              svc.name,
		MessagesProcessed: svc.processed.Load(),
		Failures:          svc.failures.Load(),
		MailboxSize:       svc.mbox.length(),
		PendingCalls:      int(svc.parked.Load()),
		CreatedAt:         svc.createdAt,
	}
	if ns := svc.lastMessageAt.Load(); ns != 0 {
		st.LastMessageAt = time.Unix(0, ns)
	}
	return st
}
