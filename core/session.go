package core

import "code.hybscloud.com/atomix"

// SessionAllocator issues request session ids. One allocator belongs to
// one System; ids are never reused for the lifetime of that System.
type SessionAllocator struct {
	counter atomix.Uint64
}

// NextID returns the next id in send form. It never returns NoSession.
func (a *SessionAllocator) NextID() SessionID {
	return SessionID(a.counter.Add(1)).ToSend()
}
