package core

import (
	"fmt"
)

// Mux is a Handler that dispatches on the message type.
type Mux struct {
	handlers map[MessageType]HandlerFunc
	fallback HandlerFunc
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[MessageType]HandlerFunc)}
}

// Handle registers fn for typ, replacing any previous one.
func (m *Mux) Handle(typ MessageType, fn HandlerFunc) *Mux {
	m.handlers[typ] = fn
	return m
}

// Fallback registers fn for types with no handler of their own.
func (m *Mux) Fallback(fn HandlerFunc) *Mux {
	m.fallback = fn
	return m
}

func (m *Mux) HandleMessage(ctx *Context, msg *Message) ([]byte, error) {
	if fn, ok := m.handlers[msg.Type]; ok {
		return fn(ctx, msg)
	}
	if m.fallback != nil {
		return m.fallback(ctx, msg)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnhandledType, msg.Type)
}
