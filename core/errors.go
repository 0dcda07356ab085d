package core

import (
	"errors"
	"fmt"
)

// Routing and call errors
var (
	ErrUnreachable = errors.New("target service unreachable")
	ErrTimeout     = errors.New("call timed out")
)

// Lifecycle errors
var (
	ErrSystemStopped  = errors.New("system is not running")
	ErrSystemStarted  = errors.New("system already started")
	ErrServiceExists  = errors.New("service name already registered")
	ErrUnknownModule  = errors.New("unknown module")
	ErrModuleExists   = errors.New("module already registered")
	ErrNilHandler     = errors.New("handler is nil")
	ErrNotHandler     = errors.New("module implements no handler interface")
	ErrUnhandledType  = errors.New("no handler for message type")
	ErrAlreadyReplied = errors.New("request already answered")
)

// RemoteError carries the failure text a target handler returned.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Message)
}

// panicError wraps a recovered handler panic.
type panicError struct {
	value interface{}
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}
