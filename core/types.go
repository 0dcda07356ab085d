package core

import (
	"fmt"
	"time"
)

// MessageType tags a message for the dispatch table.
type MessageType uint8

// MessageTypes define various message categories similar to Skynet.
const (
	// MessageTypeText for plain text messages
	MessageTypeText MessageType = iota

	// MessageTypeResponse for reply messages
	MessageTypeResponse

	// MessageTypeRequest for request messages
	MessageTypeRequest

	// MessageTypeSystem for runtime control messages
	MessageTypeSystem

	// MessageTypeError for failed replies
	MessageTypeError

	// MessageTypeTimeout for timer-synthesized replies
	MessageTypeTimeout

	// MessageTypeClient for traffic injected by the gate
	MessageTypeClient
)

// String returns the string representation of MessageType.
func (t MessageType) String() string {
	switch t {
	case MessageTypeText:
		return "text"
	case MessageTypeResponse:
		return "response"
	case MessageTypeRequest:
		return "request"
	case MessageTypeSystem:
		return "system"
	case MessageTypeError:
		return "error"
	case MessageTypeTimeout:
		return "timeout"
	case MessageTypeClient:
		return "client"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// SessionID correlates a request with its reply. Bit 63 is the direction
// flag: clear for the send form, set for the reply form.
type SessionID uint64

// NoSession marks a fire-and-forget message.
const NoSession SessionID = 0

const replyFlag SessionID = 1 << 63

// ToReply returns the reply form of id.
func (id SessionID) ToReply() SessionID {
	return id | replyFlag
}

// ToSend returns the send form of id.
func (id SessionID) ToSend() SessionID {
	return id &^ replyFlag
}

// IsReply reports whether id carries the reply flag.
func (id SessionID) IsReply() bool {
	return id&replyFlag != 0
}

// String returns a readable form such as "42" or "42r".
func (id SessionID) String() string {
	if id.IsReply() {
		return fmt.Sprintf("%dr", uint64(id.ToSend()))
	}
	return fmt.Sprintf("%d", uint64(id))
}

// Message represents communication data between services.
type Message struct {
	// Type indicates the message category
	Type MessageType

	// Source is the handle of the sending service, zero for external producers
	Source Handle

	// Target is the handle of the receiving service
	Target Handle

	// Session is used for request-response correlation
	Session SessionID

	// Data contains the opaque payload
	Data []byte

	// Timestamp when the message was created
	Timestamp time.Time
}

// Status classifies the outcome of a Call.
type Status uint8

const (
	// StatusOK means the target replied
	StatusOK Status = iota

	// StatusUnreachable means the target handle was stale or removed
	StatusUnreachable

	// StatusTimeout means the call deadline fired first
	StatusTimeout

	// StatusFailed means the target handler returned an error
	StatusFailed
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnreachable:
		return "unreachable"
	case StatusTimeout:
		return "timeout"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reply is what a Call resumes with. Message is nil unless Status is
// StatusOK or StatusFailed.
type Reply struct {
	Status  Status
	Message *Message
}

// Data returns the reply payload, or nil.
func (r Reply) Data() []byte {
	if r.Message == nil {
		return nil
	}
	return r.Message.Data
}

// Err converts a non-OK reply into an error.
func (r Reply) Err() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusUnreachable:
		return ErrUnreachable
	case StatusTimeout:
		return ErrTimeout
	default:
		return &RemoteError{Message: string(r.Data())}
	}
}

// replyFromMessage classifies an inbound reply-form message.
func replyFromMessage(msg *Message) Reply {
	switch msg.Type {
	case MessageTypeTimeout:
		return Reply{Status: StatusTimeout}
	case MessageTypeError:
		if len(msg.Data) == 0 {
			return Reply{Status: StatusUnreachable}
		}
		return Reply{Status: StatusFailed, Message: msg}
	default:
		return Reply{Status: StatusOK, Message: msg}
	}
}

// ServiceStats contains runtime statistics for a service.
type ServiceStats struct {
	// Handle of the service
	Handle Handle

	// Name of the service
	Name string

	// Total messages dispatched
	MessagesProcessed uint64

	// Handler failures caught by the dispatcher
	Failures uint64

	// Messages currently queued
	MailboxSize int

	// Continuations currently parked
	PendingCalls int

	// Time when the service was created
	CreatedAt time.Time

	// Last message processing time
	LastMessageAt time.Time
}
