package client

import (
	"errors"
	"fmt"

	"github.com/agenthands/loom/internal/response"
)

// ErrBadMode is returned by New when the mode is neither Sync nor Async.
var ErrBadMode = errors.New(`mode must be "sync" or "async"`)

// ErrMissingCounterpart marks a source node that has no entry in a
// duplication run's correspondence table. It means the table was consulted
// for a node the recreation phase never produced, which is a defect, not a
// condition to skip over.
var ErrMissingCounterpart = errors.New("no counterpart in the target model")

// TransportError wraps a dispatch that produced no usable reply: the call
// itself failed, or the service answered with neither a message type nor a
// message. Classification routes these to the manager_error channel only.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return "transport failure: reply carries neither message type nor message"
	}
	return fmt.Sprintf("transport failure: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ProtocolMismatchError marks a well-formed reply whose message type or
// signal is outside the vocabulary this client understands: the client and
// service have drifted out of version compatibility.
type ProtocolMismatchError struct {
	MessageType response.MessageType
	Signal      response.Signal
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("protocol mismatch: reply with message type %q and signal %q is outside the known vocabulary", e.MessageType, e.Signal)
}

// ServiceError marks a reply the service answered with an error or warning
// envelope where the caller needed success. The channels have already fired
// by the time one of these is produced.
type ServiceError struct {
	MessageType response.MessageType
	Message     string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service replied %s: %s", e.MessageType, e.Message)
}
