package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinels. Every typed error below matches one of these with errors.Is.
var (
	ErrTransport      = errors.New("transport failure")
	ErrTimeout        = errors.New("request timed out")
	ErrProtocol       = errors.New("protocol violation")
	ErrRemote         = errors.New("remote error")
	ErrPartialFailure = errors.New("partial failure")

	ErrClosed           = errors.New("connection is closed")
	ErrInvalidTimeout   = errors.New("invalid timeout")
	ErrDuplicateRequest = errors.New("duplicate request id")
	ErrFrameTooLarge    = errors.New("frame too large")
	ErrInvalidCommand   = errors.New("invalid command")
)

// ErrorCode is the machine-readable code carried in an error reply.
type ErrorCode string

const (
	CodeEntityNotFound   ErrorCode = "entity_not_found"
	CodeInvalidCommand   ErrorCode = "invalid_command"
	CodeUnknownCommand   ErrorCode = "unknown_command"
	CodeInvalidComponent ErrorCode = "invalid_component"
	CodePartialFailure   ErrorCode = "partial_failure"
	CodeNameInUse        ErrorCode = "name_in_use"
	CodeRateLimited      ErrorCode = "rate_limited"
	CodeInternal         ErrorCode = "internal"
)

// TransportError reports a local send/receive failure or a dead connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport " + e.Op + " failed"
	}
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// NewTransportError wraps err, keeping an existing TransportError as is.
func NewTransportError(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// TimeoutError reports that no matching reply arrived before the deadline.
type TimeoutError struct {
	RequestID uint64
	Kind      CommandKind
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %d (%s) timed out after %s", e.RequestID, e.Kind, e.After)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Timeout reports true so callers can treat it like a net.Error timeout.
func (e *TimeoutError) Timeout() bool { return true }

// ProtocolError reports a malformed or unexpected message.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol: " + e.Reason
	}
	return "protocol: " + e.Reason + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() []error { return []error{ErrProtocol, e.Err} }

// NewProtocolError builds a ProtocolError.
func NewProtocolError(reason string, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: err}
}

// RemoteError is an error reply from the authority.
type RemoteError struct {
	Code    ErrorCode
	Message string
	Entity  EntityRef
}

func (e *RemoteError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("remote %s (entity %s): %s", e.Code, e.Entity, e.Message)
	}
	return fmt.Sprintf("remote %s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error { return ErrRemote }

// IsNotFound reports whether the authority did not know the addressed entity.
func (e *RemoteError) IsNotFound() bool { return e.Code == CodeEntityNotFound }

// ComponentFailure describes one rejected component of a multi-component command.
type ComponentFailure struct {
	Index   int       `json:"index" msgpack:"index"`
	Type    string    `json:"type,omitempty" msgpack:"type,omitempty"`
	Code    ErrorCode `json:"code,omitempty" msgpack:"code,omitempty"`
	Message string    `json:"message" msgpack:"message"`
}

// PartialFailureError reports that the authority applied a command only in part. Entity is
// set when the entity itself was created or touched.
type PartialFailureError struct {
	Entity   EntityRef
	Message  string
	Failures []ComponentFailure
}

func (e *PartialFailureError) Error() string {
	var b strings.Builder
	b.WriteString("partial failure")
	if e.Entity != "" {
		b.WriteString(" on entity ")
		b.WriteString(string(e.Entity))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; component %d", f.Index)
		if f.Type != "" {
			fmt.Fprintf(&b, " (%s)", f.Type)
		}
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	return b.String()
}

func (e *PartialFailureError) Unwrap() []error { return []error{ErrPartialFailure, ErrRemote} }

// IsTemporary reports whether retrying the same call might succeed.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport)
}
