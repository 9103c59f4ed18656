package client

import (
	"errors"

	"github.com/zeusync/worldlink/internal/core/protocol"
)

// World-specific errors
var (
	ErrWorldClosed   = errors.New("world is closed")
	ErrInvalidConfig = errors.New("invalid world configuration")
)

// Errors shared with the protocol layer, so callers can match them without importing it.
var (
	ErrTransport        = protocol.ErrTransport
	ErrTimeout          = protocol.ErrTimeout
	ErrProtocol         = protocol.ErrProtocol
	ErrRemote           = protocol.ErrRemote
	ErrPartialFailure   = protocol.ErrPartialFailure
	ErrInvalidTimeout   = protocol.ErrInvalidTimeout
	ErrInvalidCommand   = protocol.ErrInvalidCommand
	ErrFrameTooLarge    = protocol.ErrFrameTooLarge
	ErrConnectionClosed = protocol.ErrClosed
)

type (
	TransportError      = protocol.TransportError
	TimeoutError        = protocol.TimeoutError
	ProtocolError       = protocol.ProtocolError
	RemoteError         = protocol.RemoteError
	PartialFailureError = protocol.PartialFailureError
	ComponentFailure    = protocol.ComponentFailure
	ErrorCode           = protocol.ErrorCode
)

// IsNotFound reports whether err is the authority's answer for an unknown entity.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.IsNotFound()
}

// IsTemporary reports whether repeating the call might succeed. Repeating a Spawn after a
// timeout may create a second entity.
func IsTemporary(err error) bool { return protocol.IsTemporary(err) }
