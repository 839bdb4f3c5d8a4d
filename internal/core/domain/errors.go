package domain

import "github.com/pkg/errors"

var (
	// ErrNotConnected is returned by the bus when no connection is established.
	ErrNotConnected = errors.New("signaling bus not connected")

	// ErrCallInProgress is a protocol error: a second dial for a room that is
	// still Dialing or Ringing.
	ErrCallInProgress = errors.New("call already in progress for room")

	// ErrCallEnded is returned when the attempt was hung up before it rang.
	ErrCallEnded = errors.New("call already ended")

	ErrTokenIssuance      = errors.New("token issuance failed")
	ErrInvalidToken       = errors.New("invalid bearer token")
	ErrStreamNotFound     = errors.New("stream not found")
	ErrInvalidTransition  = errors.New("invalid stream state transition")
	ErrUnknownDestination = errors.New("unknown publish destination")
	ErrForbidden          = errors.New("identity does not match payload")
	ErrEmptyTopic         = errors.New("envelope topic cannot be empty")
)
