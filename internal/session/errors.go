package session

import (
	"errors"
	"fmt"
)

var (
	ErrPeerUnknown       = errors.New("no connection for peer")
	ErrMeshFull          = errors.New("mesh at participant capacity")
	ErrChannelNotOpen    = errors.New("signaling channel not open")
	ErrAlreadySharing    = errors.New("screen share already active")
	ErrNotSharing        = errors.New("screen share not active")
	ErrNoCaptureDevice   = errors.New("no capture device available")
	ErrSessionClosed     = errors.New("session closed")
	ErrNegotiationFailed = errors.New("negotiation failed")
)

// SessionError wraps a failed operation with enough context to log it.
// Peer-negotiation failures drop the one connection, never the session.
type SessionError struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *SessionError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s peer=%s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *SessionError {
	return &SessionError{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *SessionError {
	return &SessionError{Op: op, Peer: peer, Err: err}
}
