package websocket

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of a bridged connection
type ErrorKind string

const (
	// KindEstablishment: credentials or backend unavailable at open time.
	KindEstablishment ErrorKind = "establishment"
	// KindLateFrame: frame for a connection without an active session.
	KindLateFrame ErrorKind = "late_frame"
	// KindBackendStream: send or receive failure on an open stream.
	KindBackendStream ErrorKind = "backend_stream"
	// KindTransport: the client went away without the sentinel.
	KindTransport ErrorKind = "transport"
	// KindMalformedFrame: a frame the bridge cannot forward.
	KindMalformedFrame ErrorKind = "malformed_frame"
)

// BridgeError is an error tied to one connection
type BridgeError struct {
	Kind         ErrorKind
	ConnectionID string
	Err          error
}

func newBridgeError(kind ErrorKind, connID string, err error) *BridgeError {
	return &BridgeError{Kind: kind, ConnectionID: connID, Err: err}
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s error on connection %s: %v", e.Kind, e.ConnectionID, e.Err)
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a BridgeError in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}
