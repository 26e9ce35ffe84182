package gateway

import (
	"errors"
	"fmt"
)

// ErrReconnectExhausted is returned by Manager.Run when the reconnect policy
// gives up.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ErrFatalClose is returned by Manager.Run when the gateway closes with a
// code that reconnecting cannot fix, such as failed authentication.
var ErrFatalClose = errors.New("gateway closed with a fatal code")

// ErrHandshakeRejected marks a refusal of an Identify or Resume handshake.
var ErrHandshakeRejected = errors.New("handshake rejected")

// maxFrameExcerpt bounds how much of an undecodable frame is kept for logs.
const maxFrameExcerpt = 128

// DecodeError reports an inbound frame that is not a well-formed envelope.
// The frame is dropped; the connection is unaffected.
type DecodeError struct {
	Reason string
	Frame  string
	Err    error
}

func newDecodeError(frame []byte, reason string, err error) *DecodeError {
	excerpt := string(frame)
	if len(excerpt) > maxFrameExcerpt {
		excerpt = excerpt[:maxFrameExcerpt] + "..."
	}
	return &DecodeError{Reason: reason, Frame: excerpt, Err: err}
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return "decode envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// HandshakeRejectedError is raised when the server answers a handshake with
// an invalid-session envelope, or closes the socket before accepting it.
// Resumable mirrors the server's verdict on whether the same session may be
// resumed later. CloseCode is set when the refusal came as a close frame.
type HandshakeRejectedError struct {
	Handshake Opcode
	SessionID string
	Resumable bool
	CloseCode int
}

func (e *HandshakeRejectedError) Error() string {
	if e.CloseCode != 0 {
		return fmt.Sprintf("%s %s (session %q, resumable=%t, close %d)",
			e.Handshake, ErrHandshakeRejected, e.SessionID, e.Resumable, e.CloseCode)
	}
	return fmt.Sprintf("%s %s (session %q, resumable=%t)", e.Handshake, ErrHandshakeRejected, e.SessionID, e.Resumable)
}

func (e *HandshakeRejectedError) Unwrap() error {
	return ErrHandshakeRejected
}
