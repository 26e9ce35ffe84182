package gateway

import (
	"encoding/json"
	"fmt"
	"math"
)

// Envelope is one protocol message unit. Event and Seq are only present on
// dispatch envelopes; nil means absent.
type Envelope struct {
	Op    Opcode
	Body  Value
	Event *string
	Seq   *int64
}

// NewDispatch builds a dispatch envelope carrying an event name and sequence
// number.
func NewDispatch(event string, seq int64, body Value) Envelope {
	return Envelope{Op: OpDispatch, Body: body, Event: &event, Seq: &seq}
}

// EventName returns the event name, or "" when absent.
func (e Envelope) EventName() string {
	if e.Event == nil {
		return ""
	}
	return *e.Event
}

// Sequence returns the sequence number and whether one is present.
func (e Envelope) Sequence() (int64, bool) {
	if e.Seq == nil {
		return 0, false
	}
	return *e.Seq, true
}

// inboundEnvelope keeps op and d raw so that absent, null and mistyped
// members can be told apart.
type inboundEnvelope struct {
	Op json.RawMessage `json:"op"`
	D  json.RawMessage `json:"d"`
	T  *string         `json:"t"`
	S  *int64          `json:"s"`
}

type outboundEnvelope struct {
	Op Opcode  `json:"op"`
	D  Value   `json:"d"`
	T  *string `json:"t,omitempty"`
	S  *int64  `json:"s,omitempty"`
}

// Decode parses one wire frame. It fails with a *DecodeError when the frame
// is not a JSON object, the op code is missing, non-numeric or unrecognized,
// or the body is missing or unparsable. Explicit nulls for t and s decode
// as absent.
func Decode(data []byte) (Envelope, error) {
	var in inboundEnvelope
	if err := json.Unmarshal(data, &in); err != nil {
		return Envelope{}, newDecodeError(data, "malformed frame", err)
	}

	if len(in.Op) == 0 || string(in.Op) == "null" {
		return Envelope{}, newDecodeError(data, "missing op code", nil)
	}
	// Any integral JSON number is accepted, so 2 and 2.0 both name Identify.
	var code float64
	if err := json.Unmarshal(in.Op, &code); err != nil {
		return Envelope{}, newDecodeError(data, "op code is not a number", err)
	}
	if code != math.Trunc(code) {
		return Envelope{}, newDecodeError(data, fmt.Sprintf("op code %v is not an integer", code), nil)
	}
	if code < 0 || code > float64(OpHeartbeatAck) {
		return Envelope{}, newDecodeError(data, fmt.Sprintf("unrecognized op code %v", code), nil)
	}
	op := Opcode(code)
	if !op.Valid() {
		return Envelope{}, newDecodeError(data, fmt.Sprintf("unrecognized op code %d", int(op)), nil)
	}

	if len(in.D) == 0 {
		return Envelope{}, newDecodeError(data, "missing body", nil)
	}
	var body Value
	if err := body.UnmarshalJSON(in.D); err != nil {
		return Envelope{}, newDecodeError(data, "unparsable body", err)
	}

	return Envelope{Op: op, Body: body, Event: in.T, Seq: in.S}, nil
}

// Encode renders an envelope as wire text. Absent event name and sequence
// number are omitted rather than written as null.
func Encode(env Envelope) ([]byte, error) {
	if !env.Op.Valid() {
		return nil, fmt.Errorf("encode envelope: unrecognized op code %d", int(env.Op))
	}
	data, err := json.Marshal(outboundEnvelope{Op: env.Op, D: env.Body, T: env.Event, S: env.Seq})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}
