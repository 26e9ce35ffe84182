package gateway

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	envs := []Envelope{
		NewDispatch("MESSAGE_CREATE", 42, Object(map[string]Value{
			"content":    String("thanks!"),
			"channel_id": String("C1"),
			"mentions":   Array(Object(map[string]Value{"id": String("42")})),
			"tts":        Bool(false),
			"nonce":      Null(),
			"flags":      Int(1 << 40),
		})),
		{Op: OpHello, Body: Object(map[string]Value{"heartbeat_interval": Int(41250)})},
		{Op: OpInvalidSession, Body: Bool(true)},
		{Op: OpReconnect, Body: Null()},
		{Op: OpHeartbeat, Body: Int(7)},
	}

	for _, env := range envs {
		data, err := Encode(env)
		if err != nil {
			t.Fatalf("Encode(%s) failed: %v", env.Op, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", data, err)
		}
		if got.Op != env.Op {
			t.Errorf("op mismatch: %s != %s", got.Op, env.Op)
		}
		if !got.Body.Equal(env.Body) {
			t.Errorf("body mismatch for %s: %s", env.Op, data)
		}
		if (got.Event == nil) != (env.Event == nil) || got.EventName() != env.EventName() {
			t.Errorf("event mismatch for %s: %v != %v", env.Op, got.Event, env.Event)
		}
		gs, gok := got.Sequence()
		es, eok := env.Sequence()
		if gs != es || gok != eok {
			t.Errorf("sequence mismatch for %s: %d/%v != %d/%v", env.Op, gs, gok, es, eok)
		}
	}
}

func TestEncodeOmitsAbsentFields(t *testing.T) {
	data, err := Encode(Envelope{Op: OpIdentify, Body: Object(map[string]Value{"token": String("x")})})
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["t"]; ok {
		t.Errorf("expected t to be omitted, got %s", data)
	}
	if _, ok := m["s"]; ok {
		t.Errorf("expected s to be omitted, got %s", data)
	}
	if m["op"] != float64(2) {
		t.Errorf("expected op 2, got %v", m["op"])
	}
	if _, ok := m["d"]; !ok {
		t.Errorf("expected d to be present, got %s", data)
	}
}

func TestEncodeNullBodyStillEmitted(t *testing.T) {
	data, err := Encode(Envelope{Op: OpReconnect})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"op":7,"d":null}` {
		t.Errorf("unexpected encoding: %s", data)
	}
}

func TestDecodeExplicitNullsAreAbsent(t *testing.T) {
	env, err := Decode([]byte(`{"op":10,"d":{"heartbeat_interval":41250},"t":null,"s":null}`))
	if err != nil {
		t.Fatal(err)
	}
	if env.Event != nil {
		t.Errorf("expected absent event, got %q", *env.Event)
	}
	if _, ok := env.Sequence(); ok {
		t.Error("expected absent sequence")
	}
	interval, ok := env.Body.Field("heartbeat_interval")
	if !ok {
		t.Fatal("missing heartbeat_interval")
	}
	if n, _ := interval.AsInt(); n != 41250 {
		t.Errorf("expected 41250, got %d", n)
	}
}

func TestDecodeDispatch(t *testing.T) {
	env, err := Decode([]byte(`{"op":0,"t":"READY","s":1,"d":{"session_id":"S1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if env.Op != OpDispatch || env.EventName() != "READY" {
		t.Errorf("unexpected envelope: %s %q", env.Op, env.EventName())
	}
	if seq, ok := env.Sequence(); !ok || seq != 1 {
		t.Errorf("expected sequence 1, got %d (%v)", seq, ok)
	}
}

func TestDecodeIntegralFloatOpcode(t *testing.T) {
	for _, frame := range []string{`{"op":10.0,"d":{}}`, `{"op":1e1,"d":{}}`} {
		env, err := Decode([]byte(frame))
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", frame, err)
		}
		if env.Op != OpHello {
			t.Errorf("%s: expected hello, got %s", frame, env.Op)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	frames := map[string]string{
		"not json":          `not json`,
		"array frame":       `[0, {}]`,
		"string frame":      `"op"`,
		"null frame":        `null`,
		"missing op":        `{"d":{}}`,
		"null op":           `{"op":null,"d":{}}`,
		"string op":         `{"op":"0","d":{}}`,
		"fractional op":     `{"op":1.5,"d":{}}`,
		"negative op":       `{"op":-1,"d":{}}`,
		"unknown op":        `{"op":12,"d":{}}`,
		"huge op":           `{"op":1e40,"d":{}}`,
		"missing body":      `{"op":0,"t":"READY"}`,
		"mistyped sequence": `{"op":0,"t":"READY","s":"one","d":{}}`,
		"mistyped event":    `{"op":0,"t":5,"d":{}}`,
		"truncated":         `{"op":0,"d":{"a":`,
	}

	for name, frame := range frames {
		_, err := Decode([]byte(frame))
		if err == nil {
			t.Errorf("%s: expected DecodeError, got nil", name)
			continue
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("%s: expected *DecodeError, got %T", name, err)
		}
	}
}

func TestDecodeErrorExcerptIsBounded(t *testing.T) {
	frame := strings.Repeat("x", 1000)
	_, err := Decode([]byte(frame))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if len(de.Frame) > maxFrameExcerpt+3 {
		t.Errorf("excerpt too long: %d bytes", len(de.Frame))
	}
}

func TestEncodeRejectsUnknownOpcode(t *testing.T) {
	if _, err := Encode(Envelope{Op: Opcode(42)}); err == nil {
		t.Error("expected error for unknown op code")
	}
}

func TestOpcodeString(t *testing.T) {
	if OpInvalidSession.String() != "invalid_session" {
		t.Errorf("unexpected name %q", OpInvalidSession.String())
	}
	if Opcode(99).String() != "opcode(99)" {
		t.Errorf("unexpected name %q", Opcode(99).String())
	}
}
