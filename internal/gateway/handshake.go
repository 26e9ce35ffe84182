package gateway

import "log/slog"

// Intents is the gateway intent bitmask sent on Identify.
type Intents int64

const (
	IntentGuilds         Intents = 1 << 0
	IntentGuildMessages  Intents = 1 << 9
	IntentDirectMessages Intents = 1 << 12
	IntentMessageContent Intents = 1 << 15
)

// Properties identifies the client on Identify.
type Properties struct {
	OS      string
	Browser string
	Device  string
}

// Credentials is the static identity presented to the gateway. It is built
// once from configuration and never mutated.
type Credentials struct {
	Token      string
	Intents    Intents
	Properties Properties
}

// LogValue keeps the token out of logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("intents", int64(c.Intents)),
		slog.String("os", c.Properties.OS),
		slog.String("browser", c.Properties.Browser),
		slog.String("device", c.Properties.Device),
	)
}

// BuildIdentify returns the fresh-authentication handshake.
func BuildIdentify(c Credentials) Envelope {
	return Envelope{
		Op: OpIdentify,
		Body: Object(map[string]Value{
			"token":   String(c.Token),
			"intents": Int(int64(c.Intents)),
			"properties": Object(map[string]Value{
				"$os":      String(c.Properties.OS),
				"$browser": String(c.Properties.Browser),
				"$device":  String(c.Properties.Device),
			}),
		}),
	}
}

// BuildResume returns the handshake that re-attaches to sessionID. seq must
// be the last sequence number received on that session.
func BuildResume(c Credentials, sessionID string, seq int64) Envelope {
	return Envelope{
		Op: OpResume,
		Body: Object(map[string]Value{
			"token":      String(c.Token),
			"session_id": String(sessionID),
			"seq":        Int(seq),
		}),
	}
}
