package gateway

import "strconv"

// Opcode classifies the purpose of an envelope.
type Opcode int

const (
	OpDispatch            Opcode = 0
	OpHeartbeat           Opcode = 1
	OpIdentify            Opcode = 2
	OpPresenceUpdate      Opcode = 3
	OpVoiceStateUpdate    Opcode = 4
	OpVoiceServerPing     Opcode = 5
	OpResume              Opcode = 6
	OpReconnect           Opcode = 7
	OpRequestGuildMembers Opcode = 8
	OpInvalidSession      Opcode = 9
	OpHello               Opcode = 10
	OpHeartbeatAck        Opcode = 11
)

var opcodeNames = [...]string{
	OpDispatch:            "dispatch",
	OpHeartbeat:           "heartbeat",
	OpIdentify:            "identify",
	OpPresenceUpdate:      "presence_update",
	OpVoiceStateUpdate:    "voice_state_update",
	OpVoiceServerPing:     "voice_server_ping",
	OpResume:              "resume",
	OpReconnect:           "reconnect",
	OpRequestGuildMembers: "request_guild_members",
	OpInvalidSession:      "invalid_session",
	OpHello:               "hello",
	OpHeartbeatAck:        "heartbeat_ack",
}

// Valid reports whether op is one of the recognized operation codes.
func (op Opcode) Valid() bool {
	return op >= OpDispatch && op <= OpHeartbeatAck
}

func (op Opcode) String() string {
	if op.Valid() {
		return opcodeNames[op]
	}
	return "opcode(" + strconv.Itoa(int(op)) + ")"
}
