package gateway

import (
	"fmt"

	"github.com/user/blimp/internal/types"
)

// Dispatch event names the client acts on.
const (
	EventReady         = "READY"
	EventResumed       = "RESUMED"
	EventMessageCreate = "MESSAGE_CREATE"
)

// ShapeError reports a body that does not have the shape a projection
// requires. Projections never return partially filled values.
type ShapeError struct {
	Path string
	Want string
	Got  Kind
}

func (e *ShapeError) Error() string {
	if e.Got == KindNull && e.Want != "null" {
		return fmt.Sprintf("%s: missing or null, want %s", e.Path, e.Want)
	}
	return fmt.Sprintf("%s: got %s, want %s", e.Path, e.Got, e.Want)
}

func stringField(obj Value, path, key string) (string, error) {
	f, _ := obj.Field(key)
	s, ok := f.AsString()
	if !ok {
		return "", &ShapeError{Path: path + "." + key, Want: "string", Got: f.Kind()}
	}
	return s, nil
}

func requireObject(v Value, path string) error {
	if v.Kind() != KindObject {
		return &ShapeError{Path: path, Want: "object", Got: v.Kind()}
	}
	return nil
}

// ToUser projects a user object. id, username and discriminator are required
// strings; public_flags and avatar are optional but must have the right type
// when present.
func ToUser(v Value) (types.User, error) {
	return toUser(v, "user")
}

func toUser(v Value, path string) (types.User, error) {
	if err := requireObject(v, path); err != nil {
		return types.User{}, err
	}
	id, err := stringField(v, path, "id")
	if err != nil {
		return types.User{}, err
	}
	username, err := stringField(v, path, "username")
	if err != nil {
		return types.User{}, err
	}
	discriminator, err := stringField(v, path, "discriminator")
	if err != nil {
		return types.User{}, err
	}

	u := types.User{
		ID:            types.Snowflake(id),
		Username:      username,
		Discriminator: discriminator,
	}

	if f, ok := v.Field("public_flags"); ok && !f.IsNull() {
		flags, ok := f.AsInt()
		if !ok {
			return types.User{}, &ShapeError{Path: path + ".public_flags", Want: "integer", Got: f.Kind()}
		}
		u.PublicFlags = flags
	}
	if f, ok := v.Field("avatar"); ok && !f.IsNull() {
		avatar, ok := f.AsString()
		if !ok {
			return types.User{}, &ShapeError{Path: path + ".avatar", Want: "string", Got: f.Kind()}
		}
		u.Avatar = &avatar
	}
	return u, nil
}

// ToMessage projects a MESSAGE_CREATE body. Every mention must project to a
// User; a single malformed mention fails the whole message.
func ToMessage(v Value) (*types.Message, error) {
	if err := requireObject(v, "message"); err != nil {
		return nil, err
	}
	content, err := stringField(v, "message", "content")
	if err != nil {
		return nil, err
	}
	channelID, err := stringField(v, "message", "channel_id")
	if err != nil {
		return nil, err
	}
	rawMentions, _ := v.Field("mentions")
	items, ok := rawMentions.AsArray()
	if !ok {
		return nil, &ShapeError{Path: "message.mentions", Want: "array", Got: rawMentions.Kind()}
	}

	mentions := make([]types.User, 0, len(items))
	for i, item := range items {
		u, err := toUser(item, fmt.Sprintf("message.mentions[%d]", i))
		if err != nil {
			return nil, err
		}
		mentions = append(mentions, u)
	}

	return &types.Message{
		Content:   content,
		ChannelID: types.Snowflake(channelID),
		Mentions:  mentions,
	}, nil
}

// ReadySessionID extracts the session id from a READY body.
func ReadySessionID(v Value) (string, error) {
	if err := requireObject(v, "ready"); err != nil {
		return "", err
	}
	id, err := stringField(v, "ready", "session_id")
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", &ShapeError{Path: "ready.session_id", Want: "non-empty string", Got: KindString}
	}
	return id, nil
}

// HeartbeatInterval extracts heartbeat_interval (milliseconds) from a Hello
// body.
func HeartbeatInterval(v Value) (int64, bool) {
	f, ok := v.Field("heartbeat_interval")
	if !ok {
		return 0, false
	}
	return f.AsInt()
}
