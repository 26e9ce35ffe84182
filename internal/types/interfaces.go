// internal/types/interfaces.go
package types

import (
	"context"
	"encoding/json"
)

// MessageHandler receives every decoded message event forwarded by the
// gateway event router.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *Message) error
}

// MessageSender posts text into a channel through the REST API.
type MessageSender interface {
	SendMessage(ctx context.Context, channelID Snowflake, content string) (json.RawMessage, error)
}
