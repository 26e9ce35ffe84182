package gateway

import (
	"context"
	"log/slog"

	"github.com/user/blimp/internal/types"
)

// Router forwards business-relevant dispatch envelopes to collaborators.
// Only MESSAGE_CREATE reaches the message handler; everything else is
// ignored here.
type Router struct {
	messages types.MessageHandler
	logger   *slog.Logger
}

// NewRouter creates a router forwarding messages to h. A nil handler drops
// every message.
func NewRouter(h types.MessageHandler, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{messages: h, logger: logger}
}

// Route classifies env and forwards it. It reports whether the envelope was
// handed to a collaborator.
func (r *Router) Route(ctx context.Context, env Envelope) bool {
	if env.Op != OpDispatch {
		return false
	}

	switch env.EventName() {
	case EventMessageCreate:
		msg, err := ToMessage(env.Body)
		if err != nil {
			r.logger.Warn("dropping malformed message event", "error", err)
			return false
		}
		if r.messages == nil {
			return false
		}
		if err := r.messages.HandleMessage(ctx, msg); err != nil {
			r.logger.Error("message handler failed", "channel_id", msg.ChannelID, "error", err)
		}
		return true
	default:
		r.logger.Debug("ignoring dispatch event", "event", env.EventName())
		return false
	}
}
