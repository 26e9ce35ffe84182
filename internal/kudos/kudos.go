// Package kudos awards balance to users who are thanked in a channel.
package kudos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/blimp/internal/dispatch"
	"github.com/user/blimp/internal/types"
	"github.com/user/blimp/pkg/ledger"
)

// DefaultEmoji is appended to balance announcements.
const DefaultEmoji = "<:codecoin:822216270971404358>"

// DefaultKeywords trigger an award when found in a message that mentions
// someone.
var DefaultKeywords = []string{"thank", "++"}

// Handler increments the ledger balance of every user mentioned in a
// thankful message and announces the new balance in the same channel.
type Handler struct {
	ledger   ledger.Ledger
	sender   types.MessageSender
	keywords []string
	emoji    string
	logger   *slog.Logger
}

// NewHandler creates a Handler. Empty keywords or emoji select the
// defaults. Keywords are matched case-insensitively.
func NewHandler(l ledger.Ledger, sender types.MessageSender, keywords []string, emoji string, logger *slog.Logger) *Handler {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(k); k != "" {
			lowered = append(lowered, k)
		}
	}
	if emoji == "" {
		emoji = DefaultEmoji
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ledger:   l,
		sender:   sender,
		keywords: lowered,
		emoji:    emoji,
		logger:   logger,
	}
}

// Matches reports whether msg mentions at least one user and contains a
// keyword.
func (h *Handler) Matches(msg *types.Message) bool {
	if msg == nil || len(msg.Mentions) == 0 {
		return false
	}
	content := strings.ToLower(msg.Content)
	for _, k := range h.keywords {
		if strings.Contains(content, k) {
			return true
		}
	}
	return false
}

// Process awards every mentioned user, in mention order. A failure for one
// user does not stop the others; all failures are joined into the result.
func (h *Handler) Process(ctx context.Context, msg *types.Message) error {
	if !h.Matches(msg) {
		return nil
	}

	var errs []error
	for _, user := range msg.Mentions {
		if err := h.award(ctx, msg.ChannelID, user); err != nil {
			h.logger.Warn("kudos award failed", "user_id", user.ID, "channel_id", msg.ChannelID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) award(ctx context.Context, channelID types.Snowflake, user types.User) error {
	balance, err := h.ledger.IncrementBalance(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("increment balance for %s: %w", user.ID, err)
	}

	// The ledger's id is announced, as long as it is still a usable mention.
	recipient := types.User{ID: balance.UserID}
	if !recipient.ID.Valid() {
		h.logger.Warn("ledger returned an invalid user id, mentioning the thanked user",
			"user_id", user.ID, "ledger_id", balance.UserID)
		recipient.ID = user.ID
	}
	text := fmt.Sprintf("%s now has %d %s", recipient.Mention(), balance.Amount, h.emoji)
	if _, err := h.sender.SendMessage(ctx, channelID, text); err != nil {
		return fmt.Errorf("announce balance for %s: %w", user.ID, err)
	}
	h.logger.Info("kudos awarded", "user_id", recipient.ID, "balance", balance.Amount)
	return nil
}

// ProcessJob adapts Process to the dispatch queue.
func (h *Handler) ProcessJob(ctx context.Context, job *dispatch.Job) error {
	return h.Process(ctx, job.Message)
}
