package ledger

import (
	"context"
	"fmt"

	"github.com/user/blimp/internal/types"
)

// Ledger keeps per-user kudos balances.
type Ledger interface {
	// IncrementBalance adds one to the user's balance and returns the new
	// balance as recorded by the ledger.
	IncrementBalance(ctx context.Context, userID types.Snowflake) (*Balance, error)
}

// Balance is a user's balance after an update.
type Balance struct {
	UserID types.Snowflake `json:"id"`
	Amount int64           `json:"balance"`
}

// Config holds connection settings for a ledger backend.
type Config struct {
	URL    string
	APIKey string
}

// APIError is a non-success response from the ledger backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger API error (status %d): %s", e.StatusCode, e.Body)
}
