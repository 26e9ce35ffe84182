// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

// Snowflake is a platform-assigned numeric identifier carried as a string
// on the wire (users, channels, guilds, messages).
type Snowflake string

type JobID string
type ConnectionID string

// Valid reports whether s is a non-empty run of ASCII digits.
func (s Snowflake) Valid() bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New().String())
}
