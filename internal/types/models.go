// internal/types/models.go
package types

// User is the read-only projection of a user object found in event bodies.
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	PublicFlags   int64     `json:"public_flags"`
	Avatar        *string   `json:"avatar,omitempty"`
}

// Mention returns the inline mention markup for the user.
func (u User) Mention() string {
	return "<@" + string(u.ID) + ">"
}

// Message is the read-only projection of a MESSAGE_CREATE body. Mentions
// keep the order in which they appear in the event.
type Message struct {
	Content   string    `json:"content"`
	ChannelID Snowflake `json:"channel_id"`
	Mentions  []User    `json:"mentions"`
}
