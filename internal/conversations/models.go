// Package conversations implements user-to-user chat with realtime
// delivery over websockets.
package conversations

import "time"

const (
	TypeUserChat = "user_chat"
	TypeSupport  = "support"

	MaxMessageLength = 4000
	EditWindow       = 24 * time.Hour
)

type Participant struct {
	UserID     string     `bson:"user_id" json:"user_id"`
	JoinedAt   time.Time  `bson:"joined_at" json:"joined_at"`
	LastReadAt *time.Time `bson:"last_read_at,omitempty" json:"last_read_at,omitempty"`
	IsActive   bool       `bson:"is_active" json:"is_active"`
}

type Conversation struct {
	ID            string        `bson:"_id" json:"id"`
	Type          string        `bson:"conversation_type" json:"conversation_type"`
	ListingID     string        `bson:"listing_id,omitempty" json:"listing_id,omitempty"`
	Participants  []Participant `bson:"participants" json:"participants"`
	LastMessageAt *time.Time    `bson:"last_message_at,omitempty" json:"last_message_at,omitempty"`
	CreatedAt     time.Time     `bson:"created_at" json:"created_at"`
}

// Participant returns the active membership of userID, or nil.
func (c *Conversation) Participant(userID string) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID && c.Participants[i].IsActive {
			return &c.Participants[i]
		}
	}
	return nil
}

type Message struct {
	ID             string     `bson:"_id" json:"id"`
	ConversationID string     `bson:"conversation_id" json:"conversation_id"`
	SenderID       string     `bson:"sender_id" json:"sender_id"`
	Text           string     `bson:"message_text" json:"message_text"`
	Attachments    []string   `bson:"attachments,omitempty" json:"attachments,omitempty"`
	IsEdited       bool       `bson:"is_edited" json:"is_edited"`
	EditedAt       *time.Time `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	IsDeleted      bool       `bson:"is_deleted" json:"is_deleted"`
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
}
