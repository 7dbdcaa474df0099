// Package notifications stores in-app notifications and delivers the
// external channels (push, email, sms) through a Redis-backed queue.
package notifications

import "time"

// Channels.
const (
	ChannelInApp = "in_app"
	ChannelPush  = "push"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Delivery states.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusRead      = "read"
)

// Notification types.
const (
	TypeMessageReceived  = "message_received"
	TypeListingModerated = "listing_moderated"
	TypeListingExpired   = "listing_expired"
	TypePaymentReceived  = "payment_received"
	TypeSupportReply     = "support_reply"
	TypeSupportTicket    = "new_support_ticket"
	TypeSystem           = "system_notification"
	TypeTest             = "test"
)

// Types lists the notification types users can configure.
var Types = []string{
	TypeMessageReceived, TypeListingModerated, TypeListingExpired,
	TypePaymentReceived, TypeSupportReply, TypeSupportTicket, TypeSystem,
}

// MaxAttempts bounds external delivery retries.
const MaxAttempts = 3

type Notification struct {
	ID        string            `bson:"_id" json:"id"`
	UserID    string            `bson:"user_id" json:"user_id"`
	Type      string            `bson:"notification_type" json:"notification_type"`
	Channel   string            `bson:"channel" json:"channel"`
	Title     string            `bson:"title" json:"title"`
	Message   string            `bson:"message" json:"message"`
	Data      map[string]string `bson:"data,omitempty" json:"data,omitempty"`
	Status    string            `bson:"status" json:"status"`
	Attempts  int               `bson:"attempts_count" json:"attempts_count"`
	IsRead    bool              `bson:"is_read" json:"is_read"`
	ReadAt    *time.Time        `bson:"read_at,omitempty" json:"read_at,omitempty"`
	Error     string            `bson:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
	SentAt    *time.Time        `bson:"sent_at,omitempty" json:"sent_at,omitempty"`
}

// ChannelPrefs toggles each channel for one notification type.
type ChannelPrefs struct {
	InApp bool `bson:"in_app" json:"in_app"`
	Push  bool `bson:"push" json:"push"`
	Email bool `bson:"email" json:"email"`
	SMS   bool `bson:"sms" json:"sms"`
}

func (p ChannelPrefs) Allows(channel string) bool {
	switch channel {
	case ChannelInApp:
		return p.InApp
	case ChannelPush:
		return p.Push
	case ChannelEmail:
		return p.Email
	case ChannelSMS:
		return p.SMS
	}
	return false
}

// Settings holds a user's per-type channel preferences.
type Settings struct {
	UserID    string                  `bson:"_id" json:"user_id"`
	Types     map[string]ChannelPrefs `bson:"types" json:"types"`
	UpdatedAt time.Time               `bson:"updated_at" json:"updated_at"`
}

// DefaultPrefs enables every channel except SMS.
func DefaultPrefs() ChannelPrefs {
	return ChannelPrefs{InApp: true, Push: true, Email: true}
}

// DefaultSettings returns settings with DefaultPrefs for every type.
func DefaultSettings(userID string) *Settings {
	s := &Settings{UserID: userID, Types: make(map[string]ChannelPrefs, len(Types))}
	for _, t := range Types {
		s.Types[t] = DefaultPrefs()
	}
	return s
}

// Prefs returns the preferences for typ, falling back to defaults.
func (s *Settings) Prefs(typ string) ChannelPrefs {
	if p, ok := s.Types[typ]; ok {
		return p
	}
	return DefaultPrefs()
}
