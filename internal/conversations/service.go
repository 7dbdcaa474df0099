package conversations

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kolesa/kolesa/backend/go-services/internal/listing"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/notifications"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
)

// Users resolves participants.
type Users interface {
	Get(ctx context.Context, id string) (*models.User, error)
}

type Listings interface {
	Find(ctx context.Context, id string) (*listing.Listing, error)
}

type Notifier interface {
	NotifyTemplate(ctx context.Context, userID, typ, code string, vars map[string]string)
}

// Broadcaster delivers realtime events; *Hub implements it.
type Broadcaster interface {
	Broadcast(conversationID string, payload []byte)
}

const (
	EventMessageNew     = "message.new"
	EventMessageEdited  = "message.edited"
	EventMessageDeleted = "message.deleted"
)

// Event is the websocket frame sent to subscribers.
type Event struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

type Service struct {
	convs    Repository
	msgs     MessageRepository
	users    Users
	listings Listings
	notifier Notifier
	hub      Broadcaster
	now      func() time.Time
}

func NewService(convs Repository, msgs MessageRepository, users Users, listings Listings, notifier Notifier, hub Broadcaster) *Service {
	return &Service{
		convs: convs, msgs: msgs, users: users, listings: listings, notifier: notifier, hub: hub,
		now: func() time.Time { return time.Now().UTC() },
	}
}

type CreateInput struct {
	RecipientID    string `json:"recipient_id" binding:"required"`
	ListingID      string `json:"listing_id"`
	InitialMessage string `json:"initial_message"`
}

// Create opens a user chat, or returns the existing one between the same
// pair about the same listing.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*Conversation, error) {
	if in.RecipientID == userID {
		return nil, apperr.Business("cannot start a conversation with yourself")
	}
	if _, err := s.users.Get(ctx, in.RecipientID); err != nil {
		return nil, err
	}
	if in.ListingID != "" {
		l, err := s.listings.Find(ctx, in.ListingID)
		if err != nil {
			return nil, apperr.Internal("load listing", err)
		}
		if l == nil {
			return nil, apperr.NotFound("listing %s not found", in.ListingID)
		}
	}
	conv, err := s.convs.FindDirect(ctx, userID, in.RecipientID, in.ListingID)
	if err != nil {
		return nil, apperr.Internal("find conversation", err)
	}
	now := s.now()
	if conv == nil {
		conv = &Conversation{
			ID: uuid.NewString(), Type: TypeUserChat, ListingID: in.ListingID, CreatedAt: now,
			Participants: []Participant{
				{UserID: userID, JoinedAt: now, LastReadAt: &now, IsActive: true},
				{UserID: in.RecipientID, JoinedAt: now, IsActive: true},
			},
		}
		if err := s.convs.Create(ctx, conv); err != nil {
			return nil, apperr.Internal("create conversation", err)
		}
	} else if rejoin(conv, now) {
		if err := s.convs.Update(ctx, conv); err != nil {
			return nil, apperr.Internal("update conversation", err)
		}
	}
	if strings.TrimSpace(in.InitialMessage) != "" {
		if _, err := s.Send(ctx, conv.ID, userID, in.InitialMessage, nil); err != nil {
			return nil, err
		}
		return s.convs.Get(ctx, conv.ID)
	}
	return conv, nil
}

// rejoin reactivates participants who left. Reports whether anything changed.
func rejoin(c *Conversation, now time.Time) bool {
	changed := false
	for i := range c.Participants {
		if !c.Participants[i].IsActive {
			c.Participants[i].IsActive = true
			c.Participants[i].JoinedAt = now
			changed = true
		}
	}
	return changed
}

// Summary is a conversation in the inbox with its unread count.
type Summary struct {
	*Conversation
	UnreadCount int64 `json:"unread_count"`
}

func (s *Service) List(ctx context.Context, userID string, skip, limit int64) ([]Summary, int64, error) {
	convs, total, err := s.convs.ListByUser(ctx, userID, skip, limit)
	if err != nil {
		return nil, 0, apperr.Internal("list conversations", err)
	}
	out := make([]Summary, 0, len(convs))
	for _, c := range convs {
		n, err := s.msgs.CountUnread(ctx, c.ID, userID, c.Participant(userID).LastReadAt)
		if err != nil {
			return nil, 0, apperr.Internal("count unread", err)
		}
		out = append(out, Summary{Conversation: c, UnreadCount: n})
	}
	return out, total, nil
}

// Get returns a conversation the user takes part in.
func (s *Service) Get(ctx context.Context, id, userID string) (*Conversation, error) {
	c, err := s.convs.Get(ctx, id)
	if err != nil {
		return nil, apperr.Internal("load conversation", err)
	}
	if c == nil {
		return nil, apperr.NotFound("conversation %s not found", id)
	}
	if c.Participant(userID) == nil {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	return c, nil
}

func (s *Service) Messages(ctx context.Context, id, userID string, before *time.Time, limit int64) ([]*Message, error) {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	msgs, err := s.msgs.List(ctx, id, before, limit)
	if err != nil {
		return nil, apperr.Internal("list messages", err)
	}
	return msgs, nil
}

func validText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.FieldError("message_text", "message text is required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return "", apperr.FieldError("message_text", "message text is too long")
	}
	return text, nil
}

func (s *Service) Send(ctx context.Context, id, userID, text string, attachments []string) (*Message, error) {
	text, err := validText(text)
	if err != nil {
		return nil, err
	}
	conv, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	msg := &Message{
		ID: uuid.NewString(), ConversationID: id, SenderID: userID,
		Text: text, Attachments: attachments, CreatedAt: now,
	}
	if err := s.msgs.Create(ctx, msg); err != nil {
		return nil, apperr.Internal("create message", err)
	}
	conv.LastMessageAt = &now
	// the sender has seen their own message
	conv.Participant(userID).LastReadAt = &now
	if err := s.convs.Update(ctx, conv); err != nil {
		return nil, apperr.Internal("update conversation", err)
	}
	s.publish(EventMessageNew, msg)

	sender := ""
	if u, err := s.users.Get(ctx, userID); err == nil {
		sender = u.FullName()
	}
	for _, p := range conv.Participants {
		if p.UserID == userID || !p.IsActive {
			continue
		}
		s.notifier.NotifyTemplate(ctx, p.UserID, notifications.TypeMessageReceived, "new_message", map[string]string{
			"sender_name": sender, "conversation_id": id, "message_id": msg.ID,
		})
	}
	return msg, nil
}

func (s *Service) publish(typ string, msg *Message) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(Event{Type: typ, Message: msg})
	if err != nil {
		logger.Warnf("encode %s event: %v", typ, err)
		return
	}
	s.hub.Broadcast(msg.ConversationID, payload)
}

func (s *Service) loadMessage(ctx context.Context, id string) (*Message, error) {
	m, err := s.msgs.Get(ctx, id)
	if err != nil {
		return nil, apperr.Internal("load message", err)
	}
	if m == nil || m.IsDeleted {
		return nil, apperr.NotFound("message %s not found", id)
	}
	return m, nil
}

// Edit changes the text of the user's own message within EditWindow.
func (s *Service) Edit(ctx context.Context, messageID, userID, text string) (*Message, error) {
	text, err := validText(text)
	if err != nil {
		return nil, err
	}
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, apperr.Forbidden("only the sender can edit a message")
	}
	now := s.now()
	if now.Sub(m.CreatedAt) > EditWindow {
		return nil, apperr.Validation("message is too old to edit")
	}
	m.Text = text
	m.IsEdited = true
	m.EditedAt = &now
	if err := s.msgs.Update(ctx, m); err != nil {
		return nil, apperr.Internal("update message", err)
	}
	s.publish(EventMessageEdited, m)
	return m, nil
}

// DeleteMessage soft-deletes a message. Admins may delete any message.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID string, isAdmin bool) error {
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID && !isAdmin {
		return apperr.Forbidden("only the sender can delete a message")
	}
	m.IsDeleted = true
	m.Text = ""
	m.Attachments = nil
	if err := s.msgs.Update(ctx, m); err != nil {
		return apperr.Internal("update message", err)
	}
	s.publish(EventMessageDeleted, m)
	return nil
}

// MessageExists reports whether a live message exists.
func (s *Service) MessageExists(ctx context.Context, id string) (bool, error) {
	m, err := s.msgs.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return m != nil && !m.IsDeleted, nil
}

// OwnsMessage reports whether userID sent the message. Deleted messages
// count as missing.
func (s *Service) OwnsMessage(ctx context.Context, id, userID string) (bool, error) {
	m, err := s.msgs.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if m == nil || m.IsDeleted {
		return false, apperr.NotFound("message not found")
	}
	return m.SenderID == userID, nil
}

func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	c, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}
	now := s.now()
	c.Participant(userID).LastReadAt = &now
	if err := s.convs.Update(ctx, c); err != nil {
		return apperr.Internal("update conversation", err)
	}
	return nil
}

func (s *Service) Leave(ctx context.Context, id, userID string) error {
	c, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}
	c.Participant(userID).IsActive = false
	if err := s.convs.Update(ctx, c); err != nil {
		return apperr.Internal("update conversation", err)
	}
	return nil
}

// Unread totals the user's unread messages and the conversations holding them.
type Unread struct {
	Messages      int64 `json:"unread_messages"`
	Conversations int64 `json:"unread_conversations"`
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (*Unread, error) {
	var out Unread
	var skip int64
	for {
		convs, total, err := s.convs.ListByUser(ctx, userID, skip, 200)
		if err != nil {
			return nil, apperr.Internal("list conversations", err)
		}
		for _, c := range convs {
			n, err := s.msgs.CountUnread(ctx, c.ID, userID, c.Participant(userID).LastReadAt)
			if err != nil {
				return nil, apperr.Internal("count unread", err)
			}
			out.Messages += n
			if n > 0 {
				out.Conversations++
			}
		}
		skip += int64(len(convs))
		if len(convs) == 0 || skip >= total {
			return &out, nil
		}
	}
}
