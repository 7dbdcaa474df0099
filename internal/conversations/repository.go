package conversations

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("not found")

// Repository stores conversations.
type Repository interface {
	Create(ctx context.Context, c *Conversation) error
	Update(ctx context.Context, c *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
	// FindDirect finds a user chat between exactly a and b about listingID.
	FindDirect(ctx context.Context, a, b, listingID string) (*Conversation, error)
	// ListByUser returns conversations where userID is an active
	// participant, most recent activity first.
	ListByUser(ctx context.Context, userID string, skip, limit int64) ([]*Conversation, int64, error)
}

// MessageRepository stores messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	Update(ctx context.Context, m *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	// List returns up to limit messages created before the given time (all
	// when nil), oldest first.
	List(ctx context.Context, conversationID string, before *time.Time, limit int64) ([]*Message, error)
	// CountUnread counts messages from other senders after since.
	CountUnread(ctx context.Context, conversationID, userID string, since *time.Time) (int64, error)
}

func activity(c *Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func cloneConv(c *Conversation) *Conversation {
	cp := *c
	cp.Participants = append([]Participant(nil), c.Participants...)
	return &cp
}

type MemoryRepository struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{convs: map[string]*Conversation{}}
}

func (m *MemoryRepository) Create(ctx context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[c.ID] = cloneConv(c)
	return nil
}

func (m *MemoryRepository) Update(ctx context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[c.ID]; !ok {
		return ErrNotFound
	}
	m.convs[c.ID] = cloneConv(c)
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, nil
	}
	return cloneConv(c), nil
}

func (m *MemoryRepository) FindDirect(ctx context.Context, a, b, listingID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.convs {
		if c.Type != TypeUserChat || c.ListingID != listingID || len(c.Participants) != 2 {
			continue
		}
		p0, p1 := c.Participants[0].UserID, c.Participants[1].UserID
		if (p0 == a && p1 == b) || (p0 == b && p1 == a) {
			return cloneConv(c), nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) ListByUser(ctx context.Context, userID string, skip, limit int64) ([]*Conversation, int64, error) {
	m.mu.RLock()
	var out []*Conversation
	for _, c := range m.convs {
		if c.Participant(userID) != nil {
			out = append(out, cloneConv(c))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return activity(out[i]).After(activity(out[j])) })
	total := int64(len(out))
	if skip >= total {
		return []*Conversation{}, total, nil
	}
	out = out[skip:]
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

type MemoryMessageRepository struct {
	mu   sync.RWMutex
	msgs map[string]*Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{msgs: map[string]*Message{}}
}

func (m *MemoryMessageRepository) Create(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.msgs[msg.ID] = &cp
	return nil
}

func (m *MemoryMessageRepository) Update(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.msgs[msg.ID]; !ok {
		return ErrNotFound
	}
	cp := *msg
	m.msgs[msg.ID] = &cp
	return nil
}

func (m *MemoryMessageRepository) Get(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.msgs[id]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

func (m *MemoryMessageRepository) List(ctx context.Context, conversationID string, before *time.Time, limit int64) ([]*Message, error) {
	m.mu.RLock()
	var out []*Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID && (before == nil || msg.CreatedAt.Before(*before)) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()
	// newest first to apply the limit, then flip
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if out == nil {
		out = []*Message{}
	}
	return out, nil
}

func (m *MemoryMessageRepository) CountUnread(ctx context.Context, conversationID, userID string, since *time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, msg := range m.msgs {
		if msg.ConversationID != conversationID || msg.SenderID == userID || msg.IsDeleted {
			continue
		}
		if since == nil || msg.CreatedAt.After(*since) {
			n++
		}
	}
	return n, nil
}
