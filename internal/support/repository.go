package support

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate ticket number")
)

//go:embed seed/support.json
var seedJSON []byte

// SeedData is the built-in help desk content.
type SeedData struct {
	Categories []Category `json:"categories"`
	FAQ        []FAQ      `json:"faq"`
}

func Seed() (*SeedData, error) {
	var d SeedData
	if err := json.Unmarshal(seedJSON, &d); err != nil {
		return nil, fmt.Errorf("support seed: %w", err)
	}
	return &d, nil
}

type TicketRepository interface {
	// Create fails with ErrDuplicate when the ticket number is taken.
	Create(ctx context.Context, t *Ticket) error
	Update(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)
	List(ctx context.Context, f TicketFilter) ([]*Ticket, int64, error)
	// CountBy groups all tickets by status, priority or category_id.
	CountBy(ctx context.Context, field string) (map[string]int64, error)
	Averages(ctx context.Context) (*Averages, error)
}

type ResponseRepository interface {
	Create(ctx context.Context, r *Response) error
	// List returns a ticket's responses oldest first.
	List(ctx context.Context, ticketID string, withInternal bool) ([]*Response, error)
}

type ContentRepository interface {
	Categories(ctx context.Context) ([]Category, error)
	Category(ctx context.Context, id string) (*Category, error)
	// FAQ returns published entries, optionally of one category.
	FAQ(ctx context.Context, categoryID string) ([]FAQ, error)
	// ViewFAQ counts a view and returns the entry.
	ViewFAQ(ctx context.Context, id string) (*FAQ, error)
}

type MemoryTickets struct {
	mu      sync.RWMutex
	tickets map[string]*Ticket
}

func NewMemoryTickets() *MemoryTickets {
	return &MemoryTickets{tickets: map[string]*Ticket{}}
}

func (m *MemoryTickets) Create(ctx context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.tickets {
		if o.Number == t.Number {
			return ErrDuplicate
		}
	}
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *MemoryTickets) Update(ctx context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *MemoryTickets) Get(ctx context.Context, id string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryTickets) List(ctx context.Context, f TicketFilter) ([]*Ticket, int64, error) {
	m.mu.RLock()
	out := []*Ticket{}
	for _, t := range m.tickets {
		if f.match(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if f.ByPriority && out[i].PriorityLevel != out[j].PriorityLevel {
			return out[i].PriorityLevel > out[j].PriorityLevel
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := int64(len(out))
	if f.Skip >= total {
		return []*Ticket{}, total, nil
	}
	out = out[f.Skip:]
	if f.Limit > 0 && int64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *MemoryTickets) CountBy(ctx context.Context, field string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int64{}
	for _, t := range m.tickets {
		switch field {
		case "status":
			out[t.Status]++
		case "priority":
			out[t.Priority]++
		case "category_id":
			if t.CategoryID != "" {
				out[t.CategoryID]++
			}
		default:
			return nil, errors.New("unsupported grouping " + field)
		}
	}
	return out, nil
}

func (m *MemoryTickets) Averages(ctx context.Context) (*Averages, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var resp, resol, sat float64
	var nResp, nResol, nSat int
	for _, t := range m.tickets {
		if t.FirstResponseAt != nil {
			resp += t.FirstResponseAt.Sub(t.CreatedAt).Seconds()
			nResp++
		}
		if t.ResolvedAt != nil {
			resol += t.ResolvedAt.Sub(t.CreatedAt).Seconds()
			nResol++
		}
		if t.Satisfaction != nil {
			sat += float64(*t.Satisfaction)
			nSat++
		}
	}
	avg := func(sum float64, n int) float64 {
		if n == 0 {
			return 0
		}
		return sum / float64(n)
	}
	return &Averages{ResponseSeconds: avg(resp, nResp), ResolutionSeconds: avg(resol, nResol), Satisfaction: avg(sat, nSat)}, nil
}

type MemoryResponses struct {
	mu    sync.RWMutex
	items []*Response
}

func NewMemoryResponses() *MemoryResponses { return &MemoryResponses{} }

func (m *MemoryResponses) Create(ctx context.Context, r *Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.items = append(m.items, &cp)
	return nil
}

func (m *MemoryResponses) List(ctx context.Context, ticketID string, withInternal bool) ([]*Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*Response{}
	for _, r := range m.items {
		if r.TicketID == ticketID && (withInternal || !r.IsInternal) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MemoryContent serves the embedded categories and FAQ.
type MemoryContent struct {
	mu   sync.RWMutex
	data *SeedData
}

func NewMemoryContent() (*MemoryContent, error) {
	d, err := Seed()
	if err != nil {
		return nil, err
	}
	return &MemoryContent{data: d}, nil
}

func (m *MemoryContent) Categories(ctx context.Context) ([]Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Category{}
	for _, c := range m.data.Categories {
		if c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (m *MemoryContent) Category(ctx context.Context, id string) (*Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.data.Categories {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryContent) FAQ(ctx context.Context, categoryID string) ([]FAQ, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []FAQ{}
	for _, f := range m.data.FAQ {
		if f.IsPublished && (categoryID == "" || strings.EqualFold(f.CategoryID, categoryID)) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (m *MemoryContent) ViewFAQ(ctx context.Context, id string) (*FAQ, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.data.FAQ {
		if m.data.FAQ[i].ID == id && m.data.FAQ[i].IsPublished {
			m.data.FAQ[i].ViewCount++
			cp := m.data.FAQ[i]
			return &cp, nil
		}
	}
	return nil, nil
}
