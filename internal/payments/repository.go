package payments

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("not found")

type TransactionRepository interface {
	Create(ctx context.Context, t *Transaction) error
	Update(ctx context.Context, t *Transaction) error
	// Settle stores t only while the stored copy is still pending and
	// reports whether it did.
	Settle(ctx context.Context, t *Transaction) (bool, error)
	Get(ctx context.Context, id string) (*Transaction, error)
	// List returns matches newest first.
	List(ctx context.Context, f TxFilter) ([]*Transaction, int64, error)
	// TotalsBy groups matches by type, status or provider.
	TotalsBy(ctx context.Context, f TxFilter, field string) (map[string]Total, error)
	// Monthly groups matches by the YYYY-MM of created_at, oldest first.
	Monthly(ctx context.Context, f TxFilter) ([]MonthTotal, error)
}

type PromotionRepository interface {
	Create(ctx context.Context, p *Promotion) error
	Update(ctx context.Context, p *Promotion) error
	Get(ctx context.Context, id string) (*Promotion, error)
	List(ctx context.Context, userID, status string, skip, limit int64) ([]*Promotion, int64, error)
	// ActiveFlag reports whether the listing has another active promotion
	// setting flag, besides exceptID.
	ActiveFlag(ctx context.Context, listingID, flag, exceptID string) (bool, error)
	// Due returns active promotions that ended at or before now.
	Due(ctx context.Context, now time.Time) ([]*Promotion, error)
}

type ServiceRepository interface {
	List(ctx context.Context) ([]PromotionService, error)
	Get(ctx context.Context, code string) (*PromotionService, error)
}

type MemoryTransactions struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
}

func NewMemoryTransactions() *MemoryTransactions {
	return &MemoryTransactions{txs: map[string]*Transaction{}}
}

func (m *MemoryTransactions) Create(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.txs[t.ID] = &cp
	return nil
}

func (m *MemoryTransactions) Update(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.txs[t.ID] = &cp
	return nil
}

func (m *MemoryTransactions) Settle(ctx context.Context, t *Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.txs[t.ID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.Status != TxPending {
		return false, nil
	}
	cp := *t
	m.txs[t.ID] = &cp
	return true, nil
}

func (m *MemoryTransactions) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.txs[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryTransactions) matching(f TxFilter) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*Transaction{}
	for _, t := range m.txs {
		if f.match(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

func (m *MemoryTransactions) List(ctx context.Context, f TxFilter) ([]*Transaction, int64, error) {
	out := m.matching(f)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	if f.Skip >= total {
		return []*Transaction{}, total, nil
	}
	out = out[f.Skip:]
	if f.Limit > 0 && int64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *MemoryTransactions) TotalsBy(ctx context.Context, f TxFilter, field string) (map[string]Total, error) {
	out := map[string]Total{}
	for _, t := range m.matching(f) {
		var key string
		switch field {
		case "transaction_type":
			key = t.Type
		case "status":
			key = t.Status
		case "provider":
			key = t.Provider
		default:
			return nil, errors.New("unsupported grouping " + field)
		}
		tot := out[key]
		tot.Count++
		tot.Amount += t.Amount
		out[key] = tot
	}
	return out, nil
}

func (m *MemoryTransactions) Monthly(ctx context.Context, f TxFilter) ([]MonthTotal, error) {
	by := map[string]Total{}
	for _, t := range m.matching(f) {
		key := t.CreatedAt.UTC().Format("2006-01")
		tot := by[key]
		tot.Count++
		tot.Amount += t.Amount
		by[key] = tot
	}
	out := make([]MonthTotal, 0, len(by))
	for k, v := range by {
		out = append(out, MonthTotal{Month: k, Total: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

type MemoryPromotions struct {
	mu     sync.RWMutex
	promos map[string]*Promotion
}

func NewMemoryPromotions() *MemoryPromotions {
	return &MemoryPromotions{promos: map[string]*Promotion{}}
}

func (m *MemoryPromotions) Create(ctx context.Context, p *Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.promos[p.ID] = &cp
	return nil
}

func (m *MemoryPromotions) Update(ctx context.Context, p *Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.promos[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.promos[p.ID] = &cp
	return nil
}

func (m *MemoryPromotions) Get(ctx context.Context, id string) (*Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.promos[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryPromotions) List(ctx context.Context, userID, status string, skip, limit int64) ([]*Promotion, int64, error) {
	m.mu.RLock()
	out := []*Promotion{}
	for _, p := range m.promos {
		if p.UserID == userID && (status == "" || p.Status == status) {
			cp := *p
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	if skip >= total {
		return []*Promotion{}, total, nil
	}
	out = out[skip:]
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *MemoryPromotions) ActiveFlag(ctx context.Context, listingID, flag, exceptID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.promos {
		if p.ListingID == listingID && p.Flag == flag && p.Status == PromoActive && p.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryPromotions) Due(ctx context.Context, now time.Time) ([]*Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*Promotion{}
	for _, p := range m.promos {
		if p.Status == PromoActive && p.EndsAt != nil && !p.EndsAt.After(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// StaticServices serves a fixed price list.
type StaticServices []PromotionService

func (s StaticServices) List(ctx context.Context) ([]PromotionService, error) {
	out := make([]PromotionService, 0, len(s))
	for _, svc := range s {
		if svc.IsActive {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (s StaticServices) Get(ctx context.Context, code string) (*PromotionService, error) {
	for _, svc := range s {
		if svc.Code == code {
			cp := svc
			return &cp, nil
		}
	}
	return nil, nil
}
