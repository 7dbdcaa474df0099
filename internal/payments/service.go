package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/kolesa/kolesa/backend/go-services/internal/listing"
	"github.com/kolesa/kolesa/backend/go-services/internal/notifications"
	"github.com/kolesa/kolesa/backend/go-services/internal/payments/providers"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/kolesa/kolesa/backend/go-services/pkg/metrics"
)

type Listings interface {
	Find(ctx context.Context, id string) (*listing.Listing, error)
	SetPromotionFlag(ctx context.Context, id, flag string, on bool) error
}

type Notifier interface {
	NotifyTemplate(ctx context.Context, userID, typ, code string, vars map[string]string)
}

type Service struct {
	txs       TransactionRepository
	promos    PromotionRepository
	services  ServiceRepository
	listings  Listings
	notifier  Notifier
	providers map[string]providers.Provider
	urls      config.PaymentsConfig
	wallets   userLocks
	now       func() time.Time
}

// userLocks serializes wallet debits per user within the process.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func (l *userLocks) lock(userID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*userLock{}
	}
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		if ul.refs--; ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

func NewService(txs TransactionRepository, promos PromotionRepository, services ServiceRepository,
	listings Listings, notifier Notifier, provs map[string]providers.Provider, cfg config.PaymentsConfig) *Service {
	return &Service{
		txs: txs, promos: promos, services: services, listings: listings, notifier: notifier,
		providers: provs, urls: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Providers lists the configured gateways plus the wallet.
func (s *Service) Providers() []string {
	out := []string{ProviderWallet}
	for _, name := range []string{providers.Kaspi, providers.Halyk, providers.PayBox} {
		if _, ok := s.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func (s *Service) Services(ctx context.Context) ([]PromotionService, error) {
	out, err := s.services.List(ctx)
	if err != nil {
		return nil, apperr.Internal("list services", err)
	}
	return out, nil
}

// PaymentResult is a created payment and, for gateway payments, how to
// complete it.
type PaymentResult struct {
	Transaction *Transaction        `json:"transaction"`
	Promotion   *Promotion          `json:"promotion,omitempty"`
	Checkout    *providers.Checkout `json:"checkout,omitempty"`
}

type PromoteInput struct {
	ListingID   string `json:"listing_id" binding:"required"`
	ServiceCode string `json:"service_code" binding:"required"`
	Provider    string `json:"provider" binding:"required"`
}

func (s *Service) gateway(name string) (providers.Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, apperr.FieldError("provider", "unsupported payment provider "+name)
	}
	return p, nil
}

func (s *Service) checkout(p providers.Provider, tx *Transaction) (*providers.Checkout, error) {
	co, err := p.Checkout(providers.Order{
		ID: tx.ID, Amount: tx.Amount, Currency: tx.Currency, Description: tx.Description,
		ResultURL: strings.TrimRight(s.urls.ResultURL, "/") + "/" + p.Name(), SuccessURL: s.urls.SuccessURL,
	})
	if err != nil {
		return nil, apperr.Unavailable("payment provider unavailable")
	}
	return co, nil
}

// PromoteListing starts a purchase of a promotion for an active listing
// the user owns. Wallet purchases complete immediately.
func (s *Service) PromoteListing(ctx context.Context, userID string, in PromoteInput) (*PaymentResult, error) {
	svc, err := s.services.Get(ctx, in.ServiceCode)
	if err != nil {
		return nil, apperr.Internal("load service", err)
	}
	if svc == nil || !svc.IsActive {
		return nil, apperr.NotFound("promotion service %s not found", in.ServiceCode)
	}
	l, err := s.listings.Find(ctx, in.ListingID)
	if err != nil {
		return nil, apperr.Internal("load listing", err)
	}
	if l == nil {
		return nil, apperr.NotFound("listing %s not found", in.ListingID)
	}
	if l.UserID != userID {
		return nil, apperr.Forbidden("you can only promote your own listings")
	}
	if l.Status != listing.StatusActive {
		return nil, apperr.Business("only active listings can be promoted")
	}

	var gw providers.Provider
	if in.Provider != ProviderWallet {
		if gw, err = s.gateway(in.Provider); err != nil {
			return nil, err
		}
	} else {
		unlock := s.wallets.lock(userID)
		defer unlock()
		bal, err := s.Balance(ctx, userID)
		if err != nil {
			return nil, err
		}
		if bal.Balance < svc.Price {
			return nil, apperr.Payment("insufficient balance: %.2f %s available", bal.Balance, Currency)
		}
	}

	now := s.now()
	promo := &Promotion{
		ID: uuid.NewString(), ListingID: l.ID, UserID: userID, ServiceCode: svc.Code, Flag: svc.Flag,
		Status: PromoPending, Price: svc.Price, DurationDays: svc.DurationDays, CreatedAt: now,
	}
	tx := &Transaction{
		ID: uuid.NewString(), UserID: userID, Type: TxPayment, Amount: svc.Price, Currency: Currency,
		Status: TxPending, Provider: in.Provider, PromotionID: promo.ID, CreatedAt: now,
		Description: fmt.Sprintf("%s: %s", svc.Name, l.Title),
	}
	if gw == nil {
		tx.Type = TxWithdrawal
		tx.Status = TxSuccess
		tx.ProcessedAt = &now
	}
	promo.TransactionID = tx.ID
	if err := s.promos.Create(ctx, promo); err != nil {
		return nil, apperr.Internal("create promotion", err)
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		return nil, apperr.Internal("create transaction", err)
	}
	res := &PaymentResult{Transaction: tx, Promotion: promo}
	if gw == nil {
		if err := s.activate(ctx, promo); err != nil {
			return nil, err
		}
		metrics.PaymentsProcessed.WithLabelValues(ProviderWallet, TxSuccess).Inc()
		return res, nil
	}
	if res.Checkout, err = s.checkout(gw, tx); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) activate(ctx context.Context, p *Promotion) error {
	now := s.now()
	end := now.Add(time.Duration(p.DurationDays) * 24 * time.Hour)
	p.Status = PromoActive
	p.StartsAt = &now
	p.EndsAt = &end
	if err := s.promos.Update(ctx, p); err != nil {
		return apperr.Internal("update promotion", err)
	}
	if p.Flag != "" {
		if err := s.listings.SetPromotionFlag(ctx, p.ListingID, p.Flag, true); err != nil {
			return apperr.Internal("flag listing", err)
		}
	}
	return nil
}

// end moves a promotion to status and clears its listing flag unless
// another active promotion still holds it.
func (s *Service) end(ctx context.Context, p *Promotion, status string) error {
	wasActive := p.Status == PromoActive
	p.Status = status
	if err := s.promos.Update(ctx, p); err != nil {
		return err
	}
	if !wasActive || p.Flag == "" {
		return nil
	}
	held, err := s.promos.ActiveFlag(ctx, p.ListingID, p.Flag, p.ID)
	if err != nil {
		return err
	}
	if held {
		return nil
	}
	return s.listings.SetPromotionFlag(ctx, p.ListingID, p.Flag, false)
}

type TopUpInput struct {
	Amount      float64 `json:"amount" binding:"required,gt=0,lte=10000000"`
	Provider    string  `json:"provider" binding:"required"`
	Description string  `json:"description" binding:"max=255"`
}

// CreatePayment starts a wallet top-up through a gateway.
func (s *Service) CreatePayment(ctx context.Context, userID string, in TopUpInput) (*PaymentResult, error) {
	if in.Amount <= 0 {
		return nil, apperr.FieldError("amount", "amount must be positive")
	}
	gw, err := s.gateway(in.Provider)
	if err != nil {
		return nil, err
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = "Пополнение баланса"
	}
	tx := &Transaction{
		ID: uuid.NewString(), UserID: userID, Type: TxPayment, Amount: in.Amount, Currency: Currency,
		Status: TxPending, Provider: gw.Name(), Description: desc, CreatedAt: s.now(),
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		return nil, apperr.Internal("create transaction", err)
	}
	co, err := s.checkout(gw, tx)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Transaction: tx, Checkout: co}, nil
}

func (s *Service) parse(name string, payload map[string]string) (*providers.Callback, error) {
	gw, err := s.gateway(name)
	if err != nil {
		return nil, err
	}
	cb, err := gw.ParseCallback(payload)
	if errors.Is(err, providers.ErrBadSignature) {
		return nil, apperr.Validation("invalid signature")
	}
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	return cb, nil
}

// ProcessPayment applies callback data the client relays after returning
// from the gateway.
func (s *Service) ProcessPayment(ctx context.Context, userID, txID string, data map[string]string) (*Transaction, error) {
	tx, err := s.Transaction(ctx, userID, false, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != TxPending {
		return nil, apperr.Conflict("transaction already processed")
	}
	cb, err := s.parse(tx.Provider, data)
	if err != nil {
		return nil, err
	}
	if cb.OrderID != tx.ID {
		return nil, apperr.Validation("callback is for another transaction")
	}
	out, settled, err := s.complete(ctx, tx, cb)
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, apperr.Conflict("transaction already processed")
	}
	return out, nil
}

// Webhook applies a gateway notification. Repeated notifications for a
// processed transaction are acknowledged without changes.
func (s *Service) Webhook(ctx context.Context, provider string, payload map[string]string) (*Transaction, error) {
	cb, err := s.parse(provider, payload)
	if err != nil {
		return nil, err
	}
	tx, err := s.txs.Get(ctx, cb.OrderID)
	if err != nil {
		return nil, apperr.Internal("load transaction", err)
	}
	if tx == nil {
		return nil, apperr.NotFound("transaction %s not found", cb.OrderID)
	}
	if tx.Provider != provider {
		return nil, apperr.Validation("transaction belongs to another provider")
	}
	if tx.Status != TxPending {
		return tx, nil
	}
	out, settled, err := s.complete(ctx, tx, cb)
	if err != nil || settled {
		return out, err
	}
	// a concurrent delivery got there first
	if tx, err = s.txs.Get(ctx, cb.OrderID); err != nil {
		return nil, apperr.Internal("load transaction", err)
	}
	return tx, nil
}

// complete settles a pending transaction. It reports false without side
// effects when another caller already settled it.
func (s *Service) complete(ctx context.Context, tx *Transaction, cb *providers.Callback) (*Transaction, bool, error) {
	now := s.now()
	tx.ProcessedAt = &now
	tx.ExternalID = cb.ExternalID
	var promo *Promotion
	if tx.PromotionID != "" {
		p, err := s.promos.Get(ctx, tx.PromotionID)
		if err != nil {
			return nil, false, apperr.Internal("load promotion", err)
		}
		promo = p
	}
	if cb.Status != providers.StatusSuccess {
		tx.Status = TxFailed
		tx.Error = cb.Error
		if tx.Error == "" {
			tx.Error = "payment failed"
		}
		if ok, err := s.settle(ctx, tx); err != nil || !ok {
			return nil, false, err
		}
		if promo != nil && promo.Status == PromoPending {
			if err := s.end(ctx, promo, PromoCancelled); err != nil {
				return nil, true, apperr.Internal("cancel promotion", err)
			}
		}
		metrics.PaymentsProcessed.WithLabelValues(tx.Provider, TxFailed).Inc()
		return tx, true, nil
	}

	tx.Status = TxSuccess
	if ok, err := s.settle(ctx, tx); err != nil || !ok {
		return nil, false, err
	}
	if promo != nil {
		// the purchase is paid out of the money that just came in
		spend := &Transaction{
			ID: uuid.NewString(), UserID: tx.UserID, Type: TxWithdrawal, Amount: tx.Amount, Currency: tx.Currency,
			Status: TxSuccess, Provider: ProviderWallet, PromotionID: promo.ID, Description: tx.Description,
			CreatedAt: now, ProcessedAt: &now,
		}
		if err := s.txs.Create(ctx, spend); err != nil {
			return nil, true, apperr.Internal("create transaction", err)
		}
		if err := s.activate(ctx, promo); err != nil {
			return nil, true, err
		}
	}
	metrics.PaymentsProcessed.WithLabelValues(tx.Provider, TxSuccess).Inc()
	s.notifier.NotifyTemplate(ctx, tx.UserID, notifications.TypePaymentReceived, "payment_received", map[string]string{
		"amount": strconv.FormatFloat(tx.Amount, 'f', 2, 64), "currency": tx.Currency, "transaction_id": tx.ID,
	})
	return tx, true, nil
}

func (s *Service) settle(ctx context.Context, tx *Transaction) (bool, error) {
	ok, err := s.txs.Settle(ctx, tx)
	if err != nil {
		return false, apperr.Internal("update transaction", err)
	}
	return ok, nil

}

// Transaction returns a transaction visible to the caller.
func (s *Service) Transaction(ctx context.Context, userID string, isAdmin bool, id string) (*Transaction, error) {
	tx, err := s.txs.Get(ctx, id)
	if err != nil {
		return nil, apperr.Internal("load transaction", err)
	}
	if tx == nil || (!isAdmin && tx.UserID != userID) {
		return nil, apperr.NotFound("transaction %s not found", id)
	}
	return tx, nil
}

func (s *Service) Transactions(ctx context.Context, f TxFilter) ([]*Transaction, int64, error) {
	out, total, err := s.txs.List(ctx, f)
	if err != nil {
		return nil, 0, apperr.Internal("list transactions", err)
	}
	return out, total, nil
}

func (s *Service) MyPromotions(ctx context.Context, userID, status string, skip, limit int64) ([]*Promotion, int64, error) {
	out, total, err := s.promos.List(ctx, userID, status, skip, limit)
	if err != nil {
		return nil, 0, apperr.Internal("list promotions", err)
	}
	return out, total, nil
}

// Refund returns a promotion purchase to the wallet. Only successful
// purchases younger than RefundWindow qualify, once.
func (s *Service) Refund(ctx context.Context, actorID string, isAdmin bool, txID, reason string) (*Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.FieldError("reason", "reason is required")
	}
	tx, err := s.Transaction(ctx, actorID, isAdmin, txID)
	if err != nil {
		return nil, err
	}
	unlock := s.wallets.lock(tx.UserID)
	defer unlock()
	if tx.Status != TxSuccess || tx.PromotionID == "" || (tx.Type != TxPayment && tx.Type != TxWithdrawal) {
		return nil, apperr.Business("only successful promotion purchases can be refunded")
	}
	if tx.ProcessedAt == nil || s.now().Sub(*tx.ProcessedAt) > RefundWindow {
		return nil, apperr.Business("refunds are possible within 30 days of payment")
	}
	promo, err := s.promos.Get(ctx, tx.PromotionID)
	if err != nil {
		return nil, apperr.Internal("load promotion", err)
	}
	if promo == nil || promo.Status == PromoCancelled {
		return nil, apperr.Conflict("this purchase has already been refunded")
	}
	prior, _, err := s.txs.List(ctx, TxFilter{RefundOf: tx.ID, Type: TxRefund, Limit: 1})
	if err != nil {
		return nil, apperr.Internal("list refunds", err)
	}
	if len(prior) > 0 {
		return nil, apperr.Conflict("this purchase has already been refunded")
	}
	refund := &Transaction{
		ID: uuid.NewString(), UserID: tx.UserID, Type: TxRefund, Amount: tx.Amount, Currency: tx.Currency,
		Status: TxPending, Provider: ProviderWallet, RefundOf: tx.ID, PromotionID: promo.ID,
		Description: "Возврат: " + reason, CreatedAt: s.now(),
	}
	if err := s.txs.Create(ctx, refund); err != nil {
		return nil, apperr.Internal("create refund", err)
	}
	if err := s.end(ctx, promo, PromoCancelled); err != nil {
		return nil, apperr.Internal("cancel promotion", err)
	}
	return refund, nil
}

// CompleteRefund credits a pending refund to the wallet.
func (s *Service) CompleteRefund(ctx context.Context, id string) (*Transaction, error) {
	tx, err := s.Transaction(ctx, "", true, id)
	if err != nil {
		return nil, err
	}
	if tx.Type != TxRefund {
		return nil, apperr.Business("transaction is not a refund")
	}
	if tx.Status != TxPending {
		return nil, apperr.Conflict("refund already processed")
	}
	now := s.now()
	tx.Status = TxSuccess
	tx.ProcessedAt = &now
	ok, err := s.settle(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict("refund already processed")
	}
	return tx, nil
}

type BonusInput struct {
	UserID      string  `json:"user_id" binding:"required"`
	Amount      float64 `json:"amount" binding:"required,gt=0"`
	Description string  `json:"description" binding:"max=255"`
}

// GrantBonus credits the wallet directly.
func (s *Service) GrantBonus(ctx context.Context, in BonusInput) (*Transaction, error) {
	if in.Amount <= 0 {
		return nil, apperr.FieldError("amount", "amount must be positive")
	}
	now := s.now()
	tx := &Transaction{
		ID: uuid.NewString(), UserID: in.UserID, Type: TxBonus, Amount: in.Amount, Currency: Currency,
		Status: TxSuccess, Provider: ProviderWallet, Description: strings.TrimSpace(in.Description),
		CreatedAt: now, ProcessedAt: &now,
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		return nil, apperr.Internal("create transaction", err)
	}
	return tx, nil
}

type Balance struct {
	Balance  float64          `json:"balance"`
	Currency string           `json:"currency"`
	Totals   map[string]Total `json:"totals"`
}

// Balance is successful payments, bonuses and refunds less withdrawals.
func (s *Service) Balance(ctx context.Context, userID string) (*Balance, error) {
	by, err := s.txs.TotalsBy(ctx, TxFilter{UserID: userID, Status: TxSuccess}, "transaction_type")
	if err != nil {
		return nil, apperr.Internal("sum transactions", err)
	}
	b := by[TxPayment].Amount + by[TxBonus].Amount + by[TxRefund].Amount - by[TxWithdrawal].Amount
	return &Balance{Balance: b, Currency: Currency, Totals: by}, nil
}

type Statistics struct {
	ByStatus   map[string]Total `json:"by_status"`
	ByProvider map[string]Total `json:"by_provider"`
	ByType     map[string]Total `json:"by_type"`
	Monthly    []MonthTotal     `json:"monthly"`
	Revenue    float64          `json:"revenue"`
}

// Statistics summarizes one user's transactions, or everyone's when
// userID is empty. Monthly covers successful payments of the last year.
func (s *Service) Statistics(ctx context.Context, userID string) (*Statistics, error) {
	base := TxFilter{UserID: userID}
	var out Statistics
	var err error
	if out.ByStatus, err = s.txs.TotalsBy(ctx, base, "status"); err != nil {
		return nil, apperr.Internal("payment stats", err)
	}
	ok := TxFilter{UserID: userID, Status: TxSuccess}
	if out.ByProvider, err = s.txs.TotalsBy(ctx, ok, "provider"); err != nil {
		return nil, apperr.Internal("payment stats", err)
	}
	if out.ByType, err = s.txs.TotalsBy(ctx, ok, "transaction_type"); err != nil {
		return nil, apperr.Internal("payment stats", err)
	}
	year := TxFilter{UserID: userID, Status: TxSuccess, Type: TxPayment, Since: s.now().AddDate(-1, 0, 0)}
	if out.Monthly, err = s.txs.Monthly(ctx, year); err != nil {
		return nil, apperr.Internal("payment stats", err)
	}
	out.Revenue = out.ByType[TxWithdrawal].Amount - out.ByType[TxRefund].Amount
	return &out, nil
}

// Revenue is promotion sales less refunds since a time; zero means all time.
func (s *Service) Revenue(ctx context.Context, since time.Time) (float64, error) {
	by, err := s.txs.TotalsBy(ctx, TxFilter{Status: TxSuccess, Since: since}, "transaction_type")
	if err != nil {
		return 0, err
	}
	return by[TxWithdrawal].Amount - by[TxRefund].Amount, nil
}

// ExpirePromotions ends promotions past their end time.
func (s *Service) ExpirePromotions(ctx context.Context) (int, error) {
	due, err := s.promos.Due(ctx, s.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range due {
		if err := s.end(ctx, p, PromoExpired); err != nil {
			logger.Warnf("expire promotion %s: %v", p.ID, err)
			continue
		}
		n++
	}
	return n, nil
}
