// Package payments sells listing promotions and keeps the user wallet.
package payments

import "time"

const (
	Currency = "KZT"

	TxPayment    = "payment"
	TxRefund     = "refund"
	TxBonus      = "bonus"
	TxWithdrawal = "withdrawal"

	TxPending = "pending"
	TxSuccess = "success"
	TxFailed  = "failed"

	PromoPending   = "pending"
	PromoActive    = "active"
	PromoExpired   = "expired"
	PromoCancelled = "cancelled"

	ProviderWallet = "wallet"

	RefundWindow = 30 * 24 * time.Hour
)

type PromotionService struct {
	Code         string  `bson:"_id" json:"code"`
	Name         string  `bson:"name" json:"name"`
	Description  string  `bson:"description" json:"description"`
	Price        float64 `bson:"price" json:"price"`
	DurationDays int     `bson:"duration_days" json:"duration_days"`
	// Flag is the listing flag the promotion sets, if any.
	Flag      string `bson:"flag,omitempty" json:"-"`
	IsActive  bool   `bson:"is_active" json:"is_active"`
	SortOrder int    `bson:"sort_order" json:"sort_order"`
}

// DefaultServices is the promotion price list.
var DefaultServices = []PromotionService{
	{Code: "featured", Name: "Спецпредложение", Description: "Объявление в блоке спецпредложений", Price: 2500, DurationDays: 7, Flag: "is_featured", IsActive: true, SortOrder: 1},
	{Code: "top", Name: "В топ", Description: "Поднятие в начало выдачи", Price: 1500, DurationDays: 3, Flag: "is_featured", IsActive: true, SortOrder: 2},
	{Code: "urgent", Name: "Срочно", Description: "Отметка «Срочно»", Price: 1000, DurationDays: 7, Flag: "is_urgent", IsActive: true, SortOrder: 3},
	{Code: "highlight", Name: "Выделение цветом", Description: "Цветная подложка в выдаче", Price: 700, DurationDays: 7, IsActive: true, SortOrder: 4},
}

type Promotion struct {
	ID            string     `bson:"_id" json:"id"`
	ListingID     string     `bson:"listing_id" json:"listing_id"`
	UserID        string     `bson:"user_id" json:"user_id"`
	ServiceCode   string     `bson:"service_code" json:"service_code"`
	Flag          string     `bson:"flag,omitempty" json:"-"`
	Status        string     `bson:"status" json:"status"`
	Price         float64    `bson:"price" json:"price"`
	DurationDays  int        `bson:"duration_days" json:"duration_days"`
	StartsAt      *time.Time `bson:"starts_at,omitempty" json:"starts_at,omitempty"`
	EndsAt        *time.Time `bson:"ends_at,omitempty" json:"ends_at,omitempty"`
	TransactionID string     `bson:"transaction_id" json:"transaction_id"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
}

type Transaction struct {
	ID          string     `bson:"_id" json:"id"`
	UserID      string     `bson:"user_id" json:"user_id"`
	Type        string     `bson:"transaction_type" json:"transaction_type"`
	Amount      float64    `bson:"amount" json:"amount"`
	Currency    string     `bson:"currency" json:"currency"`
	Status      string     `bson:"status" json:"status"`
	Provider    string     `bson:"provider" json:"provider"`
	ExternalID  string     `bson:"external_id,omitempty" json:"external_id,omitempty"`
	Description string     `bson:"description" json:"description"`
	PromotionID string     `bson:"promotion_id,omitempty" json:"promotion_id,omitempty"`
	RefundOf    string     `bson:"refund_of,omitempty" json:"refund_of,omitempty"`
	Error       string     `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// TxFilter selects transactions. Zero fields match everything.
type TxFilter struct {
	UserID   string
	Type     string
	Status   string
	Provider string
	RefundOf string
	Since    time.Time
	Skip     int64
	Limit    int64
}

func (f TxFilter) match(t *Transaction) bool {
	return (f.UserID == "" || t.UserID == f.UserID) &&
		(f.Type == "" || t.Type == f.Type) &&
		(f.Status == "" || t.Status == f.Status) &&
		(f.Provider == "" || t.Provider == f.Provider) &&
		(f.RefundOf == "" || t.RefundOf == f.RefundOf) &&
		(f.Since.IsZero() || !t.CreatedAt.Before(f.Since))
}

// Total is a count and sum of amounts.
type Total struct {
	Count  int64   `bson:"count" json:"count"`
	Amount float64 `bson:"amount" json:"amount"`
}

type MonthTotal struct {
	Month string `bson:"_id" json:"month"`
	Total `bson:",inline"`
}
