package dto

import (
	"time"

	"github.com/orbitpanel/backend/internal/domain/billing"
	"github.com/google/uuid"
)

// TopUpRequest initiates a wallet credit
type TopUpRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// AdjustBalanceRequest applies a signed admin balance correction
type AdjustBalanceRequest struct {
	Delta float64 `json:"delta" binding:"required"`
}

// ListTransactionsRequest filters the ledger history
type ListTransactionsRequest struct {
	ListRequest
	Type   string `form:"type" binding:"omitempty,oneof=TOP_UP SUBSCRIPTION_PAYMENT"`
	Status string `form:"status" binding:"omitempty,oneof=PENDING SCHEDULED PAID OVERDUE EXPIRED FAILED SUCCESS"`
}

// Filter converts the request into a repository filter
func (r *ListTransactionsRequest) Filter() billing.TransactionFilter {
	r.Normalize()
	filter := billing.TransactionFilter{
		Page:     r.Page,
		PageSize: r.PageSize,
	}
	if r.Type != "" {
		t := billing.TransactionType(r.Type)
		filter.Type = &t
	}
	if r.Status != "" {
		s := billing.TransactionStatus(r.Status)
		filter.Status = &s
	}
	return filter
}

// WalletResponse represents a wallet balance
type WalletResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   string    `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWalletResponse maps a wallet to its API shape
func NewWalletResponse(wallet *billing.Wallet) WalletResponse {
	return WalletResponse{
		AccountID: wallet.AccountID,
		Balance:   wallet.Balance.String(),
		UpdatedAt: wallet.UpdatedAt,
	}
}

// TransactionResponse represents a ledger entry
type TransactionResponse struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	ReferenceID string    `json:"reference_id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Amount      string    `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewTransactionResponse maps a ledger entry to its API shape
func NewTransactionResponse(tx *billing.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:          tx.ID,
		AccountID:   tx.AccountID,
		ReferenceID: tx.ReferenceID,
		Type:        string(tx.Type),
		Status:      string(tx.Status),
		Amount:      tx.Amount.String(),
		CreatedAt:   tx.CreatedAt,
		UpdatedAt:   tx.UpdatedAt,
	}
}

// NewTransactionResponses maps a ledger entry slice
func NewTransactionResponses(txs []*billing.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, len(txs))
	for i, tx := range txs {
		out[i] = NewTransactionResponse(tx)
	}
	return out
}

// SubscriptionResponse represents a billing subscription
type SubscriptionResponse struct {
	ID              uuid.UUID `json:"id"`
	ServerID        uuid.UUID `json:"server_id"`
	AccountID       uuid.UUID `json:"account_id"`
	Amount          string    `json:"amount"`
	NextPaymentDate time.Time `json:"next_payment_date"`
	NextExpireDate  time.Time `json:"next_expire_date"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewSubscriptionResponse maps a subscription to its API shape
func NewSubscriptionResponse(sub *billing.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:              sub.ID,
		ServerID:        sub.ServerID,
		AccountID:       sub.AccountID,
		Amount:          sub.Amount.String(),
		NextPaymentDate: sub.NextPaymentDate,
		NextExpireDate:  sub.NextExpireDate,
		CreatedAt:       sub.CreatedAt,
	}
}

// NewSubscriptionResponses maps a subscription slice
func NewSubscriptionResponses(subs []*billing.Subscription) []SubscriptionResponse {
	out := make([]SubscriptionResponse, len(subs))
	for i, sub := range subs {
		out[i] = NewSubscriptionResponse(sub)
	}
	return out
}
