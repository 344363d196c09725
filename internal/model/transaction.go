package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusPosted   TransactionStatus = "posted"
	TransactionStatusReversed TransactionStatus = "reversed"
)

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

type TransactionKind string

const (
	TransactionKindPurchase   TransactionKind = "purchase"
	TransactionKindTopUp      TransactionKind = "topup"
	TransactionKindRefund     TransactionKind = "refund"
	TransactionKindTransfer   TransactionKind = "transfer"
	TransactionKindAdjustment TransactionKind = "adjustment"
)

// Transaction is an append-only ledger row. Wallet rows move the user's
// balance; purchase rows for externally settled payments do not.
type Transaction struct {
	ID          int64             `json:"id"`
	UserID      int64             `json:"user_id"`
	NumberID    *int64            `json:"number_id,omitempty"`
	PaymentID   *string           `json:"payment_id,omitempty"`
	OperationID string            `json:"operation_id"`
	Direction   Direction         `json:"direction"`
	Kind        TransactionKind   `json:"kind"`
	Wallet      bool              `json:"wallet"`
	AmountStars int64             `json:"amount_stars"`
	AmountFiat  decimal.Decimal   `json:"amount_fiat"`
	Provider    string            `json:"provider"`
	ProviderID  string            `json:"provider_id,omitempty"`
	Status      TransactionStatus `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// WalletRequest describes a ledgered balance change. OperationID makes the
// call idempotent: repeating it returns the first result.
type WalletRequest struct {
	UserID      int64
	Amount      Money
	Reason      string
	OperationID string
	Kind        TransactionKind
	NumberID    *int64
	PaymentID   *string
}

func (r WalletRequest) Validate() error {
	if r.UserID == 0 {
		return Invalid("user id is required")
	}
	if r.OperationID == "" {
		return Invalid("operation id is required")
	}
	if !r.Amount.Currency.Valid() {
		return Invalid("unknown currency").With("currency", string(r.Amount.Currency))
	}
	if !r.Amount.Positive() {
		return Invalid("amount must be positive").With("amount", r.Amount.String())
	}
	return nil
}
