package repository

import (
	"github.com/nimasrn/number-market/pkg/pg"
)

// Store groups the repositories over one database handle.
type Store struct {
	*pg.DB
	Users          *UserRepository
	Accounts       *AccountRepository
	Numbers        *NumberRepository
	Payments       *PaymentRepository
	Transactions   *TransactionRepository
	Audit          *AuditRepository
	CodeDeliveries *CodeDeliveryRepository
}

func NewStore(db *pg.DB) *Store {
	return &Store{
		DB:             db,
		Users:          NewUserRepository(db),
		Accounts:       NewAccountRepository(db),
		Numbers:        NewNumberRepository(db),
		Payments:       NewPaymentRepository(db),
		Transactions:   NewTransactionRepository(db),
		Audit:          NewAuditRepository(db),
		CodeDeliveries: NewCodeDeliveryRepository(db),
	}
}
