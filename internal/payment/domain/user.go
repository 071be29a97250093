package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// User is the part of the platform account the billing subsystem reads and credits
type User struct {
	ID         uint            `json:"id" gorm:"primaryKey"`
	Email      string          `json:"email" gorm:"type:varchar(191);uniqueIndex"`
	Balance    decimal.Decimal `json:"balance" gorm:"type:decimal(20,8);not null;default:0"`
	Earnings   decimal.Decimal `json:"earnings" gorm:"type:decimal(20,8);not null;default:0"`
	ReferredBy *uint           `json:"referred_by,omitempty" gorm:"index"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

// TransactionType classifies a ledger entry
type TransactionType string

const (
	TxDeposit     TransactionType = "deposit"
	TxPurchase    TransactionType = "purchase"
	TxAdminAdd    TransactionType = "admin_add"
	TxAdminDeduct TransactionType = "admin_deduct"
	TxRefund      TransactionType = "refund"
	TxReferral    TransactionType = "referral"
)

// IsDebit reports whether the entry type lowers the balance
func (t TransactionType) IsDebit() bool {
	return t == TxPurchase || t == TxAdminDeduct
}

// BalanceTransaction is an immutable ledger entry; every balance change writes exactly one
type BalanceTransaction struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	UserID          uint            `json:"user_id" gorm:"not null;index"`
	Type            TransactionType `json:"type" gorm:"type:varchar(16);not null"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(20,8);not null"`
	PreviousBalance decimal.Decimal `json:"previous_balance" gorm:"type:decimal(20,8);not null"`
	NewBalance      decimal.Decimal `json:"new_balance" gorm:"type:decimal(20,8);not null"`
	PaymentRecordID *uint           `json:"payment_record_id,omitempty" gorm:"index"`
	IdempotencyKey  *string         `json:"-" gorm:"type:varchar(128);uniqueIndex"`
	Description     string          `json:"description"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TableName specifies the table name
func (BalanceTransaction) TableName() string {
	return "balance_transactions"
}

// LedgerEntry requests one balance mutation. Amount is always positive; Type decides the sign.
type LedgerEntry struct {
	UserID          uint
	Type            TransactionType
	Amount          decimal.Decimal
	PaymentRecordID *uint
	IdempotencyKey  string
	Description     string
	// CreditEarnings also adds Amount to the user's referral earnings
	CreditEarnings bool
}

// UserRepository is the user and balance store
type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*User, error)
	// ApplyLedgerEntry atomically appends the ledger entry and moves the balance.
	// It returns ErrAlreadyApplied when the idempotency key was used before.
	ApplyLedgerEntry(ctx context.Context, entry LedgerEntry) (*BalanceTransaction, error)
	ListTransactions(ctx context.Context, userID uint, limit, offset int) ([]BalanceTransaction, error)
}

// CredentialStore serves gateway credentials
type CredentialStore interface {
	Get(ctx context.Context, gateway Gateway) (*GatewayCredential, error)
}

// CredentialRepository also saves them
type CredentialRepository interface {
	CredentialStore
	Upsert(ctx context.Context, cred *GatewayCredential) error
}
