package repository

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

// GormUserRepository owns user balances and the balance ledger
type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (user *domain.User, err error) {
	ctx, span := startSpan(ctx, "FindUserByID", attribute.Int("user.id", int(id)))
	defer func() { endSpan(span, err, domain.ErrUserNotFound) }()

	var u domain.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ApplyLedgerEntry locks the user row, moves the balance and appends the ledger
// entry in one transaction. A reused idempotency key yields domain.ErrAlreadyApplied.
func (r *GormUserRepository) ApplyLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (txn *domain.BalanceTransaction, err error) {
	ctx, span := startSpan(ctx, "ApplyLedgerEntry",
		attribute.Int("user.id", int(entry.UserID)),
		attribute.String("ledger.type", string(entry.Type)),
		attribute.String("ledger.amount", entry.Amount.String()),
	)
	defer func() { endSpan(span, err, domain.ErrAlreadyApplied) }()

	if !entry.Amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "ledger amount must be positive")
	}

	var key *string
	if entry.IdempotencyKey != "" {
		k := entry.IdempotencyKey
		key = &k
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if key != nil {
			var existing int64
			if err := tx.Model(&domain.BalanceTransaction{}).Where("idempotency_key = ?", *key).Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				return domain.ErrAlreadyApplied
			}
		}

		var user domain.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, entry.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrUserNotFound
			}
			return err
		}

		delta := entry.Amount
		if entry.Type.IsDebit() {
			delta = delta.Neg()
		}
		newBalance := user.Balance.Add(delta)
		if entry.Type.IsDebit() && newBalance.IsNegative() {
			return domain.ErrInsufficientFunds
		}

		updates := map[string]interface{}{"balance": newBalance}
		if entry.CreditEarnings {
			updates["earnings"] = user.Earnings.Add(entry.Amount)
		}
		if err := tx.Model(&domain.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return err
		}

		txn = &domain.BalanceTransaction{
			UserID:          user.ID,
			Type:            entry.Type,
			Amount:          entry.Amount,
			PreviousBalance: user.Balance,
			NewBalance:      newBalance,
			PaymentRecordID: entry.PaymentRecordID,
			IdempotencyKey:  key,
			Description:     entry.Description,
		}
		if err := tx.Create(txn).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrAlreadyApplied
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyApplied) || errors.Is(err, domain.ErrUserNotFound) || errors.Is(err, domain.ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to apply %s ledger entry for user %d: %w", entry.Type, entry.UserID, err)
	}
	return txn, nil
}

func (r *GormUserRepository) ListTransactions(ctx context.Context, userID uint, limit, offset int) (txns []domain.BalanceTransaction, err error) {
	ctx, span := startSpan(ctx, "ListTransactions", attribute.Int("user.id", int(userID)))
	defer func() { endSpan(span, err) }()

	err = r.db.WithContext(ctx).Where("user_id = ?", userID).
		Limit(limit).Offset(offset).
		Order("id DESC").
		Find(&txns).Error
	return txns, err
}
