// Package testutil provides in-memory collaborators for payment service tests.
// The stores honour the same compare-and-set rules as the gorm repositories.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

// PaymentStore is an in-memory domain.PaymentRepository
type PaymentStore struct {
	mu      sync.Mutex
	records map[uint]*domain.PaymentRecord
	nextID  uint

	// FailCAS makes every CompareAndUpdate return this error when set
	FailCAS error
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{records: make(map[uint]*domain.PaymentRecord)}
}

func (s *PaymentStore) Create(ctx context.Context, record *domain.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.OrderNumber == record.OrderNumber {
			return domain.NewValidationError("order_number", "duplicate")
		}
	}
	s.nextID++
	record.ID = s.nextID
	now := time.Now()
	record.CreatedAt, record.UpdatedAt = now, now
	if record.Status == "" {
		record.Status = domain.StatusPending
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *PaymentStore) find(match func(*domain.PaymentRecord) bool) (*domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *domain.PaymentRecord
	for _, r := range s.records {
		if match(r) && (found == nil || r.ID > found.ID) {
			found = r
		}
	}
	if found == nil {
		return nil, domain.ErrRecordNotFound
	}
	return found.Clone(), nil
}

func (s *PaymentStore) FindByID(ctx context.Context, id uint) (*domain.PaymentRecord, error) {
	return s.find(func(r *domain.PaymentRecord) bool { return r.ID == id })
}

func (s *PaymentStore) FindByExternalRef(ctx context.Context, gw domain.Gateway, ref string) (*domain.PaymentRecord, error) {
	return s.find(func(r *domain.PaymentRecord) bool { return ref != "" && r.Gateway == gw && r.ExternalRef == ref })
}

func (s *PaymentStore) FindByAnyExternalRef(ctx context.Context, ref string) (*domain.PaymentRecord, error) {
	return s.find(func(r *domain.PaymentRecord) bool { return ref != "" && r.ExternalRef == ref })
}

func (s *PaymentStore) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.PaymentRecord, error) {
	return s.find(func(r *domain.PaymentRecord) bool { return orderNumber != "" && r.OrderNumber == orderNumber })
}

func (s *PaymentStore) FindByPurchaseID(ctx context.Context, gw domain.Gateway, purchaseID string) (*domain.PaymentRecord, error) {
	return s.find(func(r *domain.PaymentRecord) bool {
		return purchaseID != "" && r.Gateway == gw && r.PurchaseID == purchaseID
	})
}

func (s *PaymentStore) FindAll(ctx context.Context, limit, offset int) ([]domain.PaymentRecord, error) {
	all := s.All()
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// All returns a copy of every stored record
func (s *PaymentStore) All() []domain.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PaymentRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r.Clone())
	}
	return out
}

func (s *PaymentStore) CompareAndUpdate(ctx context.Context, record *domain.PaymentRecord, expected domain.CanonicalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCAS != nil {
		return s.FailCAS
	}
	stored, ok := s.records[record.ID]
	if !ok || stored.Status != expected || stored.CompletedAt != nil {
		return domain.ErrConflict
	}
	next := stored.Clone()
	next.Status = record.Status
	next.NativeStatus = record.NativeStatus
	next.MergeFields(record.GatewayFields)
	next.CompletedAt = record.CompletedAt
	next.LastStatusUpdate = record.LastStatusUpdate
	next.PurchaseID = record.PurchaseID
	next.UpdatedAt = time.Now()
	s.records[record.ID] = next
	record.GatewayFields = next.Clone().GatewayFields
	return nil
}

func (s *PaymentStore) MergeGatewayFields(ctx context.Context, id uint, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	stored.MergeFields(fields)
	return nil
}

func (s *PaymentStore) UpdateSubscription(ctx context.Context, id uint, sub domain.Subscription, expected *domain.SubscriptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if expected != nil && stored.Subscription.Status != *expected {
		return domain.ErrConflict
	}
	c := (&domain.PaymentRecord{Subscription: sub}).Clone()
	stored.Subscription = c.Subscription
	return nil
}

func (s *PaymentStore) CountCompletedOrdersBefore(ctx context.Context, userID uint, completedAt time.Time, id uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.records {
		if r.ID == id || r.UserID == nil || *r.UserID != userID || r.CompletedAt == nil {
			continue
		}
		if r.Purpose != domain.PurposeOrder && r.Purpose != domain.PurposeSubscription {
			continue
		}
		if r.CompletedAt.Before(completedAt) || (r.CompletedAt.Equal(completedAt) && r.ID < id) {
			n++
		}
	}
	return n, nil
}

func (s *PaymentStore) FindDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]domain.PaymentRecord, error) {
	var due []domain.PaymentRecord
	for _, r := range s.All() {
		sub := r.Subscription
		if sub.IntervalDays > 0 && sub.AutoRenew && sub.Status == domain.SubscriptionActive &&
			sub.NextBillingDate != nil && !sub.NextBillingDate.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// UserStore is an in-memory domain.UserRepository
type UserStore struct {
	mu     sync.Mutex
	users  map[uint]*domain.User
	txns   []domain.BalanceTransaction
	keys   map[string]bool
	nextID uint

	// FailLedger makes ApplyLedgerEntry fail for the given transaction type
	FailLedger map[domain.TransactionType]error
}

func NewUserStore() *UserStore {
	return &UserStore{
		users:      make(map[uint]*domain.User),
		keys:       make(map[string]bool),
		FailLedger: make(map[domain.TransactionType]error),
	}
}

// Add stores u, assigning an id when unset
func (s *UserStore) Add(u *domain.User) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		s.nextID++
		u.ID = s.nextID
	} else if u.ID > s.nextID {
		s.nextID = u.ID
	}
	c := *u
	s.users[u.ID] = &c
	return u
}

func (s *UserStore) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (s *UserStore) ApplyLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.BalanceTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailLedger[entry.Type]; err != nil {
		return nil, err
	}
	if entry.IdempotencyKey != "" && s.keys[entry.IdempotencyKey] {
		return nil, domain.ErrAlreadyApplied
	}
	u, ok := s.users[entry.UserID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	delta := entry.Amount
	if entry.Type.IsDebit() {
		delta = delta.Neg()
	}
	newBalance := u.Balance.Add(delta)
	if newBalance.IsNegative() && entry.Type.IsDebit() {
		return nil, domain.ErrInsufficientFunds
	}

	txn := domain.BalanceTransaction{
		ID:              uint(len(s.txns) + 1),
		UserID:          u.ID,
		Type:            entry.Type,
		Amount:          entry.Amount,
		PreviousBalance: u.Balance,
		NewBalance:      newBalance,
		PaymentRecordID: entry.PaymentRecordID,
		Description:     entry.Description,
		CreatedAt:       time.Now(),
	}
	if entry.IdempotencyKey != "" {
		key := entry.IdempotencyKey
		txn.IdempotencyKey = &key
		s.keys[key] = true
	}
	u.Balance = newBalance
	if entry.CreditEarnings {
		u.Earnings = u.Earnings.Add(entry.Amount)
	}
	s.txns = append(s.txns, txn)
	return &txn, nil
}

func (s *UserStore) ListTransactions(ctx context.Context, userID uint, limit, offset int) ([]domain.BalanceTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BalanceTransaction
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].UserID == userID {
			out = append(out, s.txns[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Transactions returns every ledger entry in insertion order
func (s *UserStore) Transactions() []domain.BalanceTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BalanceTransaction(nil), s.txns...)
}

// Balance returns the stored balance of a user, zero when unknown
func (s *UserStore) Balance(id uint) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u.Balance
	}
	return decimal.Zero
}

// Earnings returns the stored referral earnings of a user
func (s *UserStore) Earnings(id uint) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u.Earnings
	}
	return decimal.Zero
}

// CredentialStore is an in-memory domain.CredentialRepository
type CredentialStore struct {
	mu    sync.Mutex
	creds map[domain.Gateway]domain.GatewayCredential
}

func NewCredentialStore(creds ...*domain.GatewayCredential) *CredentialStore {
	s := &CredentialStore{creds: make(map[domain.Gateway]domain.GatewayCredential)}
	for _, c := range creds {
		s.creds[c.Gateway] = *c
	}
	return s
}

func (s *CredentialStore) Get(ctx context.Context, gw domain.Gateway) (*domain.GatewayCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[gw]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	return &c, nil
}

func (s *CredentialStore) Upsert(ctx context.Context, cred *domain.GatewayCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.Gateway] = *cred
	return nil
}
