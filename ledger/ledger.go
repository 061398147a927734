/*
Package ledger models per-account balances with escrow semantics.

PURPOSE:
  Bookings and tournament registrations debit a student's account at
  request time (escrow); rejections and approved cancellations refund
  the linked payment in full. The ledger is the only component allowed
  to mutate balances.

CRITICAL INVARIANTS:
  1. Debit is atomic check-and-deduct: insufficient balance means no
     mutation at all.
  2. Every debit produces a Payment record; refunds reference the
     payment, never a free-form amount, so a refund restores the exact
     pre-debit balance.
  3. A payment refunds at most once.

OUT OF SCOPE:
  Real payment-gateway integration. The balance is an internal number
  with debit/credit semantics only.

SEE ALSO:
  - booking/engine.go: escrow debit on booking, refund on reject
  - tournament/lifecycle.go: entry-fee debit on registration
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paddlepoint/coaching-engine/core"
)

// =============================================================================
// PAYMENT - Record of a single escrow debit
// =============================================================================

// Payment records one debit against an account.
type Payment struct {
	ID        string
	AccountID string
	Amount    decimal.Decimal
	Reference string // what the payment was for (appointment id, match id)
	Refunded  bool
	CreatedAt time.Time
}

// =============================================================================
// LEDGER - Balance operations
// =============================================================================

// Ledger holds per-account balances and payment records.
type Ledger interface {
	// Balance returns the current balance of an account. Unknown accounts
	// have a zero balance.
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)

	// Credit adds amount to an account.
	Credit(ctx context.Context, accountID string, amount decimal.Decimal) error

	// Debit atomically checks and deducts amount, recording a Payment.
	// Returns a wrapped core.ErrInsufficientFunds without mutating anything
	// if the balance cannot cover the amount.
	Debit(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (*Payment, error)

	// Refund credits a payment's full amount back to its account.
	// Fails with core.ErrNotFound for an unknown payment and with
	// core.ErrRefundFailed if the payment was already refunded.
	Refund(ctx context.Context, paymentID string) error

	// Payment returns a payment record by id.
	Payment(ctx context.Context, paymentID string) (*Payment, error)
}

// =============================================================================
// MEMORY LEDGER - The internal-balance implementation
// =============================================================================

// Memory is a mutex-guarded in-process ledger.
type Memory struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	payments map[string]*Payment
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]decimal.Decimal),
		payments: make(map[string]*Payment),
	}
}

func (m *Memory) Balance(_ context.Context, accountID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountID], nil
}

func (m *Memory) Credit(_ context.Context, accountID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative credit %s", core.ErrValidation, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] = m.balances[accountID].Add(amount)
	return nil
}

func (m *Memory) Debit(_ context.Context, accountID string, amount decimal.Decimal, reference string) (*Payment, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative debit %s", core.ErrValidation, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	balance := m.balances[accountID]
	if balance.LessThan(amount) {
		return nil, &core.InsufficientFundsError{
			AccountID: accountID,
			Available: balance,
			Requested: amount,
		}
	}

	p := &Payment{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now(),
	}
	m.balances[accountID] = balance.Sub(amount)
	m.payments[p.ID] = p
	return p, nil
}

func (m *Memory) Refund(_ context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[paymentID]
	if !ok {
		return fmt.Errorf("%w: payment %s", core.ErrNotFound, paymentID)
	}
	if p.Refunded {
		return &core.RefundError{PaymentID: paymentID, Cause: fmt.Errorf("already refunded")}
	}
	p.Refunded = true
	m.balances[p.AccountID] = m.balances[p.AccountID].Add(p.Amount)
	return nil
}

func (m *Memory) Payment(_ context.Context, paymentID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", core.ErrNotFound, paymentID)
	}
	cp := *p
	return &cp, nil
}
