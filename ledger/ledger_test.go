package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/paddlepoint/coaching-engine/core"
	"github.com/paddlepoint/coaching-engine/ledger"
)

func money(s string) decimal.Decimal { return core.MustMoney(s) }

func TestDebit_ExactRefundRestoresBalance(t *testing.T) {
	// GIVEN: an account with 200.00
	// WHEN: 120.00 is debited then refunded
	// THEN: the balance returns to exactly 200.00

	ctx := context.Background()
	l := ledger.NewMemory()
	require.NoError(t, l.Credit(ctx, "student-1", money("200.00")))

	p, err := l.Debit(ctx, "student-1", money("120.00"), "appt-1")
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "student-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(money("80.00")), "after debit: %s", balance)

	require.NoError(t, l.Refund(ctx, p.ID))

	balance, err = l.Balance(ctx, "student-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(money("200.00")), "after refund: %s", balance)
}

func TestDebit_InsufficientFundsLeavesBalanceUntouched(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	require.NoError(t, l.Credit(ctx, "student-1", money("50.00")))

	_, err := l.Debit(ctx, "student-1", money("120.00"), "appt-1")
	require.ErrorIs(t, err, core.ErrInsufficientFunds)

	var detail *core.InsufficientFundsError
	require.True(t, errors.As(err, &detail))
	require.True(t, detail.Available.Equal(money("50.00")))

	balance, err := l.Balance(ctx, "student-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(money("50.00")))
}

func TestRefund_SecondRefundFails(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	require.NoError(t, l.Credit(ctx, "student-1", money("100.00")))

	p, err := l.Debit(ctx, "student-1", money("30.00"), "match-1")
	require.NoError(t, err)

	require.NoError(t, l.Refund(ctx, p.ID))
	err = l.Refund(ctx, p.ID)
	require.ErrorIs(t, err, core.ErrRefundFailed)

	// Balance unchanged by the failed second refund.
	balance, _ := l.Balance(ctx, "student-1")
	require.True(t, balance.Equal(money("100.00")))
}

func TestRefund_UnknownPayment(t *testing.T) {
	err := ledger.NewMemory().Refund(context.Background(), "nope")
	require.ErrorIs(t, err, core.ErrNotFound)
}
