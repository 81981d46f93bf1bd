package bank

import (
	"errors"
	"testing"

	"github.com/perphouse/clearing-api/internal/fixedpoint"
	"github.com/perphouse/clearing-api/internal/types"
)

const testNow = int64(1_700_000_000)

func freshBank() *types.Bank {
	return &types.Bank{
		BankIndex:                 0,
		Symbol:                    "USDC",
		CumulativeDepositInterest: fixedpoint.InterestPrecision,
		CumulativeBorrowInterest:  fixedpoint.InterestPrecision,
		LastInterestTs:            testNow,
	}
}

func TestTokenScaledRoundTrip(t *testing.T) {
	b := freshBank()

	// With pristine indexes, scaled and token amounts coincide.
	tokens, err := TokenAmount(1_000_000, b, types.BalanceDeposit)
	if err != nil {
		t.Fatal(err)
	}
	if tokens != 1_000_000 {
		t.Errorf("TokenAmount = %d, want 1_000_000", tokens)
	}

	// After interest accrues, a scaled deposit is worth more tokens.
	b.CumulativeDepositInterest = fixedpoint.InterestPrecision * 11 / 10
	tokens, err = TokenAmount(1_000_000, b, types.BalanceDeposit)
	if err != nil {
		t.Fatal(err)
	}
	if tokens != 1_100_000 {
		t.Errorf("TokenAmount with 10%% interest = %d, want 1_100_000", tokens)
	}

	scaled, err := ScaledAmount(1_100_000, b, types.BalanceDeposit)
	if err != nil {
		t.Fatal(err)
	}
	if scaled != 1_000_000 {
		t.Errorf("ScaledAmount = %d, want 1_000_000", scaled)
	}

	if _, err := TokenAmount(1, b, types.BalanceDirection("BOGUS")); !errors.Is(err, ErrInvalidBalanceDirection) {
		t.Fatalf("error = %v, want ErrInvalidBalanceDirection", err)
	}
}

func TestAccrueInterestIdempotent(t *testing.T) {
	b := freshBank()
	b.DepositBalance = 1_000 * fixedpoint.QuotePrecision
	b.BorrowBalance = 500 * fixedpoint.QuotePrecision

	if err := AccrueInterest(b, testNow); err != nil {
		t.Fatal(err)
	}
	if b.CumulativeDepositInterest != fixedpoint.InterestPrecision {
		t.Error("same-second accrual must be a no-op")
	}

	if err := AccrueInterest(b, testNow-100); err != nil {
		t.Fatal(err)
	}
	if b.LastInterestTs != testNow {
		t.Error("accrual must never move the clock backwards")
	}
}

func TestAccrueInterestGrowsIndexes(t *testing.T) {
	b := freshBank()
	b.DepositBalance = 1_000 * fixedpoint.QuotePrecision
	b.BorrowBalance = 500 * fixedpoint.QuotePrecision

	// A year at 50% utilization: borrow rate 2% + 10%, deposit rate
	// utilization-scaled at 6%.
	if err := AccrueInterest(b, testNow+31_536_000); err != nil {
		t.Fatal(err)
	}

	wantBorrow := fixedpoint.InterestPrecision * 112 / 100
	if b.CumulativeBorrowInterest != wantBorrow {
		t.Errorf("CumulativeBorrowInterest = %d, want %d", b.CumulativeBorrowInterest, wantBorrow)
	}
	wantDeposit := fixedpoint.InterestPrecision * 106 / 100
	if b.CumulativeDepositInterest != wantDeposit {
		t.Errorf("CumulativeDepositInterest = %d, want %d", b.CumulativeDepositInterest, wantDeposit)
	}
	if b.LastInterestTs != testNow+31_536_000 {
		t.Errorf("LastInterestTs = %d", b.LastInterestTs)
	}
}

func TestAccrueInterestIdleBank(t *testing.T) {
	b := freshBank()

	// No borrows means no utilization: the borrow index still grows at
	// the base rate, the deposit index does not.
	b.DepositBalance = 1_000 * fixedpoint.QuotePrecision
	if err := AccrueInterest(b, testNow+31_536_000); err != nil {
		t.Fatal(err)
	}
	if b.CumulativeDepositInterest != fixedpoint.InterestPrecision {
		t.Errorf("idle deposit index moved: %d", b.CumulativeDepositInterest)
	}
	wantBorrow := fixedpoint.InterestPrecision * 102 / 100
	if b.CumulativeBorrowInterest != wantBorrow {
		t.Errorf("CumulativeBorrowInterest = %d, want %d", b.CumulativeBorrowInterest, wantBorrow)
	}
}

func TestApplyBalanceDeltaSameDirection(t *testing.T) {
	b := freshBank()
	account := &types.Account{
		AccountID:        "ACC_1",
		QuoteBalance:     100,
		QuoteBalanceType: types.BalanceDeposit,
	}
	b.DepositBalance = 100

	if err := UpdateAccountBalance(50, types.BalanceDeposit, b, account); err != nil {
		t.Fatal(err)
	}
	if account.QuoteBalance != 150 {
		t.Errorf("QuoteBalance = %d, want 150", account.QuoteBalance)
	}
	if account.QuoteBalanceType != types.BalanceDeposit {
		t.Errorf("QuoteBalanceType = %s", account.QuoteBalanceType)
	}
	if b.DepositBalance != 150 {
		t.Errorf("bank DepositBalance = %d, want 150", b.DepositBalance)
	}
}

func TestApplyBalanceDeltaReduces(t *testing.T) {
	b := freshBank()
	account := &types.Account{
		AccountID:        "ACC_1",
		QuoteBalance:     100,
		QuoteBalanceType: types.BalanceDeposit,
	}
	b.DepositBalance = 100

	if err := UpdateAccountBalance(40, types.BalanceBorrow, b, account); err != nil {
		t.Fatal(err)
	}
	if account.QuoteBalance != 60 {
		t.Errorf("QuoteBalance = %d, want 60", account.QuoteBalance)
	}
	if account.QuoteBalanceType != types.BalanceDeposit {
		t.Errorf("QuoteBalanceType flipped early: %s", account.QuoteBalanceType)
	}
	if b.DepositBalance != 60 {
		t.Errorf("bank DepositBalance = %d, want 60", b.DepositBalance)
	}
	if b.BorrowBalance != 0 {
		t.Errorf("bank BorrowBalance = %d, want 0", b.BorrowBalance)
	}
}

func TestApplyBalanceDeltaCrossesZero(t *testing.T) {
	b := freshBank()
	account := &types.Account{
		AccountID:        "ACC_1",
		QuoteBalance:     100,
		QuoteBalanceType: types.BalanceDeposit,
	}
	b.DepositBalance = 100

	if err := UpdateAccountBalance(140, types.BalanceBorrow, b, account); err != nil {
		t.Fatal(err)
	}
	if account.QuoteBalance != 40 {
		t.Errorf("QuoteBalance = %d, want 40", account.QuoteBalance)
	}
	if account.QuoteBalanceType != types.BalanceBorrow {
		t.Errorf("QuoteBalanceType = %s, want BORROW", account.QuoteBalanceType)
	}
	if b.DepositBalance != 0 {
		t.Errorf("bank DepositBalance = %d, want 0", b.DepositBalance)
	}
	if b.BorrowBalance != 40 {
		t.Errorf("bank BorrowBalance = %d, want 40", b.BorrowBalance)
	}
}

func TestApplyBalanceDeltaZeroTokens(t *testing.T) {
	b := freshBank()
	account := &types.Account{
		AccountID:        "ACC_1",
		QuoteBalance:     100,
		QuoteBalanceType: types.BalanceDeposit,
	}

	if err := UpdateAccountBalance(0, types.BalanceBorrow, b, account); err != nil {
		t.Fatal(err)
	}
	if account.QuoteBalance != 100 || account.QuoteBalanceType != types.BalanceDeposit {
		t.Error("zero delta must not touch the balance")
	}
}

func TestApplyBalanceDeltaInvalidDirection(t *testing.T) {
	b := freshBank()
	account := &types.Account{QuoteBalanceType: types.BalanceDeposit}
	err := UpdateAccountBalance(1, types.BalanceDirection("BOGUS"), b, account)
	if !errors.Is(err, ErrInvalidBalanceDirection) {
		t.Fatalf("error = %v, want ErrInvalidBalanceDirection", err)
	}
}
