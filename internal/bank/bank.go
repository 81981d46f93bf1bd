// Package bank maintains the shared quote asset ledger: cumulative
// interest accrual and the deposit/borrow balance updates every settlement
// transfer flows through.
package bank

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/perphouse/clearing-api/internal/fixedpoint"
	"github.com/perphouse/clearing-api/internal/types"
)

var ErrInvalidBalanceDirection = errors.New("invalid balance direction")

// Interest rate model constants, all at InterestPrecision. The borrow rate
// climbs linearly with utilization; depositors earn the borrow rate scaled
// by utilization.
const (
	baseBorrowRate  uint64 = 200_000_000   // 2% annual at zero utilization
	slopeBorrowRate uint64 = 2_000_000_000 // +20% annual at full utilization

	secondsPerYear int64 = 31_536_000
)

// TokenAmount converts a scaled balance into a token amount through the
// bank's cumulative interest index for the given direction.
func TokenAmount(balance uint64, b *types.Bank, direction types.BalanceDirection) (uint64, error) {
	index, err := interestIndex(b, direction)
	if err != nil {
		return 0, err
	}
	return fixedpoint.MulDivU64(balance, index, fixedpoint.InterestPrecision)
}

// ScaledAmount converts a token amount into a scaled balance, the inverse
// of TokenAmount.
func ScaledAmount(tokens uint64, b *types.Bank, direction types.BalanceDirection) (uint64, error) {
	index, err := interestIndex(b, direction)
	if err != nil {
		return 0, err
	}
	return fixedpoint.MulDivU64(tokens, fixedpoint.InterestPrecision, index)
}

func interestIndex(b *types.Bank, direction types.BalanceDirection) (uint64, error) {
	switch direction {
	case types.BalanceDeposit:
		return b.CumulativeDepositInterest, nil
	case types.BalanceBorrow:
		return b.CumulativeBorrowInterest, nil
	default:
		return 0, ErrInvalidBalanceDirection
	}
}

// AccrueInterest advances the bank's cumulative interest indexes up to now.
// The borrow index grows with the utilization-scaled borrow rate; the
// deposit index grows with the borrow interest spread across deposits.
// Idempotent within a second: a repeated call with the same timestamp is a
// no-op.
func AccrueInterest(b *types.Bank, now int64) error {
	if now <= b.LastInterestTs {
		return nil
	}
	elapsed := now - b.LastInterestTs

	depositTokens, err := TokenAmount(b.DepositBalance, b, types.BalanceDeposit)
	if err != nil {
		return err
	}
	borrowTokens, err := TokenAmount(b.BorrowBalance, b, types.BalanceBorrow)
	if err != nil {
		return err
	}

	utilization := uint64(0)
	if depositTokens > 0 {
		utilization, err = fixedpoint.MulDivU64(borrowTokens, fixedpoint.InterestPrecision, depositTokens)
		if err != nil {
			return err
		}
		if utilization > fixedpoint.InterestPrecision {
			utilization = fixedpoint.InterestPrecision
		}
	}

	slope, err := fixedpoint.MulDivU64(slopeBorrowRate, utilization, fixedpoint.InterestPrecision)
	if err != nil {
		return err
	}
	borrowRate, err := fixedpoint.AddU64(baseBorrowRate, slope)
	if err != nil {
		return err
	}
	depositRate, err := fixedpoint.MulDivU64(borrowRate, utilization, fixedpoint.InterestPrecision)
	if err != nil {
		return err
	}

	if err := accrueIndex(&b.CumulativeBorrowInterest, borrowRate, elapsed); err != nil {
		return err
	}
	if err := accrueIndex(&b.CumulativeDepositInterest, depositRate, elapsed); err != nil {
		return err
	}

	b.LastInterestTs = now

	log.Debug().
		Uint64("bank_index", b.BankIndex).
		Int64("elapsed", elapsed).
		Uint64("utilization", utilization).
		Uint64("borrow_rate", borrowRate).
		Uint64("deposit_rate", depositRate).
		Msg("accrued bank interest")

	return nil
}

func accrueIndex(index *uint64, annualRate uint64, elapsed int64) error {
	// index * rate * elapsed / (year * precision), split to keep the
	// intermediates inside 128 bits.
	growth, err := fixedpoint.MulDivU64(*index, annualRate, fixedpoint.InterestPrecision)
	if err != nil {
		return err
	}
	growth, err = fixedpoint.MulDivU64(growth, uint64(elapsed), uint64(secondsPerYear))
	if err != nil {
		return err
	}
	next, err := fixedpoint.AddU64(*index, growth)
	if err != nil {
		return err
	}
	*index = next
	return nil
}

// ApplyBalanceDelta moves a token amount into a typed balance and keeps
// the bank aggregates consistent with it. The direction is the side the
// holder receives: a Deposit delta on a borrow balance first pays the
// borrow down, flipping the balance type only when the delta crosses zero.
// The same primitive serves account balances and market pool balances.
func ApplyBalanceDelta(tokens uint64, direction types.BalanceDirection, b *types.Bank, balance *uint64, balanceType *types.BalanceDirection) error {
	if direction != types.BalanceDeposit && direction != types.BalanceBorrow {
		return ErrInvalidBalanceDirection
	}
	if tokens == 0 {
		return nil
	}
	if *balanceType != types.BalanceDeposit && *balanceType != types.BalanceBorrow {
		return ErrInvalidBalanceDirection
	}

	if *balanceType == direction || *balance == 0 {
		scaled, err := ScaledAmount(tokens, b, direction)
		if err != nil {
			return err
		}
		if err := addBankBalance(b, direction, scaled); err != nil {
			return err
		}
		next, err := fixedpoint.AddU64(*balance, scaled)
		if err != nil {
			return err
		}
		*balance = next
		*balanceType = direction
		return nil
	}

	// Opposite direction: reduce the existing balance first.
	held, err := TokenAmount(*balance, b, *balanceType)
	if err != nil {
		return err
	}
	if tokens <= held {
		scaled, err := ScaledAmount(tokens, b, *balanceType)
		if err != nil {
			return err
		}
		if scaled > *balance {
			scaled = *balance
		}
		if err := subBankBalance(b, *balanceType, scaled); err != nil {
			return err
		}
		*balance -= scaled
		return nil
	}

	// The delta crosses zero: close out the held balance and open the
	// remainder on the other side.
	if err := subBankBalance(b, *balanceType, *balance); err != nil {
		return err
	}
	remainder, err := fixedpoint.SubU64(tokens, held)
	if err != nil {
		return err
	}
	scaled, err := ScaledAmount(remainder, b, direction)
	if err != nil {
		return err
	}
	if err := addBankBalance(b, direction, scaled); err != nil {
		return err
	}
	*balance = scaled
	*balanceType = direction
	return nil
}

// UpdateAccountBalance applies a balance delta to an account's quote balance.
func UpdateAccountBalance(tokens uint64, direction types.BalanceDirection, b *types.Bank, account *types.Account) error {
	return ApplyBalanceDelta(tokens, direction, b, &account.QuoteBalance, &account.QuoteBalanceType)
}

func addBankBalance(b *types.Bank, direction types.BalanceDirection, scaled uint64) error {
	switch direction {
	case types.BalanceDeposit:
		balance, err := fixedpoint.AddU64(b.DepositBalance, scaled)
		if err != nil {
			return err
		}
		b.DepositBalance = balance
	case types.BalanceBorrow:
		balance, err := fixedpoint.AddU64(b.BorrowBalance, scaled)
		if err != nil {
			return err
		}
		b.BorrowBalance = balance
	}
	return nil
}

func subBankBalance(b *types.Bank, direction types.BalanceDirection, scaled uint64) error {
	switch direction {
	case types.BalanceDeposit:
		balance, err := fixedpoint.SubU64(b.DepositBalance, scaled)
		if err != nil {
			return err
		}
		b.DepositBalance = balance
	case types.BalanceBorrow:
		balance, err := fixedpoint.SubU64(b.BorrowBalance, scaled)
		if err != nil {
			return err
		}
		b.BorrowBalance = balance
	}
	return nil
}
