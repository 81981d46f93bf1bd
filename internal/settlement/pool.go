package settlement

import (
	"github.com/perphouse/clearing-api/internal/bank"
	"github.com/perphouse/clearing-api/internal/fixedpoint"
	"github.com/perphouse/clearing-api/internal/types"
)

// updatePoolBalances offers unsettled PnL to the market's PnL pool and
// returns the amount actually transferable. Positive PnL is capped by the
// pool's current liquidity (partial or zero settlement is a valid
// outcome); negative PnL is absorbed by the pool in full. Only in-memory
// state is mutated here; persistence happens at commit.
func updatePoolBalances(market *types.Market, b *types.Bank, unsettledPnl int64) (int64, error) {
	if unsettledPnl == 0 {
		return 0, nil
	}

	if unsettledPnl > 0 {
		// The pool pays the account. A borrow-typed pool has no liquidity.
		if market.PnlPoolBalanceType != types.BalanceDeposit {
			return 0, nil
		}
		poolTokens, err := bank.TokenAmount(market.PnlPoolBalance, b, types.BalanceDeposit)
		if err != nil {
			return 0, err
		}
		transferable := uint64(unsettledPnl)
		if poolTokens < transferable {
			transferable = poolTokens
		}
		if err := bank.ApplyBalanceDelta(transferable, types.BalanceBorrow, b,
			&market.PnlPoolBalance, &market.PnlPoolBalanceType); err != nil {
			return 0, err
		}
		return fixedpoint.I64FromU64(transferable)
	}

	// The account pays the pool in full.
	if err := bank.ApplyBalanceDelta(fixedpoint.AbsU64(unsettledPnl), types.BalanceDeposit, b,
		&market.PnlPoolBalance, &market.PnlPoolBalanceType); err != nil {
		return 0, err
	}
	return unsettledPnl, nil
}

// updatePnlPoolBalance is the expired-settlement variant. The market is
// terminal, so the transfer-capping rule is the same but no residual owed
// amount is tracked once the position is closed.
func updatePnlPoolBalance(market *types.Market, b *types.Bank, unsettledPnl int64) (int64, error) {
	return updatePoolBalances(market, b, unsettledPnl)
}
