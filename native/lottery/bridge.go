package lottery

import (
	"errors"
	"fmt"
	"math/big"

	"lotterychain/crypto"
	"lotterychain/native/amm"
)

// Stake moves the deposit vault balance above the reserve floor into the
// yield asset. Anyone may call it. The bought yield tokens land in the yield
// vault and the staked principal grows by the amount sold.
func (e *Engine) Stake(manager crypto.Address) (*StakeResult, error) {
	var out *StakeResult
	err := e.mutate(func() error {
		m, err := e.loadManager(manager)
		if err != nil {
			return err
		}
		bal, err := e.depositBalance(m)
		if err != nil {
			return err
		}
		if bal.Cmp(m.ReserveFloor) <= 0 {
			return fmt.Errorf("%w: balance %s, floor %s", ErrInsufficientReserve, bal, m.ReserveFloor)
		}
		excess := new(big.Int).Sub(bal, m.ReserveFloor)
		dir, err := e.direction(m, m.DepositMint)
		if err != nil {
			return err
		}
		bought, err := e.exchange.Swap(m.Pool, m.DepositVault, m.YieldVault, excess, dir, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLiquidityUnavailable, err)
		}
		m.StakedPrincipal = new(big.Int).Add(m.StakedPrincipal, excess)
		if err := e.storeManager(m); err != nil {
			return err
		}
		out = &StakeResult{
			Manager:         m.Address,
			AmountIn:        excess,
			AmountOut:       bought,
			StakedPrincipal: cloneBigInt(m.StakedPrincipal),
		}
		e.emit(lotteryEvent{evt: NewStakedEvent(m, out)})
		return nil
	})
	return out, err
}

// Unstake sells yield tokens back into the deposit vault. A nil amount sells
// the whole yield vault. Only the lottery authority may unstake.
func (e *Engine) Unstake(manager, caller crypto.Address, amount *big.Int) (*StakeResult, error) {
	var out *StakeResult
	err := e.mutate(func() error {
		m, err := e.loadManager(manager)
		if err != nil {
			return err
		}
		if m.Authority.IsZero() || caller != m.Authority {
			return ErrUnauthorized
		}
		yieldBal, err := e.yieldBalance(m)
		if err != nil {
			return err
		}
		if yieldBal.Sign() == 0 {
			return fmt.Errorf("%w: yield vault is empty", ErrInvalidParams)
		}
		sell := cloneBigInt(amount)
		if amount == nil {
			sell = new(big.Int).Set(yieldBal)
		}
		if sell.Sign() <= 0 || sell.Cmp(yieldBal) > 0 {
			return fmt.Errorf("%w: unstake amount %s outside 1..%s", ErrInvalidParams, sell, yieldBal)
		}
		dir, err := e.direction(m, m.YieldMint)
		if err != nil {
			return err
		}
		received, err := e.exchange.Swap(m.Pool, m.YieldVault, m.DepositVault, sell, dir, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLiquidityUnavailable, err)
		}
		released := new(big.Int).Mul(m.StakedPrincipal, sell)
		released.Quo(released, yieldBal)
		m.StakedPrincipal = new(big.Int).Sub(m.StakedPrincipal, released)
		if err := e.storeManager(m); err != nil {
			return err
		}
		out = &StakeResult{
			Manager:         m.Address,
			AmountIn:        sell,
			AmountOut:       received,
			StakedPrincipal: cloneBigInt(m.StakedPrincipal),
		}
		e.emit(lotteryEvent{evt: NewUnstakedEvent(m, out)})
		return nil
	})
	return out, err
}

// realizeYield sells about the gain portion of the yield vault into the
// deposit vault and pays recipient from there. The prize is capped by the gain
// quoted before the trade and by received plus the post-trade value of the
// remaining yield, minus the principal. Leftover proceeds stay liquid and come
// off StakedPrincipal, so the remaining stake is worth at least that principal.
func (e *Engine) realizeYield(m *VaultManager, recipient crypto.Address) (*big.Int, error) {
	yieldBal, err := e.yieldBalance(m)
	if err != nil {
		return nil, err
	}
	if yieldBal.Sign() == 0 {
		return big.NewInt(0), nil
	}
	dir, err := e.direction(m, m.YieldMint)
	if err != nil {
		return nil, err
	}
	value, err := e.exchange.Quote(m.Pool, yieldBal, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLiquidityUnavailable, err)
	}
	if value.Cmp(m.StakedPrincipal) <= 0 {
		return big.NewInt(0), nil
	}
	gain := new(big.Int).Sub(value, m.StakedPrincipal)
	sell := new(big.Int).Mul(yieldBal, gain)
	sell.Quo(sell, value)
	if sell.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if _, err := e.exchange.Quote(m.Pool, sell, dir); errors.Is(err, amm.ErrInsufficientLiquidity) {
		// The gain is too small to trade.
		return big.NewInt(0), nil
	}
	received, err := e.exchange.Swap(m.Pool, m.YieldVault, m.DepositVault, sell, dir, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLiquidityUnavailable, err)
	}
	remaining, err := e.remainingYieldValue(m, dir)
	if err != nil {
		return nil, err
	}
	prize := new(big.Int).Add(received, remaining)
	prize.Sub(prize, m.StakedPrincipal)
	if prize.Sign() < 0 {
		prize.SetInt64(0)
	}
	if prize.Cmp(gain) > 0 {
		prize.Set(gain)
	}
	if prize.Cmp(received) > 0 {
		prize.Set(received)
	}
	if surplus := new(big.Int).Sub(received, prize); surplus.Sign() > 0 {
		m.StakedPrincipal = new(big.Int).Sub(m.StakedPrincipal, surplus)
		if m.StakedPrincipal.Sign() < 0 {
			m.StakedPrincipal.SetInt64(0)
		}
	}
	if prize.Sign() > 0 {
		if err := e.bank.Transfer(m.DepositMint, m.DepositVault, recipient, prize); err != nil {
			return nil, err
		}
	}
	return prize, nil
}

// remainingYieldValue quotes the yield vault after a sale. A balance the pool
// can no longer absorb is worth zero.
func (e *Engine) remainingYieldValue(m *VaultManager, dir amm.Direction) (*big.Int, error) {
	left, err := e.yieldBalance(m)
	if err != nil {
		return nil, err
	}
	if left.Sign() == 0 {
		return big.NewInt(0), nil
	}
	value, err := e.exchange.Quote(m.Pool, left, dir)
	if errors.Is(err, amm.ErrInsufficientLiquidity) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLiquidityUnavailable, err)
	}
	return value, nil
}

func (e *Engine) direction(m *VaultManager, mintIn crypto.Address) (amm.Direction, error) {
	if e.exchange == nil || m.Pool.IsZero() {
		return 0, fmt.Errorf("%w: no pool configured", ErrLiquidityUnavailable)
	}
	pool, err := e.exchange.Pool(m.Pool)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLiquidityUnavailable, err)
	}
	dir, err := pool.DirectionFrom(mintIn)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLiquidityUnavailable, err)
	}
	return dir, nil
}
