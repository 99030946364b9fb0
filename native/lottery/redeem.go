package lottery

import (
	"fmt"
	"math/big"

	"lotterychain/crypto"
)

// Redeem burns the caller's ticket and refunds the ticket price from the
// deposit vault. When the vault is short only the liquid balance is paid and
// the remainder is recorded as owed; the original redeemer settles it by
// calling Redeem again once the vault has been refilled.
func (e *Engine) Redeem(manager, caller crypto.Address, numbers Numbers) (*RedeemResult, error) {
	var out *RedeemResult
	err := e.mutate(func() error {
		m, err := e.loadManager(manager)
		if err != nil {
			return err
		}
		if err := numbers.Validate(); err != nil {
			return err
		}
		t, ticketAddr, _, err := e.ticketFor(m, numbers)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("%w: %s", ErrTicketNotFound, numbers)
		}
		if t.Redeemed {
			if t.RedeemedBy != caller || t.Owed.Sign() == 0 {
				return fmt.Errorf("%w: %s", ErrAlreadyRedeemed, ticketAddr)
			}
			res, err := e.settle(m, t, caller, t.Owed)
			if err != nil {
				return err
			}
			if res.Paid.Sign() == 0 {
				return fmt.Errorf("%w: %s still owed", ErrInsufficientLiquidity, t.Owed)
			}
			if err := e.storeTicket(t); err != nil {
				return err
			}
			e.emit(lotteryEvent{evt: NewRedeemedEvent(m, t, caller, res)})
			out = res
			return nil
		}

		held, err := e.bank.BalanceOf(t.OwnershipMint, caller)
		if err != nil {
			return err
		}
		if held.Sign() == 0 {
			return fmt.Errorf("%w: %s", ErrNotTicketHolder, caller)
		}
		if err := e.bank.Burn(t.OwnershipMint, caller, big.NewInt(1)); err != nil {
			return err
		}
		if err := e.bank.Burn(m.Collection, ticketAddr, big.NewInt(1)); err != nil {
			return err
		}
		wasLive := t.Live()
		res, err := e.settle(m, t, caller, t.Price)
		if err != nil {
			return err
		}
		t.Redeemed = true
		t.RedeemedBy = caller
		t.RedeemedAt = unixSeconds(e.now())
		if err := e.storeTicket(t); err != nil {
			return err
		}
		if wasLive && m.LiveTickets > 0 {
			m.LiveTickets--
			if err := e.storeManager(m); err != nil {
				return err
			}
		}
		e.emit(lotteryEvent{evt: NewRedeemedEvent(m, t, caller, res)})
		out = res
		return nil
	})
	return out, err
}

// settle pays up to due from the deposit vault and records the rest on the
// ticket as owed.
func (e *Engine) settle(m *VaultManager, t *Ticket, to crypto.Address, due *big.Int) (*RedeemResult, error) {
	liquid, err := e.depositBalance(m)
	if err != nil {
		return nil, err
	}
	pay := new(big.Int).Set(due)
	if liquid.Cmp(pay) < 0 {
		pay.Set(liquid)
	}
	if pay.Sign() > 0 {
		if err := e.bank.Transfer(m.DepositMint, m.DepositVault, to, pay); err != nil {
			return nil, err
		}
	}
	t.Owed = new(big.Int).Sub(due, pay)
	return &RedeemResult{
		Manager: m.Address,
		Ticket:  t.Address,
		Paid:    pay,
		Owed:    cloneBigInt(t.Owed),
	}, nil
}
