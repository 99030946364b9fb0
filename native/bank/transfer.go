package bank

import (
	"fmt"
	"math/big"

	"lotterychain/core/events"
	"lotterychain/core/state"
	"lotterychain/crypto"
)

// Transfer moves amount of mint from one account to another. Either both
// balances change or neither does.
func (l *Ledger) Transfer(mint, from, to crypto.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if _, err := l.GetMint(mint); err != nil {
		return err
	}
	fromBal, err := l.BalanceOf(mint, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from, fromBal, amt)
	}
	if from == to {
		return nil
	}
	toBal, err := l.BalanceOf(mint, to)
	if err != nil {
		return err
	}
	if err := l.setBalance(mint, from, new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	if err := l.setBalance(mint, to, new(big.Int).Add(toBal, amt)); err != nil {
		return err
	}
	l.emit(events.Transfer{Mint: mint, From: from, To: to, Amount: amt})
	return nil
}

// MintTo issues new units of mint to the recipient. Only the mint authority
// may issue.
func (l *Ledger) MintTo(mint, authority, to crypto.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	record, err := l.GetMint(mint)
	if err != nil {
		return err
	}
	if record.Authority != authority {
		return ErrUnauthorized
	}
	supply := new(big.Int).Add(record.Supply, amt)
	if record.MaxSupply.Sign() > 0 && supply.Cmp(record.MaxSupply) > 0 {
		return fmt.Errorf("%w: cap %s", ErrSupplyCapExceeded, record.MaxSupply)
	}
	bal, err := l.BalanceOf(mint, to)
	if err != nil {
		return err
	}
	if err := l.setBalance(mint, to, new(big.Int).Add(bal, amt)); err != nil {
		return err
	}
	record.Supply = supply
	if err := l.store.KVPut(state.BankMintKey(mint[:]), record); err != nil {
		return err
	}
	l.emit(events.TokenSupply{Mint: mint, Account: to, Total: supply, Delta: amt, Reason: events.SupplyReasonMint})
	return nil
}

// Burn destroys amount of mint held by owner.
func (l *Ledger) Burn(mint, owner crypto.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	record, err := l.GetMint(mint)
	if err != nil {
		return err
	}
	bal, err := l.BalanceOf(mint, owner)
	if err != nil {
		return err
	}
	if bal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientBalance, owner, bal, amt)
	}
	if err := l.setBalance(mint, owner, new(big.Int).Sub(bal, amt)); err != nil {
		return err
	}
	record.Supply = new(big.Int).Sub(record.Supply, amt)
	if err := l.store.KVPut(state.BankMintKey(mint[:]), record); err != nil {
		return err
	}
	delta := new(big.Int).Neg(amt)
	l.emit(events.TokenSupply{Mint: mint, Account: owner, Total: record.Supply, Delta: delta, Reason: events.SupplyReasonBurn})
	return nil
}

// MintUnique creates a one-of-one mint at addr and issues its single unit to
// owner. The unit can later change hands through Transfer.
func (l *Ledger) MintUnique(addr, authority, owner crypto.Address) (*MintRecord, error) {
	record, err := l.CreateMint(addr, "", 0, authority, big.NewInt(1))
	if err != nil {
		return nil, err
	}
	if err := l.MintTo(addr, authority, owner, big.NewInt(1)); err != nil {
		return nil, err
	}
	record.Supply = big.NewInt(1)
	return record, nil
}
