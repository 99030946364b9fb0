package lottery

import (
	"fmt"
	"math/big"

	"lotterychain/core/state"
	"lotterychain/crypto"
)

// Lottery returns the manager record at addr.
func (e *Engine) Lottery(addr crypto.Address) (*VaultManager, error) {
	var out *VaultManager
	err := e.view(func() error {
		m, err := e.loadManager(addr)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// Lotteries lists every initialised lottery in creation order.
func (e *Engine) Lotteries() ([]*VaultManager, error) {
	var out []*VaultManager
	err := e.view(func() error {
		addrs, err := e.addressIndex(state.LotteryManagerIndexKey())
		if err != nil {
			return err
		}
		out = make([]*VaultManager, 0, len(addrs))
		for _, addr := range addrs {
			m, err := e.loadManager(addr)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// Ticket returns the ticket stored at addr.
func (e *Engine) Ticket(addr crypto.Address) (*Ticket, error) {
	var out *Ticket
	err := e.view(func() error {
		t, ok, err := e.loadTicket(addr)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrTicketNotFound, addr)
		}
		out = t
		return nil
	})
	return out, err
}

// TicketByNumbers resolves the ticket for numbers under manager.
func (e *Engine) TicketByNumbers(manager crypto.Address, numbers Numbers) (*Ticket, error) {
	var out *Ticket
	err := e.view(func() error {
		m, err := e.loadManager(manager)
		if err != nil {
			return err
		}
		if err := numbers.Validate(); err != nil {
			return err
		}
		t, _, _, err := e.ticketFor(m, numbers)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("%w: %s", ErrTicketNotFound, numbers)
		}
		out = t
		return nil
	})
	return out, err
}

// Tickets lists every ticket sold by manager, including won and redeemed
// ones. Each entry is checked against its derived address.
func (e *Engine) Tickets(manager crypto.Address) ([]*Ticket, error) {
	var out []*Ticket
	err := e.view(func() error {
		if _, err := e.loadManager(manager); err != nil {
			return err
		}
		raw, err := e.state.IndexItems(state.LotteryTicketIndexKey(manager[:]))
		if err != nil {
			return err
		}
		addrs, err := toAddresses(raw)
		if err != nil {
			return err
		}
		out = make([]*Ticket, 0, len(addrs))
		for _, addr := range addrs {
			t, ok, err := e.loadTicket(addr)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("lottery: ticket index references missing ticket %s", addr)
			}
			if !crypto.VerifyProgramAddress(addr, ticketSeeds(t.Numbers, manager), t.Bump, ProgramID) {
				return fmt.Errorf("lottery: ticket %s does not match its numbers", addr)
			}
			out = append(out, t)
		}
		return nil
	})
	return out, err
}

// VaultBalances reports both vault balances and the current deposit value of
// the yield vault.
func (e *Engine) VaultBalances(manager crypto.Address) (*VaultBalances, error) {
	var out *VaultBalances
	err := e.view(func() error {
		m, err := e.loadManager(manager)
		if err != nil {
			return err
		}
		deposit, err := e.depositBalance(m)
		if err != nil {
			return err
		}
		yield, err := e.yieldBalance(m)
		if err != nil {
			return err
		}
		value := big.NewInt(0)
		if yield.Sign() > 0 {
			if dir, err := e.direction(m, m.YieldMint); err == nil {
				if quoted, err := e.exchange.Quote(m.Pool, yield, dir); err == nil {
					value = quoted
				}
			}
		}
		out = &VaultBalances{
			Deposit:         deposit,
			Yield:           yield,
			YieldValue:      value,
			StakedPrincipal: cloneBigInt(m.StakedPrincipal),
		}
		return nil
	})
	return out, err
}

// Holder resolves the current owner of the ticket at addr.
func (e *Engine) Holder(ticket crypto.Address) (crypto.Address, error) {
	var out crypto.Address
	err := e.view(func() error {
		t, ok, err := e.loadTicket(ticket)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrTicketNotFound, ticket)
		}
		holder, _, err := e.bank.LargestHolder(t.OwnershipMint)
		if err != nil {
			return err
		}
		out = holder
		return nil
	})
	return out, err
}

func (e *Engine) addressIndex(key []byte) ([]crypto.Address, error) {
	var raw [][]byte
	if err := e.state.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	return toAddresses(raw)
}

func toAddresses(raw [][]byte) ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		if len(b) != crypto.AddressLength {
			return nil, fmt.Errorf("lottery: corrupt address index entry")
		}
		out = append(out, crypto.BytesToAddress(b))
	}
	return out, nil
}
