package lottery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"lotterychain/core/state"
	"lotterychain/crypto"
	"lotterychain/native/bank"
	"lotterychain/native/common"
)

const maxNameLength = 64

// Initialize creates a lottery instance together with its vaults and ticket
// collection. All accounts are derived from the mint pair.
func (e *Engine) Initialize(params InitParams) (*VaultManager, error) {
	var out *VaultManager
	err := e.mutate(func() error {
		m, err := e.initialize(params)
		if err != nil {
			return err
		}
		out = m.Clone()
		return nil
	})
	return out, err
}

func (e *Engine) initialize(params InitParams) (*VaultManager, error) {
	if params.DrawDuration <= 0 {
		return nil, ErrInvalidDrawDuration
	}
	if params.TicketPrice == nil || params.TicketPrice.Sign() <= 0 {
		return nil, ErrInvalidTicketPrice
	}
	if params.MaxNumber > 255 {
		return nil, fmt.Errorf("%w: got %d", ErrMaxNumberOutOfRange, params.MaxNumber)
	}
	name := strings.TrimSpace(params.Name)
	if len(name) > maxNameLength {
		return nil, fmt.Errorf("%w: name longer than %d bytes", ErrInvalidParams, maxNameLength)
	}
	if params.ReserveFloor != nil && params.ReserveFloor.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative reserve floor", ErrInvalidParams)
	}
	if params.DepositMint == params.YieldMint {
		return nil, fmt.Errorf("%w: deposit and yield mints must differ", ErrInvalidParams)
	}
	mode := params.Mode
	if mode == 0 {
		mode = ModeLocal
	}
	if mode != ModeLocal && mode != ModeOracle {
		return nil, fmt.Errorf("%w: unknown randomness mode %d", ErrInvalidParams, mode)
	}
	for _, mint := range []crypto.Address{params.DepositMint, params.YieldMint} {
		if _, err := e.bank.GetMint(mint); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	if !params.Pool.IsZero() {
		if e.exchange == nil {
			return nil, fmt.Errorf("%w: no exchange configured", ErrInvalidParams)
		}
		pool, err := e.exchange.Pool(params.Pool)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		if _, err := pool.DirectionFrom(params.DepositMint); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		if _, err := pool.DirectionFrom(params.YieldMint); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}

	addrs, err := DeriveAddresses(params.DepositMint, params.YieldMint)
	if err != nil {
		return nil, err
	}
	for _, acct := range []crypto.Address{addrs.DepositVault, addrs.YieldVault, addrs.Manager} {
		if err := common.InitAccount(e.state, acct, ModuleName); err != nil {
			if errors.Is(err, common.ErrAccountInUse) {
				return nil, fmt.Errorf("%w: %v", ErrLotteryExists, err)
			}
			return nil, err
		}
	}
	if _, err := e.bank.CreateMint(addrs.Collection, "TICKET", 0, addrs.Manager, nil); err != nil {
		if errors.Is(err, common.ErrAccountInUse) {
			return nil, fmt.Errorf("%w: %v", ErrLotteryExists, err)
		}
		return nil, err
	}

	price := new(big.Int).Set(params.TicketPrice)
	floor := cloneBigInt(params.ReserveFloor)
	if floor.Sign() == 0 {
		floor = new(big.Int).Mul(price, big.NewInt(DefaultReserveMultiple))
	}
	maxNumber := uint8(params.MaxNumber)
	if params.MaxNumber == 0 {
		maxNumber = 255
	}
	now := e.now()
	m := &VaultManager{
		Address:            addrs.Manager,
		Bump:               addrs.ManagerBump,
		Name:               name,
		Authority:          params.Authority,
		DepositMint:        params.DepositMint,
		YieldMint:          params.YieldMint,
		DepositVault:       addrs.DepositVault,
		DepositVaultBump:   addrs.DepositVaultBump,
		YieldVault:         addrs.YieldVault,
		YieldVaultBump:     addrs.YieldVaultBump,
		Collection:         addrs.Collection,
		CollectionBump:     addrs.CollectionBump,
		Pool:               params.Pool,
		TicketPrice:        price,
		DrawDuration:       uint64(params.DrawDuration),
		CutoffTime:         unixSeconds(now) + uint64(params.DrawDuration),
		State:              StateOpen,
		Mode:               mode,
		MaxNumber:          maxNumber,
		ReserveFloor:       floor,
		StakedPrincipal:    big.NewInt(0),
		MaxTicketsPerBuyer: params.MaxTicketsPerBuyer,
		LastPrize:          big.NewInt(0),
		CreatedAt:          unixSeconds(now),
	}
	if err := e.storeManager(m); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(state.LotteryManagerIndexKey(), m.Address[:]); err != nil {
		return nil, err
	}
	e.emit(lotteryEvent{evt: NewInitializedEvent(m)})
	return m, nil
}

// Buy sells the ticket for numbers to buyer. The ticket address is derived
// from the numbers, so a second purchase of the same numbers collides and
// fails with ErrDuplicateTicket without moving funds.
func (e *Engine) Buy(manager, buyer crypto.Address, numbers Numbers) (*Ticket, error) {
	var out *Ticket
	err := e.mutate(func() error {
		m, err := e.loadManager(manager)
		if err != nil {
			return err
		}
		if m.State != StateOpen {
			return fmt.Errorf("%w: state %s", ErrDrawInProgress, m.State)
		}
		if err := numbers.Validate(); err != nil {
			return err
		}
		if buyer.IsZero() {
			return fmt.Errorf("%w: buyer required", ErrInvalidParams)
		}
		if err := e.chargeQuota(m, buyer); err != nil {
			return err
		}
		ticketAddr, bump, err := TicketAddress(numbers, m.Address)
		if err != nil {
			return err
		}
		if err := common.InitAccount(e.state, ticketAddr, ModuleName); err != nil {
			if errors.Is(err, common.ErrAccountInUse) {
				return fmt.Errorf("%w: %s", ErrDuplicateTicket, numbers)
			}
			return err
		}
		if err := e.bank.Transfer(m.DepositMint, buyer, m.DepositVault, m.TicketPrice); err != nil {
			return err
		}
		ownership, _, err := OwnershipMintAddress(ticketAddr, m.Collection)
		if err != nil {
			return err
		}
		if _, err := e.bank.MintUnique(ownership, m.Address, buyer); err != nil {
			return err
		}
		if err := e.bank.MintTo(m.Collection, m.Address, ticketAddr, big.NewInt(1)); err != nil {
			return err
		}
		t := &Ticket{
			Address:       ticketAddr,
			Bump:          bump,
			Manager:       m.Address,
			Numbers:       numbers,
			Owner:         buyer,
			OwnershipMint: ownership,
			DepositMint:   m.DepositMint,
			Price:         cloneBigInt(m.TicketPrice),
			Epoch:         m.Epoch,
			PurchasedAt:   unixSeconds(e.now()),
			Prize:         big.NewInt(0),
			Owed:          big.NewInt(0),
		}
		if err := e.storeTicket(t); err != nil {
			return err
		}
		if _, err := e.state.IndexAppend(state.LotteryTicketIndexKey(m.Address[:]), ticketAddr[:]); err != nil {
			return err
		}
		m.LiveTickets++
		m.TicketsSold++
		if err := e.storeManager(m); err != nil {
			return err
		}
		e.emit(lotteryEvent{evt: NewTicketPurchasedEvent(m, t)})
		out = t.Clone()
		return nil
	})
	return out, err
}

func (e *Engine) chargeQuota(m *VaultManager, buyer crypto.Address) error {
	if m.MaxTicketsPerBuyer == 0 {
		return nil
	}
	key := state.LotteryQuotaKey(m.Address[:], buyer[:])
	var prev common.QuotaNow
	if _, err := e.state.KVGet(key, &prev); err != nil {
		return err
	}
	next, err := common.CheckQuota(common.Quota{MaxRequestsPerEpoch: m.MaxTicketsPerBuyer}, m.Epoch, prev, 1, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuyerQuotaExceeded, err)
	}
	return e.state.KVPut(key, &next)
}

// Draw closes the current epoch. In local mode the winning numbers are set
// immediately and the lottery locks. In oracle mode a request is recorded and
// the lottery waits in StateAwaitingRandomness for FulfillRandomness or
// FallbackDraw.
func (e *Engine) Draw(ctx context.Context, manager crypto.Address) (*DrawResult, error) {
	var out *DrawResult
	err := e.mutate(func() error {
		m, err := e.loadManager(manager)
		if err != nil {
			return err
		}
		if m.State != StateOpen {
			return fmt.Errorf("%w: state %s", ErrAlreadyDrawn, m.State)
		}
		now := e.now()
		if unixSeconds(now) < m.CutoffTime {
			return fmt.Errorf("%w: %d seconds remaining", ErrCutoffNotReached, m.CutoffTime-unixSeconds(now))
		}
		if m.LiveTickets == 0 {
			return ErrNoTicketsPurchased
		}
		m.CutoffTime = unixSeconds(now) + m.DrawDuration
		m.PrizeConsumed = false
		m.Epoch++

		switch m.Mode {
		case ModeOracle:
			if e.oracle == nil {
				return ErrOracleNotConfigured
			}
			handle := uuid.NewString()
			m.State = StateAwaitingRandomness
			m.PendingRequest = handle
			m.RequestedAt = unixSeconds(now)
			if err := e.state.KVPut(state.LotteryRequestKey(handle), m.Address); err != nil {
				return err
			}
			if err := e.storeManager(m); err != nil {
				return err
			}
			req := RandomnessRequest{
				Handle:      handle,
				Manager:     m.Address,
				Epoch:       m.Epoch,
				MaxNumber:   m.MaxNumber,
				RequestedAt: now,
			}
			if err := e.oracle.RequestRandomness(ctx, req); err != nil {
				return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
			}
			e.emit(lotteryEvent{evt: NewRandomnessRequestedEvent(m)})
		default:
			if err := e.lockWithLocalNumbers(m, now); err != nil {
				return err
			}
		}
		out = drawResult(m)
		return nil
	})
	return out, err
}

func (e *Engine) lockWithLocalNumbers(m *VaultManager, now int64) error {
	if e.entropy == nil {
		return ErrEntropyUnavailable
	}
	entropy, err := e.entropy.Entropy()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return e.lock(m, DeriveNumbers(localSeed(entropy, m.Address, m.Epoch, now), m.MaxNumber), "local")
}

func (e *Engine) lock(m *VaultManager, numbers Numbers, source string) error {
	m.WinningNumbers = numbers
	m.State = StateLocked
	m.PendingRequest = ""
	if err := e.storeManager(m); err != nil {
		return err
	}
	e.emit(lotteryEvent{evt: NewDrawnEvent(m, source)})
	return nil
}

func drawResult(m *VaultManager) *DrawResult {
	return &DrawResult{
		Manager:        m.Address,
		State:          m.State,
		Epoch:          m.Epoch,
		WinningNumbers: m.WinningNumbers,
		RequestHandle:  m.PendingRequest,
		CutoffTime:     m.CutoffTime,
	}
}

// FulfillRandomness completes a pending oracle draw. Handles that were
// superseded by FallbackDraw fail with ErrUnknownRequest.
func (e *Engine) FulfillRandomness(handle string, randomness []byte) (*DrawResult, error) {
	var out *DrawResult
	err := e.mutate(func() error {
		handle = strings.TrimSpace(handle)
		if handle == "" {
			return fmt.Errorf("%w: empty handle", ErrUnknownRequest)
		}
		if len(randomness) < MinRandomnessLength {
			return fmt.Errorf("%w: got %d bytes, need %d", ErrInvalidRandomness, len(randomness), MinRandomnessLength)
		}
		var managerAddr crypto.Address
		ok, err := e.state.KVGet(state.LotteryRequestKey(handle), &managerAddr)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRequest, handle)
		}
		m, err := e.loadManager(managerAddr)
		if err != nil {
			return err
		}
		if m.State != StateAwaitingRandomness || m.PendingRequest != handle {
			return fmt.Errorf("%w: %s", ErrUnknownRequest, handle)
		}
		if err := e.lock(m, DeriveNumbers(oracleSeed(randomness, handle, m.Address), m.MaxNumber), "oracle"); err != nil {
			return err
		}
		out = drawResult(m)
		return nil
	})
	return out, err
}

// FallbackDraw completes a draw from the local entropy source once the oracle
// has failed to answer within the configured timeout.
func (e *Engine) FallbackDraw(manager crypto.Address) (*DrawResult, error) {
	var out *DrawResult
	err := e.mutate(func() error {
		m, err := e.loadManager(manager)
		if err != nil {
			return err
		}
		if m.State != StateAwaitingRandomness {
			return fmt.Errorf("%w: state %s", ErrNotAwaiting, m.State)
		}
		now := e.now()
		deadline := m.RequestedAt + uint64(e.oracleTimeout.Seconds())
		if unixSeconds(now) < deadline {
			return fmt.Errorf("%w: %d seconds remaining", ErrFallbackTooEarly, deadline-unixSeconds(now))
		}
		if err := e.lockWithLocalNumbers(m, now); err != nil {
			return err
		}
		out = drawResult(m)
		return nil
	})
	return out, err
}

// Dispense settles the draw for candidate numbers. Misses are soft failures
// that leave every balance untouched. A matching live ticket receives the
// realised yield and the lottery reopens. When the winning numbers have no
// live ticket the epoch rolls over without a payout. Repeating a paid
// dispense is a zero payout no-op.
func (e *Engine) Dispense(manager crypto.Address, candidate Numbers) (*DispenseResult, error) {
	var out *DispenseResult
	err := e.mutate(func() error {
		m, err := e.loadManager(manager)
		if err != nil {
			return err
		}
		if err := candidate.Validate(); err != nil {
			return err
		}
		switch m.State {
		case StateAwaitingRandomness:
			return ErrAwaitingRandomness
		case StateOpen:
			if m.PrizeConsumed && m.HasWinningNumbers() && candidate == m.WinningNumbers {
				ticketAddr, _, err := TicketAddress(candidate, m.Address)
				if err != nil {
					return err
				}
				out = &DispenseResult{
					Manager:         m.Address,
					Ticket:          ticketAddr,
					Holder:          m.LastWinner,
					Prize:           big.NewInt(0),
					AlreadyConsumed: true,
				}
				return nil
			}
			return ErrNotLocked
		}

		ticket, ticketAddr, _, err := e.ticketFor(m, candidate)
		if err != nil {
			return err
		}
		if ticket == nil {
			if candidate != m.WinningNumbers {
				return fmt.Errorf("%w: %s", ErrNoWinningTicket, candidate)
			}
			out, err = e.rollover(m, ticketAddr)
			return err
		}
		if candidate != m.WinningNumbers {
			return fmt.Errorf("%w: %s", ErrNumbersMismatch, candidate)
		}
		if !ticket.Live() {
			out, err = e.rollover(m, ticketAddr)
			return err
		}

		holder, _, err := e.bank.LargestHolder(ticket.OwnershipMint)
		if err != nil {
			if errors.Is(err, bank.ErrNoHolder) {
				out, err = e.rollover(m, ticketAddr)
				return err
			}
			return err
		}
		prize, err := e.realizeYield(m, holder)
		if err != nil {
			return err
		}
		ticket.Won = true
		ticket.WonEpoch = m.Epoch
		ticket.Prize = new(big.Int).Set(prize)
		if err := e.storeTicket(ticket); err != nil {
			return err
		}
		if m.LiveTickets > 0 {
			m.LiveTickets--
		}
		m.PrizeConsumed = true
		m.State = StateOpen
		m.LastWinner = holder
		m.LastPrize = new(big.Int).Set(prize)
		if err := e.storeManager(m); err != nil {
			return err
		}
		e.emit(lotteryEvent{evt: NewDispensedEvent(m, ticketAddr, holder, prize)})
		out = &DispenseResult{
			Manager: m.Address,
			Ticket:  ticketAddr,
			Holder:  holder,
			Prize:   prize,
		}
		return nil
	})
	return out, err
}

func (e *Engine) rollover(m *VaultManager, ticketAddr crypto.Address) (*DispenseResult, error) {
	m.State = StateOpen
	m.PrizeConsumed = false
	m.LastWinner = crypto.Address{}
	m.LastPrize = big.NewInt(0)
	if err := e.storeManager(m); err != nil {
		return nil, err
	}
	e.emit(lotteryEvent{evt: NewRolloverEvent(m)})
	return &DispenseResult{
		Manager:  m.Address,
		Ticket:   ticketAddr,
		Prize:    big.NewInt(0),
		Rollover: true,
	}, nil
}
