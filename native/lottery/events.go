package lottery

import (
	"math/big"
	"strconv"

	"lotterychain/core/types"
	"lotterychain/crypto"
)

const (
	EventTypeInitialized         = "lottery.initialized"
	EventTypeTicketPurchased     = "lottery.ticket_purchased"
	EventTypeRandomnessRequested = "lottery.randomness_requested"
	EventTypeDrawn               = "lottery.drawn"
	EventTypeDispensed           = "lottery.dispensed"
	EventTypeRollover            = "lottery.rollover"
	EventTypeStaked              = "lottery.staked"
	EventTypeUnstaked            = "lottery.unstaked"
	EventTypeRedeemed            = "lottery.redeemed"
)

type lotteryEvent struct {
	evt *types.Event
}

func (e lotteryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lotteryEvent) Event() *types.Event { return e.evt }

func baseAttributes(m *VaultManager) map[string]string {
	attrs := map[string]string{}
	if m == nil {
		return attrs
	}
	attrs["lottery"] = m.Address.String()
	attrs["epoch"] = strconv.FormatUint(m.Epoch, 10)
	attrs["state"] = m.State.String()
	return attrs
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewInitializedEvent returns the payload for a newly created lottery.
func NewInitializedEvent(m *VaultManager) *types.Event {
	attrs := baseAttributes(m)
	attrs["name"] = m.Name
	attrs["depositMint"] = m.DepositMint.String()
	attrs["yieldMint"] = m.YieldMint.String()
	attrs["depositVault"] = m.DepositVault.String()
	attrs["yieldVault"] = m.YieldVault.String()
	attrs["collection"] = m.Collection.String()
	attrs["ticketPrice"] = formatAmount(m.TicketPrice)
	attrs["cutoffTime"] = strconv.FormatUint(m.CutoffTime, 10)
	attrs["mode"] = m.Mode.String()
	return &types.Event{Type: EventTypeInitialized, Attributes: attrs}
}

// NewTicketPurchasedEvent returns the payload for a ticket sale.
func NewTicketPurchasedEvent(m *VaultManager, t *Ticket) *types.Event {
	attrs := baseAttributes(m)
	attrs["ticket"] = t.Address.String()
	attrs["numbers"] = t.Numbers.String()
	attrs["buyer"] = t.Owner.String()
	attrs["ownershipMint"] = t.OwnershipMint.String()
	attrs["price"] = formatAmount(t.Price)
	return &types.Event{Type: EventTypeTicketPurchased, Attributes: attrs}
}

// NewRandomnessRequestedEvent returns the payload for an oracle request.
func NewRandomnessRequestedEvent(m *VaultManager) *types.Event {
	attrs := baseAttributes(m)
	attrs["handle"] = m.PendingRequest
	attrs["requestedAt"] = strconv.FormatUint(m.RequestedAt, 10)
	return &types.Event{Type: EventTypeRandomnessRequested, Attributes: attrs}
}

// NewDrawnEvent returns the payload emitted once winning numbers are known.
func NewDrawnEvent(m *VaultManager, source string) *types.Event {
	attrs := baseAttributes(m)
	attrs["winningNumbers"] = m.WinningNumbers.String()
	attrs["cutoffTime"] = strconv.FormatUint(m.CutoffTime, 10)
	attrs["source"] = source
	return &types.Event{Type: EventTypeDrawn, Attributes: attrs}
}

// NewDispensedEvent returns the payload for a prize payout.
func NewDispensedEvent(m *VaultManager, ticket, holder crypto.Address, prize *big.Int) *types.Event {
	attrs := baseAttributes(m)
	attrs["ticket"] = ticket.String()
	attrs["holder"] = holder.String()
	attrs["prize"] = formatAmount(prize)
	attrs["winningNumbers"] = m.WinningNumbers.String()
	return &types.Event{Type: EventTypeDispensed, Attributes: attrs}
}

// NewRolloverEvent returns the payload for an epoch closed without a winner.
func NewRolloverEvent(m *VaultManager) *types.Event {
	attrs := baseAttributes(m)
	attrs["winningNumbers"] = m.WinningNumbers.String()
	return &types.Event{Type: EventTypeRollover, Attributes: attrs}
}

// NewStakedEvent returns the payload for deposit liquidity moved to the AMM.
func NewStakedEvent(m *VaultManager, res *StakeResult) *types.Event {
	return newStakeEvent(EventTypeStaked, m, res)
}

// NewUnstakedEvent returns the payload for yield sold back into deposits.
func NewUnstakedEvent(m *VaultManager, res *StakeResult) *types.Event {
	return newStakeEvent(EventTypeUnstaked, m, res)
}

func newStakeEvent(typ string, m *VaultManager, res *StakeResult) *types.Event {
	attrs := baseAttributes(m)
	attrs["amountIn"] = formatAmount(res.AmountIn)
	attrs["amountOut"] = formatAmount(res.AmountOut)
	attrs["stakedPrincipal"] = formatAmount(res.StakedPrincipal)
	return &types.Event{Type: typ, Attributes: attrs}
}

// NewRedeemedEvent returns the payload for a principal redemption.
func NewRedeemedEvent(m *VaultManager, t *Ticket, caller crypto.Address, res *RedeemResult) *types.Event {
	attrs := baseAttributes(m)
	attrs["ticket"] = t.Address.String()
	attrs["numbers"] = t.Numbers.String()
	attrs["caller"] = caller.String()
	attrs["paid"] = formatAmount(res.Paid)
	attrs["owed"] = formatAmount(res.Owed)
	return &types.Event{Type: EventTypeRedeemed, Attributes: attrs}
}
