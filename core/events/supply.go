package events

import (
	"math/big"
	"strings"

	"lotterychain/core/types"
	"lotterychain/crypto"
)

const (
	// TypeTokenSupply is emitted whenever a token supply changes.
	TypeTokenSupply = "bank.supply"

	// SupplyReasonMint identifies mint driven supply increases.
	SupplyReasonMint = "mint"
	// SupplyReasonBurn identifies burn driven supply decreases.
	SupplyReasonBurn = "burn"
)

// TokenSupply captures a supply delta for a mint.
type TokenSupply struct {
	Mint    crypto.Address
	Account crypto.Address
	Total   *big.Int
	Delta   *big.Int
	Reason  string
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

// Event renders the structured supply change event for downstream consumers.
func (e TokenSupply) Event() *types.Event {
	attrs := map[string]string{
		"mint":  formatAddress(e.Mint),
		"total": formatAmount(e.Total),
	}
	if !e.Account.IsZero() {
		attrs["account"] = e.Account.String()
	}
	if e.Delta != nil {
		attrs["delta"] = new(big.Int).Set(e.Delta).String()
	}
	reason := strings.TrimSpace(e.Reason)
	if reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}
