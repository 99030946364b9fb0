package events

import (
	"math/big"
	"strings"

	"lotterychain/core/types"
	"lotterychain/crypto"
)

const (
	// TypeSwapExecuted is emitted whenever a pool trade settles.
	TypeSwapExecuted = "amm.swap"
)

type SwapExecuted struct {
	Pool      crypto.Address
	Trader    crypto.Address
	Direction string
	AmountIn  *big.Int
	AmountOut *big.Int
	Fee       *big.Int
}

func (SwapExecuted) EventType() string { return TypeSwapExecuted }

func (e SwapExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeSwapExecuted,
		Attributes: map[string]string{
			"pool":      formatAddress(e.Pool),
			"trader":    formatAddress(e.Trader),
			"direction": strings.TrimSpace(e.Direction),
			"amountIn":  formatAmount(e.AmountIn),
			"amountOut": formatAmount(e.AmountOut),
			"fee":       formatAmount(e.Fee),
		},
	}
}
