package amm

import (
	"math/big"

	"github.com/holiman/uint256"
)

func toU256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	if v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// feeSplit returns the trade fee, owner fee and the net input credited to the
// curve.
func feeSplit(amountIn *uint256.Int, fees FeeSchedule) (trade, owner, net *uint256.Int) {
	denom := uint256.NewInt(bpsDenominator)
	trade = new(uint256.Int).Mul(amountIn, uint256.NewInt(uint64(fees.TradeFeeBps)))
	trade.Div(trade, denom)
	owner = new(uint256.Int).Mul(amountIn, uint256.NewInt(uint64(fees.OwnerFeeBps)))
	owner.Div(owner, denom)
	net = new(uint256.Int).Sub(amountIn, trade)
	net.Sub(net, owner)
	return trade, owner, net
}

// constantProductOut computes reserveOut*net/(reserveIn+net).
func constantProductOut(reserveIn, reserveOut, net *uint256.Int) (*uint256.Int, error) {
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	num, overflow := new(uint256.Int).MulOverflow(reserveOut, net)
	if overflow {
		return nil, ErrOverflow
	}
	den, overflow := new(uint256.Int).AddOverflow(reserveIn, net)
	if overflow {
		return nil, ErrOverflow
	}
	return num.Div(num, den), nil
}

// initialShares mints sqrt(a*b) shares for the first deposit.
func initialShares(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Sqrt(product), nil
}

// proportional returns amount*numerator/denominator.
func proportional(amount, numerator, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	product, overflow := new(uint256.Int).MulOverflow(amount, numerator)
	if overflow {
		return nil, ErrOverflow
	}
	return product.Div(product, denominator), nil
}
