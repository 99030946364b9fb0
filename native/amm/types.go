package amm

import (
	"errors"
	"fmt"
	"strings"

	"lotterychain/crypto"
)

// ModuleName identifies the pool program in derived addresses and account
// markers.
const ModuleName = "amm"

// ProgramID is the identity pool addresses are derived under.
var ProgramID = crypto.ProgramID("lotterychain/native/amm")

const (
	// DefaultTradeFeeBps is retained in the pool for liquidity providers.
	DefaultTradeFeeBps = 25
	// DefaultOwnerFeeBps is paid to the pool owner.
	DefaultOwnerFeeBps = 5
	// MaxFeeBps bounds the combined fee.
	MaxFeeBps      = 1_000
	bpsDenominator = 10_000
)

var (
	ErrPoolNotFound          = errors.New("amm: pool not found")
	ErrPoolHalted            = errors.New("amm: pool halted")
	ErrInsufficientLiquidity = errors.New("amm: insufficient liquidity")
	ErrSlippage              = errors.New("amm: output below minimum")
	ErrInvalidAmount         = errors.New("amm: amount must be positive")
	ErrInvalidFees           = errors.New("amm: fee schedule out of range")
	ErrSameMint              = errors.New("amm: pool mints must differ")
	ErrOverflow              = errors.New("amm: arithmetic overflow")
)

// Direction selects which reserve a swap consumes.
type Direction uint8

const (
	// AToB sells mint A for mint B.
	AToB Direction = iota
	// BToA sells mint B for mint A.
	BToA
)

func (d Direction) String() string {
	switch d {
	case AToB:
		return "a_to_b"
	case BToA:
		return "b_to_a"
	default:
		return "unknown"
	}
}

// Valid reports whether the direction is recognised.
func (d Direction) Valid() bool { return d == AToB || d == BToA }

// ParseDirection converts the textual direction into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a_to_b", "atob":
		return AToB, nil
	case "b_to_a", "btoa":
		return BToA, nil
	default:
		return 0, fmt.Errorf("amm: unknown direction %q", s)
	}
}

// FeeSchedule holds the pool fees in basis points of the input amount.
type FeeSchedule struct {
	TradeFeeBps uint32
	OwnerFeeBps uint32
}

// DefaultFees returns the stock fee schedule.
func DefaultFees() FeeSchedule {
	return FeeSchedule{TradeFeeBps: DefaultTradeFeeBps, OwnerFeeBps: DefaultOwnerFeeBps}
}

// Validate ensures the fees are within range.
func (f FeeSchedule) Validate() error {
	if f.TradeFeeBps+f.OwnerFeeBps > MaxFeeBps {
		return fmt.Errorf("%w: %d bps", ErrInvalidFees, f.TradeFeeBps+f.OwnerFeeBps)
	}
	return nil
}

// Pool is a constant-product market between two mints. Reserves are the bank
// balances held by the pool address.
type Pool struct {
	Address     crypto.Address
	Bump        uint8
	MintA       crypto.Address
	MintB       crypto.Address
	LPMint      crypto.Address
	Owner       crypto.Address
	TradeFeeBps uint32
	OwnerFeeBps uint32
	Halted      bool
}

// Clone returns a copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

func (p *Pool) mints(dir Direction) (in, out crypto.Address) {
	if dir == BToA {
		return p.MintB, p.MintA
	}
	return p.MintA, p.MintB
}

// Mints returns the input and output mints for a swap in dir.
func (p *Pool) Mints(dir Direction) (in, out crypto.Address) { return p.mints(dir) }

// DirectionFrom returns the swap direction that sells mintIn.
func (p *Pool) DirectionFrom(mintIn crypto.Address) (Direction, error) {
	switch mintIn {
	case p.MintA:
		return AToB, nil
	case p.MintB:
		return BToA, nil
	default:
		return 0, fmt.Errorf("amm: mint %s not traded by pool %s", mintIn, p.Address)
	}
}
