package amm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"lotterychain/core/events"
	"lotterychain/core/state"
	"lotterychain/crypto"
	"lotterychain/native/bank"
	"lotterychain/native/common"
)

var errNilState = errors.New("amm engine: state not configured")

// storage abstracts the subset of state manager functionality required by the
// pool engine.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Engine runs constant-product pools on top of the bank ledger.
type Engine struct {
	store   storage
	bank    *bank.Ledger
	emitter events.Emitter
}

// NewEngine creates a pool engine with a no-op emitter.
func NewEngine(store storage, ledger *bank.Ledger) *Engine {
	return &Engine{store: store, bank: ledger, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.bank == nil {
		return errNilState
	}
	return nil
}

// PoolAddress derives the pool address for a mint pair.
func PoolAddress(mintA, mintB crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress([][]byte{mintA[:], mintB[:]}, ProgramID)
}

func lpMintAddress(pool crypto.Address) (crypto.Address, error) {
	addr, _, err := crypto.FindProgramAddress([][]byte{pool[:], []byte("lp")}, ProgramID)
	return addr, err
}

// CreatePool initialises a pool for the ordered mint pair.
func (e *Engine) CreatePool(mintA, mintB, owner crypto.Address, fees FeeSchedule) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if mintA == mintB {
		return nil, ErrSameMint
	}
	if err := fees.Validate(); err != nil {
		return nil, err
	}
	for _, mint := range []crypto.Address{mintA, mintB} {
		if _, err := e.bank.GetMint(mint); err != nil {
			return nil, err
		}
	}
	addr, bump, err := PoolAddress(mintA, mintB)
	if err != nil {
		return nil, err
	}
	if err := common.InitAccount(e.store, addr, ModuleName); err != nil {
		return nil, err
	}
	lp, err := lpMintAddress(addr)
	if err != nil {
		return nil, err
	}
	if _, err := e.bank.CreateMint(lp, "LP", 0, addr, nil); err != nil {
		return nil, err
	}
	pool := &Pool{
		Address:     addr,
		Bump:        bump,
		MintA:       mintA,
		MintB:       mintB,
		LPMint:      lp,
		Owner:       owner,
		TradeFeeBps: fees.TradeFeeBps,
		OwnerFeeBps: fees.OwnerFeeBps,
	}
	if err := e.store.KVPut(state.AMMPoolKey(addr[:]), pool); err != nil {
		return nil, err
	}
	if err := e.store.KVAppend(state.AMMPoolIndexKey(), addr[:]); err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// Pool loads the pool stored at addr.
func (e *Engine) Pool(addr crypto.Address) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool := new(Pool)
	ok, err := e.store.KVGet(state.AMMPoolKey(addr[:]), pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, addr)
	}
	return pool, nil
}

// Pools lists every pool address.
func (e *Engine) Pools() ([]crypto.Address, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := e.store.KVGetList(state.AMMPoolIndexKey(), &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		out = append(out, crypto.BytesToAddress(b))
	}
	return out, nil
}

// SetHalted pauses or resumes trading on a pool.
func (e *Engine) SetHalted(addr crypto.Address, halted bool) error {
	pool, err := e.Pool(addr)
	if err != nil {
		return err
	}
	pool.Halted = halted
	return e.store.KVPut(state.AMMPoolKey(addr[:]), pool)
}

// Reserves returns the pool balances of mint A and mint B.
func (e *Engine) Reserves(addr crypto.Address) (*big.Int, *big.Int, error) {
	pool, err := e.Pool(addr)
	if err != nil {
		return nil, nil, err
	}
	return e.reserves(pool)
}

func (e *Engine) reserves(pool *Pool) (*big.Int, *big.Int, error) {
	a, err := e.bank.BalanceOf(pool.MintA, pool.Address)
	if err != nil {
		return nil, nil, err
	}
	b, err := e.bank.BalanceOf(pool.MintB, pool.Address)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

type swapResult struct {
	out      *uint256.Int
	ownerFee *uint256.Int
	fee      *uint256.Int
}

func (e *Engine) simulate(pool *Pool, amountIn *big.Int, dir Direction) (*swapResult, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("amm: invalid direction %d", dir)
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	in, err := toU256(amountIn)
	if err != nil {
		return nil, err
	}
	reserveA, reserveB, err := e.reserves(pool)
	if err != nil {
		return nil, err
	}
	if dir == BToA {
		reserveA, reserveB = reserveB, reserveA
	}
	rIn, err := toU256(reserveA)
	if err != nil {
		return nil, err
	}
	rOut, err := toU256(reserveB)
	if err != nil {
		return nil, err
	}
	trade, owner, net := feeSplit(in, FeeSchedule{TradeFeeBps: pool.TradeFeeBps, OwnerFeeBps: pool.OwnerFeeBps})
	out, err := constantProductOut(rIn, rOut, net)
	if err != nil {
		return nil, err
	}
	if out.IsZero() {
		return nil, fmt.Errorf("%w: output rounds to zero", ErrInsufficientLiquidity)
	}
	return &swapResult{out: out, ownerFee: owner, fee: new(uint256.Int).Add(trade, owner)}, nil
}

// Quote returns the output a swap of amountIn in dir would produce now.
func (e *Engine) Quote(addr crypto.Address, amountIn *big.Int, dir Direction) (*big.Int, error) {
	pool, err := e.Pool(addr)
	if err != nil {
		return nil, err
	}
	res, err := e.simulate(pool, amountIn, dir)
	if err != nil {
		return nil, err
	}
	return res.out.ToBig(), nil
}

// Swap sells amountIn of the input mint held by trader and credits the output
// to recipient. The trade fee stays in the pool and the owner fee goes to the
// pool owner. Callers wrap Swap in a state snapshot for atomicity.
func (e *Engine) Swap(addr, trader, recipient crypto.Address, amountIn *big.Int, dir Direction, minOut *big.Int) (*big.Int, error) {
	pool, err := e.Pool(addr)
	if err != nil {
		return nil, err
	}
	if pool.Halted {
		return nil, fmt.Errorf("%w: %s", ErrPoolHalted, addr)
	}
	res, err := e.simulate(pool, amountIn, dir)
	if err != nil {
		return nil, err
	}
	out := res.out.ToBig()
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrSlippage, out, minOut)
	}
	mintIn, mintOut := pool.mints(dir)
	if err := e.bank.Transfer(mintIn, trader, pool.Address, amountIn); err != nil {
		return nil, err
	}
	if ownerFee := res.ownerFee.ToBig(); ownerFee.Sign() > 0 && !pool.Owner.IsZero() {
		if err := e.bank.Transfer(mintIn, pool.Address, pool.Owner, ownerFee); err != nil {
			return nil, err
		}
	}
	if recipient.IsZero() {
		recipient = trader
	}
	if err := e.bank.Transfer(mintOut, pool.Address, recipient, out); err != nil {
		return nil, err
	}
	e.emit(events.SwapExecuted{
		Pool:      pool.Address,
		Trader:    trader,
		Direction: dir.String(),
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: out,
		Fee:       res.fee.ToBig(),
	})
	return out, nil
}

// AddLiquidity deposits both mints and issues pool shares to provider.
func (e *Engine) AddLiquidity(addr, provider crypto.Address, amountA, amountB *big.Int) (*big.Int, error) {
	pool, err := e.Pool(addr)
	if err != nil {
		return nil, err
	}
	a, err := toU256(amountA)
	if err != nil {
		return nil, err
	}
	b, err := toU256(amountB)
	if err != nil {
		return nil, err
	}
	if a.IsZero() || b.IsZero() {
		return nil, ErrInvalidAmount
	}
	lp, err := e.bank.GetMint(pool.LPMint)
	if err != nil {
		return nil, err
	}
	supply, err := toU256(lp.Supply)
	if err != nil {
		return nil, err
	}
	var shares *uint256.Int
	if supply.IsZero() {
		shares, err = initialShares(a, b)
	} else {
		reserveA, reserveB, rerr := e.reserves(pool)
		if rerr != nil {
			return nil, rerr
		}
		rA, _ := toU256(reserveA)
		rB, _ := toU256(reserveB)
		sharesA, aerr := proportional(a, supply, rA)
		if aerr != nil {
			return nil, aerr
		}
		sharesB, berr := proportional(b, supply, rB)
		if berr != nil {
			return nil, berr
		}
		shares = sharesA
		if sharesB.Lt(sharesA) {
			shares = sharesB
		}
	}
	if err != nil {
		return nil, err
	}
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: deposit too small", ErrInsufficientLiquidity)
	}
	if err := e.bank.Transfer(pool.MintA, provider, pool.Address, amountA); err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(pool.MintB, provider, pool.Address, amountB); err != nil {
		return nil, err
	}
	minted := shares.ToBig()
	if err := e.bank.MintTo(pool.LPMint, pool.Address, provider, minted); err != nil {
		return nil, err
	}
	return minted, nil
}

// WithdrawLiquidity burns shares and returns the proportional reserves.
func (e *Engine) WithdrawLiquidity(addr, provider crypto.Address, shares *big.Int) (*big.Int, *big.Int, error) {
	pool, err := e.Pool(addr)
	if err != nil {
		return nil, nil, err
	}
	s, err := toU256(shares)
	if err != nil {
		return nil, nil, err
	}
	if s.IsZero() {
		return nil, nil, ErrInvalidAmount
	}
	lp, err := e.bank.GetMint(pool.LPMint)
	if err != nil {
		return nil, nil, err
	}
	supply, err := toU256(lp.Supply)
	if err != nil {
		return nil, nil, err
	}
	reserveA, reserveB, err := e.reserves(pool)
	if err != nil {
		return nil, nil, err
	}
	rA, _ := toU256(reserveA)
	rB, _ := toU256(reserveB)
	outA, err := proportional(rA, s, supply)
	if err != nil {
		return nil, nil, err
	}
	outB, err := proportional(rB, s, supply)
	if err != nil {
		return nil, nil, err
	}
	if err := e.bank.Burn(pool.LPMint, provider, shares); err != nil {
		return nil, nil, err
	}
	a, b := outA.ToBig(), outB.ToBig()
	if a.Sign() > 0 {
		if err := e.bank.Transfer(pool.MintA, pool.Address, provider, a); err != nil {
			return nil, nil, err
		}
	}
	if b.Sign() > 0 {
		if err := e.bank.Transfer(pool.MintB, pool.Address, provider, b); err != nil {
			return nil, nil, err
		}
	}
	return a, b, nil
}
