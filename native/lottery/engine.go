package lottery

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"lotterychain/core/events"
	"lotterychain/core/state"
	"lotterychain/crypto"
	"lotterychain/native/amm"
	"lotterychain/native/bank"
	"lotterychain/native/common"
)

// DefaultOracleTimeout is how long a randomness request may stay pending
// before FallbackDraw is permitted.
const DefaultOracleTimeout = 10 * time.Minute

// DefaultReserveMultiple sets the reserve floor to this many ticket prices
// when none is configured.
const DefaultReserveMultiple = 10

var (
	errNilState = errors.New("lottery engine: state not configured")
	errNilBank  = errors.New("lottery engine: token ledger not configured")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	IndexAppend(key, value []byte) (uint64, error)
	IndexItems(key []byte) ([][]byte, error)
	Snapshot() int
	RevertToSnapshot(id int)
	Commit() error
}

// Exchange is the AMM surface the staking bridge needs.
type Exchange interface {
	Pool(addr crypto.Address) (*amm.Pool, error)
	Quote(pool crypto.Address, amountIn *big.Int, dir amm.Direction) (*big.Int, error)
	Swap(pool, trader, recipient crypto.Address, amountIn *big.Int, dir amm.Direction, minOut *big.Int) (*big.Int, error)
}

// Engine runs the vault, ticket and draw state machine. Every mutating call
// is serialised and executes atomically against the state overlay: a failed
// call reverts all ledger writes and emits nothing.
type Engine struct {
	mu            sync.Mutex
	state         engineState
	bank          *bank.Ledger
	exchange      Exchange
	oracle        Oracle
	entropy       EntropySource
	pauses        common.PauseView
	emitter       events.Emitter
	pending       events.Buffer
	nowFn         func() int64
	oracleTimeout time.Duration
}

// NewEngine creates an engine with a no-op emitter and OS entropy.
func NewEngine(st engineState, ledger *bank.Ledger, exchange Exchange) *Engine {
	return &Engine{
		state:         st,
		bank:          ledger,
		exchange:      exchange,
		entropy:       CryptoEntropy{},
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
		oracleTimeout: DefaultOracleTimeout,
	}
}

// NewDefaultEngine wires an engine with a bank ledger and AMM engine sharing
// the same state manager. Ledger and pool events are routed through the
// engine so they are only published for committed operations.
func NewDefaultEngine(st *state.Manager) *Engine {
	ledger := bank.NewLedger(st)
	pools := amm.NewEngine(st, ledger)
	engine := NewEngine(st, ledger, pools)
	ledger.SetEmitter(engine.Collector())
	pools.SetEmitter(engine.Collector())
	return engine
}

// Bank exposes the token ledger used by the engine.
func (e *Engine) Bank() *bank.Ledger { return e.bank }

// Exchange exposes the AMM used by the staking bridge.
func (e *Engine) Exchange() Exchange { return e.exchange }

// SetOracle configures the asynchronous randomness oracle.
func (e *Engine) SetOracle(o Oracle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oracle = o
}

// SetEntropySource overrides the local randomness source. Passing nil restores
// the OS CSPRNG.
func (e *Engine) SetEntropySource(src EntropySource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if src == nil {
		src = CryptoEntropy{}
	}
	e.entropy = src
}

// SetPauses configures the pause view consulted before every mutation.
func (e *Engine) SetPauses(p common.PauseView) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauses = p
}

// SetOracleTimeout bounds how long a draw may wait for the oracle.
func (e *Engine) SetOracleTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d <= 0 {
		d = DefaultOracleTimeout
	}
	e.oracleTimeout = d
}

// OracleTimeout returns the configured oracle wait.
func (e *Engine) OracleTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.oracleTimeout
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Collector returns the emitter collaborators should publish into so their
// events follow the engine's commit or revert.
func (e *Engine) Collector() events.Emitter { return &e.pending }

func (e *Engine) emit(evt events.Event) {
	e.pending.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.bank == nil {
		return errNilBank
	}
	return nil
}

// mutate runs fn under the engine lock inside a state snapshot. On success the
// overlay is committed and buffered events are published.
func (e *Engine) mutate(fn func() error) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	e.pending.Reset()
	snap := e.state.Snapshot()
	if err := fn(); err != nil {
		e.state.RevertToSnapshot(snap)
		e.pending.Reset()
		return err
	}
	if err := e.state.Commit(); err != nil {
		e.state.RevertToSnapshot(snap)
		e.pending.Reset()
		return fmt.Errorf("lottery engine: commit: %w", err)
	}
	for _, evt := range e.pending.Drain() {
		e.emitter.Emit(evt)
	}
	return nil
}

// view runs fn under the engine lock without touching the overlay.
func (e *Engine) view(fn func() error) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

func (e *Engine) loadManager(addr crypto.Address) (*VaultManager, error) {
	m := new(VaultManager)
	ok, err := e.state.KVGet(state.LotteryManagerKey(addr[:]), m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLotteryNotFound, addr)
	}
	m.normalize()
	return m, nil
}

func (e *Engine) storeManager(m *VaultManager) error {
	return e.state.KVPut(state.LotteryManagerKey(m.Address[:]), m)
}

func (e *Engine) loadTicket(addr crypto.Address) (*Ticket, bool, error) {
	t := new(Ticket)
	ok, err := e.state.KVGet(state.LotteryTicketKey(addr[:]), t)
	if err != nil || !ok {
		return nil, false, err
	}
	t.normalize()
	return t, true, nil
}

func (e *Engine) storeTicket(t *Ticket) error {
	return e.state.KVPut(state.LotteryTicketKey(t.Address[:]), t)
}

func (e *Engine) ticketFor(m *VaultManager, numbers Numbers) (*Ticket, crypto.Address, uint8, error) {
	addr, bump, err := TicketAddress(numbers, m.Address)
	if err != nil {
		return nil, crypto.Address{}, 0, err
	}
	t, ok, err := e.loadTicket(addr)
	if err != nil {
		return nil, addr, bump, err
	}
	if !ok {
		return nil, addr, bump, nil
	}
	return t, addr, bump, nil
}

func (e *Engine) depositBalance(m *VaultManager) (*big.Int, error) {
	return e.bank.BalanceOf(m.DepositMint, m.DepositVault)
}

func (e *Engine) yieldBalance(m *VaultManager) (*big.Int, error) {
	return e.bank.BalanceOf(m.YieldMint, m.YieldVault)
}

func unixSeconds(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
