package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"lotterychain/core/events"
	"lotterychain/core/state"
	"lotterychain/crypto"
	"lotterychain/native/common"
)

// ModuleName identifies the bank in account markers.
const ModuleName = "bank"

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrMintNotFound        = errors.New("bank: mint not found")
	ErrUnauthorized        = errors.New("bank: mint authority mismatch")
	ErrSupplyCapExceeded   = errors.New("bank: supply cap exceeded")
	ErrNoHolder            = errors.New("bank: mint has no holder")
)

// storage abstracts the subset of state manager functionality required by the
// ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// MintRecord describes a token mint.
type MintRecord struct {
	Address   crypto.Address
	Symbol    string
	Decimals  uint8
	Authority crypto.Address
	Supply    *big.Int
	// MaxSupply caps Supply when positive.
	MaxSupply *big.Int
}

// Unique reports whether the mint can only ever have one unit.
func (m *MintRecord) Unique() bool {
	return m != nil && m.MaxSupply != nil && m.MaxSupply.Cmp(big.NewInt(1)) == 0 && m.Decimals == 0
}

// Clone returns a deep copy of the record.
func (m *MintRecord) Clone() *MintRecord {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Supply = cloneBigInt(m.Supply)
	clone.MaxSupply = cloneBigInt(m.MaxSupply)
	return &clone
}

// Ledger keeps token mints and balances.
type Ledger struct {
	store   storage
	emitter events.Emitter
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{store: store, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil discards events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt events.Event) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(evt)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (l *Ledger) ready() error {
	if l == nil || l.store == nil {
		return errors.New("bank: storage unavailable")
	}
	return nil
}

// CreateMint registers a new mint at addr. The address is claimed through the
// shared account markers so a second mint at the same address fails.
func (l *Ledger) CreateMint(addr crypto.Address, symbol string, decimals uint8, authority crypto.Address, maxSupply *big.Int) (*MintRecord, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	if addr.IsZero() {
		return nil, fmt.Errorf("bank: mint address required")
	}
	if maxSupply != nil && maxSupply.Sign() < 0 {
		return nil, fmt.Errorf("bank: negative supply cap")
	}
	if err := common.InitAccount(l.store, addr, ModuleName); err != nil {
		return nil, err
	}
	record := &MintRecord{
		Address:   addr,
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Decimals:  decimals,
		Authority: authority,
		Supply:    big.NewInt(0),
		MaxSupply: cloneBigInt(maxSupply),
	}
	if err := l.store.KVPut(state.BankMintKey(addr[:]), record); err != nil {
		return nil, err
	}
	if err := l.store.KVAppend(state.BankMintIndexKey(), addr[:]); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// GetMint returns the mint stored at addr.
func (l *Ledger) GetMint(addr crypto.Address) (*MintRecord, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	record := new(MintRecord)
	ok, err := l.store.KVGet(state.BankMintKey(addr[:]), record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMintNotFound, addr)
	}
	record.Supply = cloneBigInt(record.Supply)
	record.MaxSupply = cloneBigInt(record.MaxSupply)
	return record, nil
}

// Mints lists every registered mint address.
func (l *Ledger) Mints() ([]crypto.Address, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.addressList(state.BankMintIndexKey())
}

func (l *Ledger) addressList(key []byte) ([]crypto.Address, error) {
	var raw [][]byte
	if err := l.store.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		if len(b) != crypto.AddressLength {
			return nil, fmt.Errorf("bank: corrupt address index entry")
		}
		out = append(out, crypto.BytesToAddress(b))
	}
	return out, nil
}

// BalanceOf returns the balance owner holds of mint.
func (l *Ledger) BalanceOf(mint, owner crypto.Address) (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	amount := new(big.Int)
	ok, err := l.store.KVGet(state.BankBalanceKey(mint[:], owner[:]), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (l *Ledger) setBalance(mint, owner crypto.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("bank: negative balance not allowed")
	}
	if err := l.store.KVPut(state.BankBalanceKey(mint[:], owner[:]), amount); err != nil {
		return err
	}
	if amount.Sign() > 0 {
		return l.store.KVAppend(state.BankHolderIndexKey(mint[:]), owner[:])
	}
	return nil
}

// Holders lists every address that has held mint, in first-seen order.
func (l *Ledger) Holders(mint crypto.Address) ([]crypto.Address, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.addressList(state.BankHolderIndexKey(mint[:]))
}

// LargestHolder resolves the address holding the largest balance of mint. For
// one-of-one mints this is the current owner. Ties resolve to the earliest
// holder.
func (l *Ledger) LargestHolder(mint crypto.Address) (crypto.Address, *big.Int, error) {
	holders, err := l.Holders(mint)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	var (
		best    crypto.Address
		bestBal = big.NewInt(0)
	)
	for _, holder := range holders {
		bal, err := l.BalanceOf(mint, holder)
		if err != nil {
			return crypto.Address{}, nil, err
		}
		if bal.Cmp(bestBal) > 0 {
			best = holder
			bestBal = bal
		}
	}
	if bestBal.Sign() == 0 {
		return crypto.Address{}, nil, fmt.Errorf("%w: %s", ErrNoHolder, mint)
	}
	return best, bestBal, nil
}
