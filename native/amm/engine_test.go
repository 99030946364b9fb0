package amm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"lotterychain/core/events"
	"lotterychain/core/state"
	"lotterychain/crypto"
	"lotterychain/native/bank"
	storagedb "lotterychain/storage"
)

type fixture struct {
	state  *state.Manager
	bank   *bank.Ledger
	engine *Engine
	mintA  crypto.Address
	mintB  crypto.Address
	owner  crypto.Address
	lp     crypto.Address
	trader crypto.Address
	pool   *Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storagedb.NewMemDB())
	ledger := bank.NewLedger(st)
	f := &fixture{
		state:  st,
		bank:   ledger,
		engine: NewEngine(st, ledger),
		mintA:  crypto.ProgramID("mint/a"),
		mintB:  crypto.ProgramID("mint/b"),
		owner:  crypto.ProgramID("owner"),
		lp:     crypto.ProgramID("provider"),
		trader: crypto.ProgramID("trader"),
	}
	authority := crypto.ProgramID("authority")
	for _, mint := range []crypto.Address{f.mintA, f.mintB} {
		_, err := ledger.CreateMint(mint, "", 0, authority, nil)
		require.NoError(t, err)
		require.NoError(t, ledger.MintTo(mint, authority, f.lp, big.NewInt(1_000_000)))
		require.NoError(t, ledger.MintTo(mint, authority, f.trader, big.NewInt(100_000)))
	}
	pool, err := f.engine.CreatePool(f.mintA, f.mintB, f.owner, DefaultFees())
	require.NoError(t, err)
	f.pool = pool
	shares, err := f.engine.AddLiquidity(pool.Address, f.lp, big.NewInt(1_000_000), big.NewInt(1_000_000))
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), shares.Int64())
	return f
}

func TestSwapChargesFees(t *testing.T) {
	f := newFixture(t)
	var buf events.Buffer
	f.engine.SetEmitter(&buf)

	quote, err := f.engine.Quote(f.pool.Address, big.NewInt(10_000), AToB)
	require.NoError(t, err)
	require.Equal(t, int64(9_871), quote.Int64())

	out, err := f.engine.Swap(f.pool.Address, f.trader, crypto.Address{}, big.NewInt(10_000), AToB, quote)
	require.NoError(t, err)
	require.Equal(t, quote, out)

	ownerFee, err := f.bank.BalanceOf(f.mintA, f.owner)
	require.NoError(t, err)
	require.Equal(t, int64(5), ownerFee.Int64())

	reserveA, reserveB, err := f.engine.Reserves(f.pool.Address)
	require.NoError(t, err)
	require.Equal(t, int64(1_009_995), reserveA.Int64())
	require.Equal(t, int64(990_129), reserveB.Int64())

	traderB, _ := f.bank.BalanceOf(f.mintB, f.trader)
	require.Equal(t, int64(109_871), traderB.Int64())

	emitted := buf.Drain()
	require.NotEmpty(t, emitted)
	last := events.Payload(emitted[len(emitted)-1])
	require.Equal(t, events.TypeSwapExecuted, last.Type)
	require.Equal(t, "30", last.Attributes["fee"])
}

func TestSwapFailures(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Swap(f.pool.Address, f.trader, crypto.Address{}, big.NewInt(10_000), AToB, big.NewInt(10_000))
	require.ErrorIs(t, err, ErrSlippage)

	_, err = f.engine.Swap(f.pool.Address, f.trader, crypto.Address{}, big.NewInt(0), AToB, nil)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.engine.Swap(f.pool.Address, f.trader, crypto.Address{}, big.NewInt(200_000), AToB, nil)
	require.ErrorIs(t, err, bank.ErrInsufficientBalance)

	require.NoError(t, f.engine.SetHalted(f.pool.Address, true))
	_, err = f.engine.Swap(f.pool.Address, f.trader, crypto.Address{}, big.NewInt(10), AToB, nil)
	require.ErrorIs(t, err, ErrPoolHalted)

	_, err = f.engine.Quote(crypto.ProgramID("missing"), big.NewInt(1), AToB)
	require.ErrorIs(t, err, ErrPoolNotFound)
}

func TestWithdrawLiquidity(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Swap(f.pool.Address, f.trader, crypto.Address{}, big.NewInt(10_000), BToA, nil)
	require.NoError(t, err)

	require.Equal(t, int64(990_129), mustReserve(t, f, true).Int64())
	require.Equal(t, int64(1_009_995), mustReserve(t, f, false).Int64())

	a, b, err := f.engine.WithdrawLiquidity(f.pool.Address, f.lp, big.NewInt(500_000))
	require.NoError(t, err)
	require.Equal(t, int64(495_064), a.Int64())
	require.Equal(t, int64(504_997), b.Int64())
	require.Equal(t, int64(495_065), mustReserve(t, f, true).Int64())
	require.Equal(t, int64(504_998), mustReserve(t, f, false).Int64())

	_, _, err = f.engine.WithdrawLiquidity(f.pool.Address, f.trader, big.NewInt(1))
	require.ErrorIs(t, err, bank.ErrInsufficientBalance)
}

func TestDirectionHelpers(t *testing.T) {
	f := newFixture(t)
	dir, err := f.pool.DirectionFrom(f.mintB)
	require.NoError(t, err)
	require.Equal(t, BToA, dir)
	in, out := f.pool.Mints(dir)
	require.Equal(t, f.mintB, in)
	require.Equal(t, f.mintA, out)
	_, err = f.pool.DirectionFrom(f.owner)
	require.Error(t, err)

	parsed, err := ParseDirection("A_TO_B")
	require.NoError(t, err)
	require.Equal(t, AToB, parsed)
	require.Error(t, FeeSchedule{TradeFeeBps: 900, OwnerFeeBps: 200}.Validate())
}

func mustReserve(t *testing.T, f *fixture, sideA bool) *big.Int {
	t.Helper()
	a, b, err := f.engine.Reserves(f.pool.Address)
	require.NoError(t, err)
	if sideA {
		return a
	}
	return b
}
