package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"lotterychain/core/state"
	"lotterychain/crypto"
	"lotterychain/native/amm"
	"lotterychain/native/bank"
	"lotterychain/native/lottery"
	"lotterychain/services/lotteryd/genesis"
	"lotterychain/storage"
)

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *capturePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, append([]byte(nil), data...))
	return nil
}

func newOracleLottery(t *testing.T) (*lottery.Engine, crypto.Address, crypto.Address) {
	t.Helper()
	buyer := crypto.ProgramID("oracle-test-buyer")
	doc := fmt.Sprintf(`
[[mints]]
symbol = "USD"

[[mints]]
symbol = "YLD"

[[balances]]
mint = "USD"
owner = %[1]q
amount = "10000"

[[balances]]
mint = "YLD"
owner = %[1]q
amount = "5000"

[[pools]]
mint_a = "USD"
mint_b = "YLD"
provider = %[1]q
amount_a = "5000"
amount_b = "5000"

[[lotteries]]
name = "vrf"
deposit_mint = "USD"
yield_mint = "YLD"
ticket_price = "10"
draw_duration = "1s"
mode = "oracle"
max_number = 9
`, buyer.String())
	file, err := genesis.Parse(doc)
	require.NoError(t, err)
	st := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(st)
	pools := amm.NewEngine(st, ledger)
	engine := lottery.NewEngine(st, ledger, pools)
	res, err := genesis.Apply(file, st, ledger, pools, engine)
	require.NoError(t, err)
	return engine, res.Lotteries[0], buyer
}

func TestRequestAndFulfilRoundTrip(t *testing.T) {
	engine, manager, buyer := newOracleLottery(t)
	pub := &capturePublisher{}
	client := New(pub, Config{RequestSubject: "lottery.vrf.request", FulfilSubject: "lottery.vrf.fulfil"}, nil)
	engine.SetOracle(client)

	_, err := engine.Buy(manager, buyer, lottery.Numbers{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	m, err := engine.Lottery(manager)
	require.NoError(t, err)
	engine.SetNowFunc(func() int64 { return int64(m.CutoffTime) + 1 })

	draw, err := engine.Draw(context.Background(), manager)
	require.NoError(t, err)
	require.Equal(t, lottery.StateAwaitingRandomness, draw.State)

	require.Len(t, pub.payloads, 1)
	require.Equal(t, "lottery.vrf.request", pub.subjects[0])
	var req RequestMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &req))
	require.Equal(t, draw.RequestHandle, req.Handle)
	require.Equal(t, manager.String(), req.Lottery)
	require.Equal(t, uint8(9), req.MaxNumber)

	fulfil, err := json.Marshal(FulfilMessage{Handle: req.Handle, Randomness: "0x" + hex.EncodeToString(make([]byte, 32))})
	require.NoError(t, err)
	require.NoError(t, client.HandleFulfil(engine, fulfil))

	m, err = engine.Lottery(manager)
	require.NoError(t, err)
	require.Equal(t, lottery.StateLocked, m.State)
	for _, n := range m.WinningNumbers {
		require.True(t, n >= 1 && n <= 9)
	}

	// A replay of the same handle is rejected.
	err = client.HandleFulfil(engine, fulfil)
	require.ErrorIs(t, err, lottery.ErrUnknownRequest)
}

func TestPublishFailureRevertsDraw(t *testing.T) {
	engine, manager, buyer := newOracleLottery(t)
	pub := &capturePublisher{err: errors.New("no responders")}
	engine.SetOracle(New(pub, Config{RequestSubject: "req"}, nil))

	_, err := engine.Buy(manager, buyer, lottery.Numbers{9, 9, 9, 9, 9, 9})
	require.NoError(t, err)
	m, err := engine.Lottery(manager)
	require.NoError(t, err)
	engine.SetNowFunc(func() int64 { return int64(m.CutoffTime) + 1 })

	_, err = engine.Draw(context.Background(), manager)
	require.ErrorIs(t, err, lottery.ErrOracleUnavailable)

	m, err = engine.Lottery(manager)
	require.NoError(t, err)
	require.Equal(t, lottery.StateOpen, m.State)
}

func TestDecodeFulfil(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "valid", payload: `{"handle":"h1","randomness":"00ff"}`},
		{name: "prefixed", payload: `{"handle":"h1","randomness":"0x00ff"}`},
		{name: "missing handle", payload: `{"randomness":"00ff"}`, wantErr: true},
		{name: "bad hex", payload: `{"handle":"h1","randomness":"zz"}`, wantErr: true},
		{name: "not json", payload: `nope`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, randomness, err := DecodeFulfil([]byte(tc.payload))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "h1", msg.Handle)
			require.Equal(t, []byte{0x00, 0xff}, randomness)
		})
	}
}

func TestSubscribeRequiresConnection(t *testing.T) {
	client := New(&capturePublisher{}, Config{}, nil)
	require.ErrorIs(t, client.Subscribe(nil), errNotConnected)
	_, err := Connect(Config{}, nil)
	require.Error(t, err)
}
