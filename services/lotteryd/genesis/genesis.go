// Package genesis seeds a fresh lotteryd state from a TOML file: mints,
// balances, AMM pools with liquidity, and lottery instances.
package genesis

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"lotterychain/crypto"
	"lotterychain/native/amm"
	"lotterychain/native/bank"
	"lotterychain/native/lottery"
)

// DefaultAuthority issues every genesis mint unless the file names another.
var DefaultAuthority = crypto.ProgramID("lotterychain/genesis")

// File is the decoded genesis document.
type File struct {
	Authority string    `toml:"authority"`
	Mints     []Mint    `toml:"mints"`
	Balances  []Balance `toml:"balances"`
	Pools     []Pool    `toml:"pools"`
	Lotteries []Lottery `toml:"lotteries"`
}

// Mint declares a fungible token. Address defaults to a value derived from
// the symbol.
type Mint struct {
	Symbol    string `toml:"symbol"`
	Address   string `toml:"address"`
	Decimals  uint8  `toml:"decimals"`
	MaxSupply string `toml:"max_supply"`
}

// Balance credits Amount of the mint with Symbol to Owner.
type Balance struct {
	Mint   string `toml:"mint"`
	Owner  string `toml:"owner"`
	Amount string `toml:"amount"`
}

// Pool creates an AMM pool and optionally seeds it from Provider's balances.
type Pool struct {
	MintA       string `toml:"mint_a"`
	MintB       string `toml:"mint_b"`
	Owner       string `toml:"owner"`
	TradeFeeBps uint32 `toml:"trade_fee_bps"`
	OwnerFeeBps uint32 `toml:"owner_fee_bps"`
	Provider    string `toml:"provider"`
	AmountA     string `toml:"amount_a"`
	AmountB     string `toml:"amount_b"`
}

// Lottery initialises one lottery instance over a genesis pool.
type Lottery struct {
	Name               string `toml:"name"`
	Authority          string `toml:"authority"`
	DepositMint        string `toml:"deposit_mint"`
	YieldMint          string `toml:"yield_mint"`
	TicketPrice        string `toml:"ticket_price"`
	DrawDuration       string `toml:"draw_duration"`
	ReserveFloor       string `toml:"reserve_floor"`
	MaxNumber          uint16 `toml:"max_number"`
	Mode               string `toml:"mode"`
	MaxTicketsPerBuyer uint32 `toml:"max_tickets_per_buyer"`
}

// Result lists what Apply created.
type Result struct {
	Applied   bool
	Mints     map[string]crypto.Address
	Pools     []crypto.Address
	Lotteries []crypto.Address
}

// Load decodes a genesis file and rejects unknown keys.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes a genesis document.
func Parse(doc string) (*File, error) {
	var file File
	meta, err := toml.Decode(doc, &file)
	if err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("genesis: unknown key %s", undecoded[0])
	}
	return &file, nil
}

// Committer persists the state overlay.
type Committer interface {
	Commit() error
	Discard()
}

// Apply seeds an empty state. When mints already exist the state has been
// initialised before and Apply does nothing.
func Apply(file *File, st Committer, ledger *bank.Ledger, pools *amm.Engine, engine *lottery.Engine) (*Result, error) {
	res := &Result{Mints: make(map[string]crypto.Address)}
	if file == nil {
		return res, nil
	}
	existing, err := ledger.Mints()
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return res, nil
	}
	if err := seedTokens(file, ledger, pools, res); err != nil {
		st.Discard()
		return nil, err
	}
	if err := st.Commit(); err != nil {
		return nil, fmt.Errorf("genesis: commit tokens: %w", err)
	}
	for i, entry := range file.Lotteries {
		params, err := lotteryParams(entry, res)
		if err != nil {
			return nil, fmt.Errorf("genesis: lottery %d: %w", i, err)
		}
		m, err := engine.Initialize(params)
		if err != nil {
			return nil, fmt.Errorf("genesis: lottery %q: %w", entry.Name, err)
		}
		res.Lotteries = append(res.Lotteries, m.Address)
	}
	res.Applied = true
	return res, nil
}

func seedTokens(file *File, ledger *bank.Ledger, pools *amm.Engine, res *Result) error {
	authority := DefaultAuthority
	if strings.TrimSpace(file.Authority) != "" {
		parsed, err := crypto.ParseAddress(file.Authority)
		if err != nil {
			return fmt.Errorf("genesis: authority: %w", err)
		}
		authority = parsed
	}
	for _, entry := range file.Mints {
		symbol := strings.ToUpper(strings.TrimSpace(entry.Symbol))
		if symbol == "" {
			return fmt.Errorf("genesis: mint symbol required")
		}
		if _, dup := res.Mints[symbol]; dup {
			return fmt.Errorf("genesis: duplicate mint %s", symbol)
		}
		addr := crypto.ProgramID("lotterychain/mint/" + symbol)
		if strings.TrimSpace(entry.Address) != "" {
			parsed, err := crypto.ParseAddress(entry.Address)
			if err != nil {
				return fmt.Errorf("genesis: mint %s: %w", symbol, err)
			}
			addr = parsed
		}
		maxSupply, err := optionalAmount(entry.MaxSupply)
		if err != nil {
			return fmt.Errorf("genesis: mint %s: %w", symbol, err)
		}
		if _, err := ledger.CreateMint(addr, symbol, entry.Decimals, authority, maxSupply); err != nil {
			return fmt.Errorf("genesis: mint %s: %w", symbol, err)
		}
		res.Mints[symbol] = addr
	}
	for _, entry := range file.Balances {
		mint, err := res.mint(entry.Mint)
		if err != nil {
			return err
		}
		owner, err := crypto.ParseAddress(entry.Owner)
		if err != nil {
			return fmt.Errorf("genesis: balance owner: %w", err)
		}
		amount, err := amount(entry.Amount)
		if err != nil {
			return fmt.Errorf("genesis: balance for %s: %w", entry.Owner, err)
		}
		if err := ledger.MintTo(mint, authority, owner, amount); err != nil {
			return fmt.Errorf("genesis: balance for %s: %w", entry.Owner, err)
		}
	}
	for _, entry := range file.Pools {
		mintA, err := res.mint(entry.MintA)
		if err != nil {
			return err
		}
		mintB, err := res.mint(entry.MintB)
		if err != nil {
			return err
		}
		var owner crypto.Address
		if strings.TrimSpace(entry.Owner) != "" {
			if owner, err = crypto.ParseAddress(entry.Owner); err != nil {
				return fmt.Errorf("genesis: pool owner: %w", err)
			}
		}
		fees := amm.DefaultFees()
		if entry.TradeFeeBps != 0 || entry.OwnerFeeBps != 0 {
			fees = amm.FeeSchedule{TradeFeeBps: entry.TradeFeeBps, OwnerFeeBps: entry.OwnerFeeBps}
		}
		pool, err := pools.CreatePool(mintA, mintB, owner, fees)
		if err != nil {
			return fmt.Errorf("genesis: pool %s/%s: %w", entry.MintA, entry.MintB, err)
		}
		res.Pools = append(res.Pools, pool.Address)
		if strings.TrimSpace(entry.Provider) == "" {
			continue
		}
		provider, err := crypto.ParseAddress(entry.Provider)
		if err != nil {
			return fmt.Errorf("genesis: pool provider: %w", err)
		}
		amountA, err := amount(entry.AmountA)
		if err != nil {
			return fmt.Errorf("genesis: pool amount_a: %w", err)
		}
		amountB, err := amount(entry.AmountB)
		if err != nil {
			return fmt.Errorf("genesis: pool amount_b: %w", err)
		}
		if _, err := pools.AddLiquidity(pool.Address, provider, amountA, amountB); err != nil {
			return fmt.Errorf("genesis: seed pool %s/%s: %w", entry.MintA, entry.MintB, err)
		}
	}
	return nil
}

func lotteryParams(entry Lottery, res *Result) (lottery.InitParams, error) {
	var params lottery.InitParams
	deposit, err := res.mint(entry.DepositMint)
	if err != nil {
		return params, err
	}
	yield, err := res.mint(entry.YieldMint)
	if err != nil {
		return params, err
	}
	price, err := amount(entry.TicketPrice)
	if err != nil {
		return params, fmt.Errorf("ticket_price: %w", err)
	}
	duration, err := time.ParseDuration(strings.TrimSpace(entry.DrawDuration))
	if err != nil {
		return params, fmt.Errorf("draw_duration: %w", err)
	}
	floor, err := optionalAmount(entry.ReserveFloor)
	if err != nil {
		return params, fmt.Errorf("reserve_floor: %w", err)
	}
	mode, err := lottery.ParseRandomnessMode(entry.Mode)
	if err != nil {
		return params, err
	}
	var authority crypto.Address
	if strings.TrimSpace(entry.Authority) != "" {
		if authority, err = crypto.ParseAddress(entry.Authority); err != nil {
			return params, fmt.Errorf("authority: %w", err)
		}
	}
	pool, err := findPool(res.Pools, deposit, yield)
	if err != nil {
		return params, err
	}
	return lottery.InitParams{
		Name:               entry.Name,
		Authority:          authority,
		DepositMint:        deposit,
		YieldMint:          yield,
		Pool:               pool,
		DrawDuration:       int64(duration / time.Second),
		TicketPrice:        price,
		ReserveFloor:       floor,
		MaxNumber:          entry.MaxNumber,
		Mode:               mode,
		MaxTicketsPerBuyer: entry.MaxTicketsPerBuyer,
	}, nil
}

func findPool(pools []crypto.Address, a, b crypto.Address) (crypto.Address, error) {
	for _, pair := range [][2]crypto.Address{{a, b}, {b, a}} {
		addr, _, err := amm.PoolAddress(pair[0], pair[1])
		if err != nil {
			return crypto.Address{}, err
		}
		for _, pool := range pools {
			if pool == addr {
				return pool, nil
			}
		}
	}
	return crypto.Address{}, fmt.Errorf("no genesis pool trades %s against %s", a, b)
}

func (r *Result) mint(symbol string) (crypto.Address, error) {
	addr, ok := r.Mints[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return crypto.Address{}, fmt.Errorf("genesis: unknown mint %q", symbol)
	}
	return addr, nil
}

func amount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.ReplaceAll(strings.TrimSpace(raw), "_", ""), 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

func optionalAmount(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return amount(raw)
}
