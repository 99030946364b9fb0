package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"lotterychain/cmd/internal/secret"
	"lotterychain/crypto"
	"lotterychain/native/lottery"
)

const defaultAPI = "http://127.0.0.1:7080"

var (
	secretSource = secret.NewSource("LOTTERY_JWT_SECRET", "JWT signing secret")
	cliNow       = time.Now
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type globals struct {
	api   string
	token string
}

func run(args []string, stdout, stderr io.Writer) int {
	g := globals{api: envOr("LOTTERY_API", defaultAPI), token: os.Getenv("LOTTERY_TOKEN")}
	fs := flag.NewFlagSet("lottery-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&g.api, "api", g.api, "lotteryd base URL")
	fs.StringVar(&g.token, "token", g.token, "bearer token")
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 2
	}
	client := newAPIClient(g.api, g.token)
	ctx := context.Background()
	cmd, cmdArgs := rest[0], rest[1:]

	var err error
	switch cmd {
	case "keygen":
		err = runKeygen(cmdArgs, stdout, stderr)
	case "address":
		err = runAddress(cmdArgs, stdout, stderr)
	case "token":
		err = runToken(cmdArgs, stdout, stderr)
	case "list":
		err = printCall(ctx, client, stdout, http.MethodGet, "/v1/lotteries", nil)
	case "show":
		err = withLottery(cmdArgs, func(addr string, _ []string) error {
			return printCall(ctx, client, stdout, http.MethodGet, lotteryPath(addr, ""), nil)
		})
	case "tickets":
		err = withLottery(cmdArgs, func(addr string, _ []string) error {
			return printCall(ctx, client, stdout, http.MethodGet, lotteryPath(addr, "/tickets"), nil)
		})
	case "ticket":
		err = withNumbers(cmdArgs, func(addr string, numbers lottery.Numbers) error {
			return printCall(ctx, client, stdout, http.MethodGet, lotteryPath(addr, "/tickets/"+numbers.String()), nil)
		})
	case "buy", "redeem", "dispense":
		err = withNumbers(cmdArgs, func(addr string, numbers lottery.Numbers) error {
			body := map[string][]int{"numbers": numbers.Ints()}
			return printCall(ctx, client, stdout, http.MethodPost, lotteryPath(addr, "/"+cmd), body)
		})
	case "draw", "stake", "fallback":
		err = withLottery(cmdArgs, func(addr string, _ []string) error {
			return printCall(ctx, client, stdout, http.MethodPost, lotteryPath(addr, "/"+cmd), nil)
		})
	case "unstake":
		err = withLottery(cmdArgs, func(addr string, extra []string) error {
			body := map[string]string{}
			if len(extra) > 0 {
				body["amount"] = extra[0]
			}
			return printCall(ctx, client, stdout, http.MethodPost, lotteryPath(addr, "/unstake"), body)
		})
	case "fulfil":
		if len(cmdArgs) != 2 {
			err = errors.New("usage: fulfil <handle> <hex randomness>")
			break
		}
		if _, decodeErr := hex.DecodeString(strings.TrimPrefix(cmdArgs[1], "0x")); decodeErr != nil {
			err = fmt.Errorf("randomness must be hex: %w", decodeErr)
			break
		}
		body := map[string]string{"handle": cmdArgs[0], "randomness": cmdArgs[1]}
		err = printCall(ctx, client, stdout, http.MethodPost, "/v1/oracle/fulfil", body)
	case "init":
		err = runInit(ctx, client, cmdArgs, stdout, stderr)
	case "events":
		err = runEvents(ctx, client, cmdArgs, stdout, stderr)
	case "help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s\n", cmd, usage())
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func usage() string {
	return `Usage: lottery-cli [-api URL] [-token JWT] <command> [args]

Commands:
  keygen [-out FILE]                       generate an ed25519 key and print its address
  address -key FILE                        print the address of a saved key
  token -sub ADDR [-scope S] [-ttl D]      sign a bearer token (secret from LOTTERY_JWT_SECRET or prompt)
  list                                     list lotteries
  show <lottery>                           show a lottery and its vault balances
  tickets <lottery>                        list tickets
  ticket <lottery> <n-n-n-n-n-n>           show one ticket
  init -deposit MINT -yield MINT ...       initialize a lottery (operator)
  buy <lottery> <n-n-n-n-n-n>              buy a ticket
  redeem <lottery> <n-n-n-n-n-n>           redeem a ticket for its price
  draw <lottery>                           draw winning numbers (operator)
  dispense <lottery> <n-n-n-n-n-n>         pay the winning ticket (operator)
  stake <lottery>                          stake the reserve excess (operator)
  unstake <lottery> [amount]               sell yield back to deposits (authority)
  fallback <lottery>                       draw locally after an oracle timeout (operator)
  fulfil <handle> <hex>                    deliver oracle randomness (operator)
  events [-lottery L] [-type T] [-limit N] query archived events`
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func lotteryPath(addr, suffix string) string {
	return "/v1/lotteries/" + url.PathEscape(addr) + suffix
}

func withLottery(args []string, fn func(addr string, extra []string) error) error {
	if len(args) < 1 {
		return errors.New("lottery address required")
	}
	addr, err := crypto.ParseAddress(args[0])
	if err != nil {
		return err
	}
	return fn(addr.String(), args[1:])
}

func withNumbers(args []string, fn func(addr string, numbers lottery.Numbers) error) error {
	return withLottery(args, func(addr string, extra []string) error {
		if len(extra) != 1 {
			return errors.New("numbers required, e.g. 1-2-3-4-5-6")
		}
		numbers, err := lottery.ParseNumbers(extra[0])
		if err != nil {
			return err
		}
		return fn(addr, numbers)
	})
}

func printCall(ctx context.Context, client *apiClient, stdout io.Writer, method, path string, body any) error {
	data, err := client.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	return printJSON(stdout, data)
}

func printJSON(w io.Writer, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		_, werr := w.Write(data)
		return werr
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runKeygen(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "write the hex encoded seed to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	seed := hex.EncodeToString(key.Bytes())
	addr := key.PubKey().Address()
	if *out != "" {
		if err := os.WriteFile(*out, []byte(seed+"\n"), 0o600); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "address: %s\nkey written to %s\n", addr, *out)
		return nil
	}
	fmt.Fprintf(stdout, "address: %s\nseed:    %s\n", addr, seed)
	return nil
}

func runAddress(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("key", "", "file holding a hex encoded seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("-key is required")
	}
	data, err := os.ReadFile(*path)
	if err != nil {
		return err
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(data)), "0x"))
	if err != nil {
		return fmt.Errorf("decode key: %w", err)
	}
	key, err := crypto.PrivateKeyFromBytes(seed)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, key.PubKey().Address())
	return nil
}

func runToken(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		sub      string
		scope    string
		issuer   string
		audience string
		ttl      time.Duration
	)
	fs.StringVar(&sub, "sub", "", "caller address")
	fs.StringVar(&scope, "scope", "", "space separated scopes, e.g. lottery:operator")
	fs.StringVar(&issuer, "issuer", "lotteryd", "token issuer")
	fs.StringVar(&audience, "audience", "", "token audience")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(sub)
	if err != nil {
		return fmt.Errorf("-sub: %w", err)
	}
	if ttl <= 0 {
		return errors.New("-ttl must be positive")
	}
	key, err := secretSource.Get()
	if err != nil {
		return err
	}
	now := cliNow()
	claims := jwt.MapClaims{
		"sub": addr.String(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	if scope != "" {
		claims["scope"] = scope
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, signed)
	return nil
}

func runInit(ctx context.Context, client *apiClient, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		name, authority, deposit, yield, pool, price, floor, mode string
		duration                                                  time.Duration
		maxNumber, quota                                          uint
	)
	fs.StringVar(&name, "name", "", "display name")
	fs.StringVar(&authority, "authority", "", "authority address (defaults to the token subject)")
	fs.StringVar(&deposit, "deposit", "", "deposit mint address")
	fs.StringVar(&yield, "yield", "", "yield mint address")
	fs.StringVar(&pool, "pool", "", "AMM pool address")
	fs.StringVar(&price, "price", "", "ticket price in base units")
	fs.StringVar(&floor, "floor", "", "reserve floor in base units")
	fs.StringVar(&mode, "mode", "local", "randomness mode: local or oracle")
	fs.DurationVar(&duration, "duration", 24*time.Hour, "draw duration")
	fs.UintVar(&maxNumber, "max-number", 0, "largest drawn number (default 255)")
	fs.UintVar(&quota, "max-tickets", 0, "tickets per buyer and epoch (0 disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if deposit == "" || yield == "" || price == "" {
		return errors.New("-deposit, -yield and -price are required")
	}
	if v, ok := new(big.Int).SetString(price, 10); !ok || v.Sign() <= 0 {
		return fmt.Errorf("-price: invalid amount %q", price)
	}
	body := map[string]any{
		"name":               name,
		"authority":          authority,
		"depositMint":        deposit,
		"yieldMint":          yield,
		"pool":               pool,
		"ticketPrice":        price,
		"drawDuration":       int64(duration / time.Second),
		"reserveFloor":       floor,
		"maxNumber":          maxNumber,
		"mode":               mode,
		"maxTicketsPerBuyer": quota,
	}
	return printCall(ctx, client, stdout, http.MethodPost, "/v1/lotteries", body)
}

func runEvents(ctx context.Context, client *apiClient, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	lotteryAddr := fs.String("lottery", "", "filter by lottery address")
	eventType := fs.String("type", "", "filter by event type")
	limit := fs.Int("limit", 0, "maximum events to return")
	after := fs.Uint64("after", 0, "only events after this sequence")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q := url.Values{}
	if *lotteryAddr != "" {
		q.Set("lottery", *lotteryAddr)
	}
	if *eventType != "" {
		q.Set("type", *eventType)
	}
	if *limit > 0 {
		q.Set("limit", strconv.Itoa(*limit))
	}
	if *after > 0 {
		q.Set("after", strconv.FormatUint(*after, 10))
	}
	path := "/v1/events"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return printCall(ctx, client, stdout, http.MethodGet, path, nil)
}
