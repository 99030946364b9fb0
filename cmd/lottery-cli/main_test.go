package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"lotterychain/cmd/internal/secret"
	"lotterychain/crypto"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

func fakeAPI(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			if err := json.Unmarshal(data, &rec.body); err != nil {
				t.Errorf("decode request body: %v", err)
			}
		}
		seen = append(seen, rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsageAndUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t)
	if code != 2 || !strings.Contains(stderr, "Usage: lottery-cli") {
		t.Fatalf("expected usage, got %d %q", code, stderr)
	}
	code, _, stderr = runCLI(t, "explode")
	if code != 2 || !strings.Contains(stderr, `unknown command "explode"`) {
		t.Fatalf("expected unknown command, got %d %q", code, stderr)
	}
}

func TestBuySendsNumbersWithBearer(t *testing.T) {
	srv, seen := fakeAPI(t, http.StatusOK, `{"address":"t1","numbers":[1,2,3,4,5,6]}`)
	lottery := crypto.ProgramID("lottery/test").String()

	code, stdout, stderr := runCLI(t, "-api", srv.URL, "-token", "tok", "buy", lottery, "6-5-4-3-2-1")
	if code != 0 {
		t.Fatalf("buy failed: %d %s", code, stderr)
	}
	if len(*seen) != 1 {
		t.Fatalf("expected one request, got %d", len(*seen))
	}
	req := (*seen)[0]
	if req.method != http.MethodPost || req.path != "/v1/lotteries/"+lottery+"/buy" {
		t.Fatalf("unexpected request %s %s", req.method, req.path)
	}
	if req.auth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", req.auth)
	}
	numbers, ok := req.body["numbers"].([]any)
	if !ok || len(numbers) != 6 || numbers[0].(float64) != 6 {
		t.Fatalf("unexpected numbers %v", req.body["numbers"])
	}
	if !strings.Contains(stdout, `"address": "t1"`) {
		t.Fatalf("expected indented output, got %q", stdout)
	}
}

func TestCommandArgValidation(t *testing.T) {
	srv, seen := fakeAPI(t, http.StatusOK, `{}`)
	lottery := crypto.ProgramID("lottery/test").String()
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "show_missing_lottery", args: []string{"show"}, wantErr: "lottery address required"},
		{name: "show_bad_address", args: []string{"show", "nope"}, wantErr: "Error:"},
		{name: "buy_missing_numbers", args: []string{"buy", lottery}, wantErr: "numbers required"},
		{name: "buy_bad_numbers", args: []string{"buy", lottery, "1-2-3"}, wantErr: "Error:"},
		{name: "fulfil_bad_hex", args: []string{"fulfil", "h", "zz"}, wantErr: "randomness must be hex"},
		{name: "fulfil_missing_args", args: []string{"fulfil"}, wantErr: "usage: fulfil"},
		{name: "init_missing_mints", args: []string{"init", "-price", "10"}, wantErr: "-deposit, -yield and -price are required"},
		{name: "init_bad_price", args: []string{"init", "-deposit", lottery, "-yield", lottery, "-price", "1.5"}, wantErr: "invalid amount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			args := append([]string{"-api", srv.URL}, tc.args...)
			code, _, stderr := runCLI(t, args...)
			if code != 1 {
				t.Fatalf("expected exit 1, got %d (%s)", code, stderr)
			}
			if !strings.Contains(stderr, tc.wantErr) {
				t.Fatalf("stderr %q missing %q", stderr, tc.wantErr)
			}
		})
	}
	if len(*seen) != 0 {
		t.Fatalf("invalid commands reached the API: %+v", *seen)
	}
}

func TestAPIErrorIsReported(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusConflict, `{"code":"DUPLICATE_TICKET","kind":"duplicate_ticket","message":"ticket already sold"}`)
	lottery := crypto.ProgramID("lottery/test").String()
	code, _, stderr := runCLI(t, "-api", srv.URL, "draw", lottery)
	if code != 1 {
		t.Fatalf("expected failure, got %d", code)
	}
	if !strings.Contains(stderr, "DUPLICATE_TICKET (409): ticket already sold") {
		t.Fatalf("unexpected error output %q", stderr)
	}
}

func TestUnstakeAndEventsRequests(t *testing.T) {
	srv, seen := fakeAPI(t, http.StatusOK, `[]`)
	lottery := crypto.ProgramID("lottery/test").String()

	if code, _, stderr := runCLI(t, "-api", srv.URL, "unstake", lottery, "250"); code != 0 {
		t.Fatalf("unstake failed: %s", stderr)
	}
	if code, _, stderr := runCLI(t, "-api", srv.URL, "events", "-lottery", lottery, "-type", "lottery.draw", "-limit", "5"); code != 0 {
		t.Fatalf("events failed: %s", stderr)
	}
	if len(*seen) != 2 {
		t.Fatalf("expected two requests, got %d", len(*seen))
	}
	if amount := (*seen)[0].body["amount"]; amount != "250" {
		t.Fatalf("unexpected unstake amount %v", amount)
	}
	events := (*seen)[1]
	if events.path != "/v1/events" || !strings.Contains(events.query, "limit=5") || !strings.Contains(events.query, "type=lottery.draw") {
		t.Fatalf("unexpected events request %s?%s", events.path, events.query)
	}
}

func TestInitBuildsRequest(t *testing.T) {
	srv, seen := fakeAPI(t, http.StatusCreated, `{"address":"l1"}`)
	deposit := crypto.ProgramID("mint/USDC").String()
	yield := crypto.ProgramID("mint/STUSDC").String()
	code, _, stderr := runCLI(t, "-api", srv.URL, "init",
		"-name", "weekly", "-deposit", deposit, "-yield", yield,
		"-price", "1000000", "-duration", "168h", "-max-number", "49", "-max-tickets", "4")
	if code != 0 {
		t.Fatalf("init failed: %s", stderr)
	}
	body := (*seen)[0].body
	if body["drawDuration"].(float64) != 604800 || body["maxNumber"].(float64) != 49 || body["maxTicketsPerBuyer"].(float64) != 4 {
		t.Fatalf("unexpected init body %v", body)
	}
	if body["depositMint"] != deposit || body["mode"] != "local" {
		t.Fatalf("unexpected init body %v", body)
	}
}

func TestKeygenWritesSeed(t *testing.T) {
	out := filepath.Join(t.TempDir(), "key.hex")
	code, stdout, stderr := runCLI(t, "keygen", "-out", out)
	if code != 0 {
		t.Fatalf("keygen failed: %s", stderr)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read key: %v", err)
	}
	if len(strings.TrimSpace(string(data))) != 64 {
		t.Fatalf("unexpected seed length %d", len(strings.TrimSpace(string(data))))
	}
	if !strings.HasPrefix(stdout, "address: nll1") {
		t.Fatalf("unexpected keygen output %q", stdout)
	}

	code, addrOut, stderr := runCLI(t, "address", "-key", out)
	if code != 0 {
		t.Fatalf("address failed: %s", stderr)
	}
	want := strings.TrimPrefix(strings.SplitN(stdout, "\n", 2)[0], "address: ")
	if strings.TrimSpace(addrOut) != want {
		t.Fatalf("address %q does not match keygen %q", strings.TrimSpace(addrOut), want)
	}
}

func TestTokenSignsClaims(t *testing.T) {
	t.Setenv("LOTTERY_JWT_SECRET", "test-secret")
	originalSource, originalNow := secretSource, cliNow
	secretSource = secret.NewSource("LOTTERY_JWT_SECRET", "JWT signing secret")
	cliNow = func() time.Time { return time.Unix(1_700_000_000, 0) }
	defer func() { secretSource, cliNow = originalSource, originalNow }()

	sub := crypto.ProgramID("operator").String()
	code, stdout, stderr := runCLI(t, "token", "-sub", sub, "-scope", "lottery:operator", "-ttl", "2h")
	if code != 0 {
		t.Fatalf("token failed: %s", stderr)
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithTimeFunc(func() time.Time { return time.Unix(1_700_000_100, 0) }))
	_, err := parser.ParseWithClaims(strings.TrimSpace(stdout), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims["sub"] != sub || claims["scope"] != "lottery:operator" || claims["iss"] != "lotteryd" {
		t.Fatalf("unexpected claims %v", claims)
	}
	if claims["exp"].(float64) != float64(1_700_000_000+7200) {
		t.Fatalf("unexpected expiry %v", claims["exp"])
	}

	code, _, stderr = runCLI(t, "token", "-sub", "bogus")
	if code != 1 || !strings.Contains(stderr, "-sub") {
		t.Fatalf("expected -sub error, got %d %q", code, stderr)
	}
}
