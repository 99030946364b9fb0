package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lotterychain/crypto"
	"lotterychain/native/lottery"
	"lotterychain/services/lotteryd/archive"
)

const maxBodyBytes = 1 << 16

type lotteryView struct {
	Address            string        `json:"address"`
	Name               string        `json:"name"`
	Authority          string        `json:"authority,omitempty"`
	DepositMint        string        `json:"depositMint"`
	YieldMint          string        `json:"yieldMint"`
	DepositVault       string        `json:"depositVault"`
	YieldVault         string        `json:"yieldVault"`
	Collection         string        `json:"collection"`
	Pool               string        `json:"pool,omitempty"`
	TicketPrice        string        `json:"ticketPrice"`
	DrawDuration       uint64        `json:"drawDuration"`
	CutoffTime         uint64        `json:"cutoffTime"`
	State              string        `json:"state"`
	WinningNumbers     []int         `json:"winningNumbers,omitempty"`
	PrizeConsumed      bool          `json:"prizeConsumed"`
	Epoch              uint64        `json:"epoch"`
	Mode               string        `json:"mode"`
	MaxNumber          uint8         `json:"maxNumber"`
	PendingRequest     string        `json:"pendingRequest,omitempty"`
	RequestedAt        uint64        `json:"requestedAt,omitempty"`
	ReserveFloor       string        `json:"reserveFloor"`
	StakedPrincipal    string        `json:"stakedPrincipal"`
	LiveTickets        uint64        `json:"liveTickets"`
	TicketsSold        uint64        `json:"ticketsSold"`
	MaxTicketsPerBuyer uint32        `json:"maxTicketsPerBuyer,omitempty"`
	LastWinner         string        `json:"lastWinner,omitempty"`
	LastPrize          string        `json:"lastPrize"`
	CreatedAt          uint64        `json:"createdAt"`
	Balances           *balancesView `json:"balances,omitempty"`
}

type balancesView struct {
	Deposit         string `json:"deposit"`
	Yield           string `json:"yield"`
	YieldValue      string `json:"yieldValue"`
	StakedPrincipal string `json:"stakedPrincipal"`
}

type ticketView struct {
	Address       string `json:"address"`
	Lottery       string `json:"lottery"`
	Numbers       []int  `json:"numbers"`
	Owner         string `json:"owner"`
	Holder        string `json:"holder,omitempty"`
	OwnershipMint string `json:"ownershipMint"`
	Price         string `json:"price"`
	Epoch         uint64 `json:"epoch"`
	PurchasedAt   uint64 `json:"purchasedAt"`
	Won           bool   `json:"won"`
	WonEpoch      uint64 `json:"wonEpoch,omitempty"`
	Prize         string `json:"prize,omitempty"`
	Redeemed      bool   `json:"redeemed"`
	RedeemedBy    string `json:"redeemedBy,omitempty"`
	RedeemedAt    uint64 `json:"redeemedAt,omitempty"`
	Owed          string `json:"owed,omitempty"`
}

func addressString(a crypto.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func optionalAmountString(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return ""
	}
	return v.String()
}

func newLotteryView(m *lottery.VaultManager) *lotteryView {
	view := &lotteryView{
		Address:            m.Address.String(),
		Name:               m.Name,
		Authority:          addressString(m.Authority),
		DepositMint:        m.DepositMint.String(),
		YieldMint:          m.YieldMint.String(),
		DepositVault:       m.DepositVault.String(),
		YieldVault:         m.YieldVault.String(),
		Collection:         m.Collection.String(),
		Pool:               addressString(m.Pool),
		TicketPrice:        amountString(m.TicketPrice),
		DrawDuration:       m.DrawDuration,
		CutoffTime:         m.CutoffTime,
		State:              m.State.String(),
		PrizeConsumed:      m.PrizeConsumed,
		Epoch:              m.Epoch,
		Mode:               m.Mode.String(),
		MaxNumber:          m.MaxNumber,
		PendingRequest:     m.PendingRequest,
		RequestedAt:        m.RequestedAt,
		ReserveFloor:       amountString(m.ReserveFloor),
		StakedPrincipal:    amountString(m.StakedPrincipal),
		LiveTickets:        m.LiveTickets,
		TicketsSold:        m.TicketsSold,
		MaxTicketsPerBuyer: m.MaxTicketsPerBuyer,
		LastWinner:         addressString(m.LastWinner),
		LastPrize:          amountString(m.LastPrize),
		CreatedAt:          m.CreatedAt,
	}
	if m.HasWinningNumbers() {
		view.WinningNumbers = m.WinningNumbers.Ints()
	}
	return view
}

func newTicketView(t *lottery.Ticket, holder crypto.Address) *ticketView {
	return &ticketView{
		Address:       t.Address.String(),
		Lottery:       t.Manager.String(),
		Numbers:       t.Numbers.Ints(),
		Owner:         t.Owner.String(),
		Holder:        addressString(holder),
		OwnershipMint: t.OwnershipMint.String(),
		Price:         amountString(t.Price),
		Epoch:         t.Epoch,
		PurchasedAt:   t.PurchasedAt,
		Won:           t.Won,
		WonEpoch:      t.WonEpoch,
		Prize:         optionalAmountString(t.Prize),
		Redeemed:      t.Redeemed,
		RedeemedBy:    addressString(t.RedeemedBy),
		RedeemedAt:    t.RedeemedAt,
		Owed:          optionalAmountString(t.Owed),
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, errors.New("invalid amount " + strconv.Quote(raw))
	}
	return v, nil
}

func parseOptionalAddress(raw string) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return crypto.Address{}, nil
	}
	return crypto.ParseAddress(raw)
}

func (s *Server) managerParam(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func (s *Server) callerFrom(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing principal")
		return crypto.Address{}, false
	}
	return principal.Address, true
}

type numbersRequest struct {
	Numbers []int `json:"numbers"`
}

func (s *Server) numbersBody(w http.ResponseWriter, r *http.Request) (lottery.Numbers, bool) {
	var req numbersRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return lottery.Numbers{}, false
	}
	numbers, err := lottery.NumbersFromInts(req.Numbers)
	if err != nil {
		s.writeEngineError(w, r, err)
		return lottery.Numbers{}, false
	}
	return numbers, true
}

func (s *Server) handleListLotteries(w http.ResponseWriter, r *http.Request) {
	managers, err := s.engine.Lotteries()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]*lotteryView, 0, len(managers))
	for _, m := range managers {
		out = append(out, newLotteryView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"lotteries": out})
}

func (s *Server) handleGetLottery(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.managerParam(w, r)
	if !ok {
		return
	}
	m, err := s.engine.Lottery(addr)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	view := newLotteryView(m)
	if balances, err := s.engine.VaultBalances(addr); err == nil {
		view.Balances = &balancesView{
			Deposit:         amountString(balances.Deposit),
			Yield:           amountString(balances.Yield),
			YieldValue:      amountString(balances.YieldValue),
			StakedPrincipal: amountString(balances.StakedPrincipal),
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.managerParam(w, r)
	if !ok {
		return
	}
	tickets, err := s.engine.Tickets(addr)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]*ticketView, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, newTicketView(t, crypto.Address{}))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": out})
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.managerParam(w, r)
	if !ok {
		return
	}
	numbers, err := lottery.ParseNumbers(chi.URLParam(r, "numbers"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	t, err := s.engine.TicketByNumbers(addr, numbers)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	holder, _ := s.engine.Holder(t.Address)
	writeJSON(w, http.StatusOK, newTicketView(t, holder))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "event archive not configured")
		return
	}
	q := r.URL.Query()
	filter := archive.Filter{Lottery: strings.TrimSpace(q.Get("lottery")), Type: strings.TrimSpace(q.Get("type"))}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_CURSOR", "after must be a sequence number")
			return
		}
		filter.AfterSeq = after
	}
	records, err := s.archive.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("query archive", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "archive query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.managerParam(w, r)
	if !ok {
		return
	}
	caller, ok := s.callerFrom(w, r)
	if !ok {
		return
	}
	numbers, ok := s.numbersBody(w, r)
	if !ok {
		return
	}
	start := time.Now()
	t, err := s.engine.Buy(addr, caller, numbers)
	if s.observe("buy", start, err) != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTicketView(t, caller))
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.managerParam(w, r)
	if !ok {
		return
	}
	caller, ok := s.callerFrom(w, r)
	if !ok {
		return
	}
	numbers, ok := s.numbersBody(w, r)
	if !ok {
		return
	}
	start := time.Now()
	res, err := s.engine.Redeem(addr, caller, numbers)
	if s.observe("redeem", start, err) != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"lottery": res.Manager.String(),
		"ticket":  res.Ticket.String(),
		"paid":    amountString(res.Paid),
		"owed":    amountString(res.Owed),
	})
}

type initializeRequest struct {
	Name               string `json:"name"`
	Authority          string `json:"authority"`
	DepositMint        string `json:"depositMint"`
	YieldMint          string `json:"yieldMint"`
	Pool               string `json:"pool"`
	TicketPrice        string `json:"ticketPrice"`
	DrawDuration       int64  `json:"drawDuration"`
	ReserveFloor       string `json:"reserveFloor"`
	MaxNumber          uint16 `json:"maxNumber"`
	Mode               string `json:"mode"`
	MaxTicketsPerBuyer uint32 `json:"maxTicketsPerBuyer"`
}

func (req initializeRequest) params() (lottery.InitParams, error) {
	var params lottery.InitParams
	var err error
	if params.Authority, err = parseOptionalAddress(req.Authority); err != nil {
		return params, err
	}
	if params.DepositMint, err = crypto.ParseAddress(req.DepositMint); err != nil {
		return params, err
	}
	if params.YieldMint, err = crypto.ParseAddress(req.YieldMint); err != nil {
		return params, err
	}
	if params.Pool, err = parseOptionalAddress(req.Pool); err != nil {
		return params, err
	}
	if params.TicketPrice, err = parseAmount(req.TicketPrice); err != nil {
		return params, err
	}
	if params.ReserveFloor, err = parseAmount(req.ReserveFloor); err != nil {
		return params, err
	}
	if params.Mode, err = lottery.ParseRandomnessMode(req.Mode); err != nil {
		return params, err
	}
	params.Name = req.Name
	params.DrawDuration = req.DrawDuration
	params.MaxNumber = req.MaxNumber
	params.MaxTicketsPerBuyer = req.MaxTicketsPerBuyer
	return params, nil
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	params, err := req.params()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMS", err.Error())
		return
	}
	if params.Authority.IsZero() {
		if caller, ok := PrincipalFrom(r.Context()); ok {
			params.Authority = caller.Address
		}
	}
	start := time.Now()
	m, err := s.engine.Initialize(params)
	if s.observe("initialize", start, err) != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLotteryView(m))
}

type drawView struct {
	Lottery        string `json:"lottery"`
	State          string `json:"state"`
	Epoch          uint64 `json:"epoch"`
	WinningNumbers []int  `json:"winningNumbers,omitempty"`
	RequestHandle  string `json:"requestHandle,omitempty"`
	CutoffTime     uint64 `json:"cutoffTime"`
}

func newDrawView(res *lottery.DrawResult) drawView {
	view := drawView{
		Lottery:       res.Manager.String(),
		State:         res.State.String(),
		Epoch:         res.Epoch,
		RequestHandle: res.RequestHandle,
		CutoffTime:    res.CutoffTime,
	}
	if !res.WinningNumbers.IsZero() {
		view.WinningNumbers = res.WinningNumbers.Ints()
	}
	return view
}

func (s *Server) handleDraw(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.managerParam(w, r)
	if !ok {
		return
	}
	start := time.Now()
	res, err := s.engine.Draw(r.Context(), addr)
	if s.observe("draw", start, err) != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDrawView(res))
}

func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.managerParam(w, r)
	if !ok {
		return
	}
	start := time.Now()
	res, err := s.engine.FallbackDraw(addr)
	if s.observe("fallback", start, err) != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDrawView(res))
}

type fulfilRequest struct {
	Handle     string `json:"handle"`
	Randomness string `json:"randomness"`
}

func (s *Server) handleFulfil(w http.ResponseWriter, r *http.Request) {
	var req fulfilRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	randomness, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Randomness), "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_RANDOMNESS", "randomness must be hex")
		return
	}
	start := time.Now()
	res, err := s.engine.FulfillRandomness(strings.TrimSpace(req.Handle), randomness)
	if s.observe("fulfil", start, err) != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDrawView(res))
}

func (s *Server) handleDispense(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.managerParam(w, r)
	if !ok {
		return
	}
	numbers, ok := s.numbersBody(w, r)
	if !ok {
		return
	}
	start := time.Now()
	res, err := s.engine.Dispense(addr, numbers)
	if s.observe("dispense", start, err) != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if !res.Rollover && !res.AlreadyConsumed {
		s.metrics.RecordPrize(addr.String(), res.Prize)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lottery":         res.Manager.String(),
		"ticket":          addressString(res.Ticket),
		"holder":          addressString(res.Holder),
		"prize":           amountString(res.Prize),
		"rollover":        res.Rollover,
		"alreadyConsumed": res.AlreadyConsumed,
	})
}

func stakeBody(res *lottery.StakeResult) map[string]string {
	return map[string]string{
		"lottery":         res.Manager.String(),
		"amountIn":        amountString(res.AmountIn),
		"amountOut":       amountString(res.AmountOut),
		"stakedPrincipal": amountString(res.StakedPrincipal),
	}
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.managerParam(w, r)
	if !ok {
		return
	}
	start := time.Now()
	res, err := s.engine.Stake(addr)
	if s.observe("stake", start, err) != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stakeBody(res))
}

type unstakeRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.managerParam(w, r)
	if !ok {
		return
	}
	caller, ok := s.callerFrom(w, r)
	if !ok {
		return
	}
	var req unstakeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
		return
	}
	start := time.Now()
	res, err := s.engine.Unstake(addr, caller, amount)
	if s.observe("unstake", start, err) != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stakeBody(res))
}
