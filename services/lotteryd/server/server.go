// Package server exposes the lottery engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lotterychain/crypto"
	"lotterychain/native/lottery"
	"lotterychain/observability"
	"lotterychain/services/lotteryd/archive"
)

// Engine is the lottery surface served over HTTP.
type Engine interface {
	Initialize(params lottery.InitParams) (*lottery.VaultManager, error)
	Buy(manager, buyer crypto.Address, numbers lottery.Numbers) (*lottery.Ticket, error)
	Draw(ctx context.Context, manager crypto.Address) (*lottery.DrawResult, error)
	FulfillRandomness(handle string, randomness []byte) (*lottery.DrawResult, error)
	FallbackDraw(manager crypto.Address) (*lottery.DrawResult, error)
	Dispense(manager crypto.Address, candidate lottery.Numbers) (*lottery.DispenseResult, error)
	Stake(manager crypto.Address) (*lottery.StakeResult, error)
	Unstake(manager, caller crypto.Address, amount *big.Int) (*lottery.StakeResult, error)
	Redeem(manager, caller crypto.Address, numbers lottery.Numbers) (*lottery.RedeemResult, error)
	Lottery(addr crypto.Address) (*lottery.VaultManager, error)
	Lotteries() ([]*lottery.VaultManager, error)
	Tickets(manager crypto.Address) ([]*lottery.Ticket, error)
	TicketByNumbers(manager crypto.Address, numbers lottery.Numbers) (*lottery.Ticket, error)
	VaultBalances(manager crypto.Address) (*lottery.VaultBalances, error)
	Holder(ticket crypto.Address) (crypto.Address, error)
}

// EventStore serves archived events.
type EventStore interface {
	Query(ctx context.Context, filter archive.Filter) ([]archive.Record, error)
}

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	Auth          AuthConfig
	RateLimit     RateLimit
}

// Server hosts the lotteryd API.
type Server struct {
	cfg     Config
	engine  Engine
	archive EventStore
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	metrics *observability.LotteryMetrics
}

// New constructs a server. archive may be nil, in which case /v1/events
// answers 503.
func New(cfg Config, engine Engine, store EventStore, hub *Hub, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Server{
		cfg:     cfg,
		engine:  engine,
		archive: store,
		hub:     hub,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
		metrics: observability.Lottery(),
	}, nil
}

// Hub returns the live event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Get("/lotteries", s.handleListLotteries)
		r.Get("/lotteries/{addr}", s.handleGetLottery)
		r.Get("/lotteries/{addr}/tickets", s.handleListTickets)
		r.Get("/lotteries/{addr}/tickets/{numbers}", s.handleGetTicket)
		r.Get("/events", s.handleEvents)
		r.Get("/events/ws", s.hub.handleWS)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware())
			r.Post("/lotteries/{addr}/buy", s.handleBuy)
			r.Post("/lotteries/{addr}/redeem", s.handleRedeem)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware(s.auth.OperatorScope()))
			r.Post("/lotteries", s.handleInitialize)
			r.Post("/lotteries/{addr}/draw", s.handleDraw)
			r.Post("/lotteries/{addr}/dispense", s.handleDispense)
			r.Post("/lotteries/{addr}/stake", s.handleStake)
			r.Post("/lotteries/{addr}/unstake", s.handleUnstake)
			r.Post("/lotteries/{addr}/fallback", s.handleFallback)
			r.Post("/oracle/fulfil", s.handleFulfil)
		})
	})
	return otelhttp.NewHandler(r, "lotteryd")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("http server listening", "address", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.ModuleMetrics().Observe("lotteryd", r.Method+" "+route, status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "subscribers": s.hub.Subscribers()})
}

type errorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

// statusFor maps an engine failure onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, lottery.ErrBuyerQuotaExceeded) {
		return http.StatusTooManyRequests
	}
	switch lottery.KindOf(err) {
	case lottery.KindValidation:
		return http.StatusBadRequest
	case lottery.KindLifecycle, lottery.KindDuplicateTicket:
		return http.StatusConflict
	case lottery.KindSoftMiss, lottery.KindNotFound:
		return http.StatusNotFound
	case lottery.KindLiquidityShortfall:
		return http.StatusUnprocessableEntity
	case lottery.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case lottery.KindExternalDependency:
		return http.StatusBadGateway
	case lottery.KindUnauthorized:
		return http.StatusForbidden
	case lottery.KindPaused:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := lottery.KindOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("engine failure", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Code: lottery.CodeOf(err), Kind: kind.String(), Message: msg})
}

// observe records an engine call and returns err unchanged.
func (s *Server) observe(op string, start time.Time, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = lottery.KindOf(err).String()
	}
	s.metrics.ObserveOperation(op, outcome, time.Since(start))
	return err
}
