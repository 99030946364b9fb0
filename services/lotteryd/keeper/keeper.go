// Package keeper drives lottery instances through their draw cycle: it draws
// once the cutoff passes, dispenses the winning numbers and falls back to a
// local draw when the oracle stays silent.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lotterychain/crypto"
	"lotterychain/native/lottery"
	"lotterychain/observability"
	telemetry "lotterychain/observability/otel"
)

// Engine is the lottery surface the keeper drives.
type Engine interface {
	Lotteries() ([]*lottery.VaultManager, error)
	Lottery(addr crypto.Address) (*lottery.VaultManager, error)
	VaultBalances(manager crypto.Address) (*lottery.VaultBalances, error)
	Draw(ctx context.Context, manager crypto.Address) (*lottery.DrawResult, error)
	Dispense(manager crypto.Address, candidate lottery.Numbers) (*lottery.DispenseResult, error)
	FallbackDraw(manager crypto.Address) (*lottery.DrawResult, error)
	OracleTimeout() time.Duration
}

// Action names what a tick did to one instance.
type Action string

const (
	ActionDraw     Action = "draw"
	ActionDispense Action = "dispense"
	ActionFallback Action = "fallback"
)

// Outcome records one keeper action.
type Outcome struct {
	Lottery crypto.Address
	Action  Action
	Err     error
}

// Keeper periodically advances every lottery instance.
type Keeper struct {
	engine   Engine
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.LotteryMetrics
	nowFn    func() time.Time
	once     sync.Once
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(k *Keeper) {
		if now != nil {
			k.nowFn = now
		}
	}
}

// New constructs a keeper.
func New(engine Engine, interval time.Duration, opts ...Option) (*Keeper, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	k := &Keeper{
		engine:   engine,
		interval: interval,
		logger:   slog.Default(),
		metrics:  observability.Lottery(),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k, nil
}

// Run blocks, ticking until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.once.Do(func() {
		k.logger.Info("keeper started", "interval", k.interval.String())
	})
	for {
		if _, err := k.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Error("keeper tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one pass over every instance and reports what it attempted.
// Per-instance failures are returned in the outcomes, not as the error.
func (k *Keeper) Tick(ctx context.Context) ([]Outcome, error) {
	managers, err := k.engine.Lotteries()
	if err != nil {
		return nil, fmt.Errorf("list lotteries: %w", err)
	}
	now := k.nowFn()
	var outcomes []Outcome
	for _, m := range managers {
		if ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
		if action, ok := k.due(m, now); ok {
			outcomes = append(outcomes, k.act(ctx, m, action))
		}
		k.observe(m.Address)
	}
	return outcomes, nil
}

func (k *Keeper) act(ctx context.Context, m *lottery.VaultManager, action Action) Outcome {
	ctx, span := telemetry.Tracer().Start(ctx, "keeper."+string(action), trace.WithAttributes(
		attribute.String("lottery", m.Address.String()),
		attribute.Int64("epoch", int64(m.Epoch)),
	))
	defer span.End()
	outcome := Outcome{Lottery: m.Address, Action: action, Err: k.apply(ctx, m, action)}
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}
	k.record(outcome)
	return outcome
}

func (k *Keeper) due(m *lottery.VaultManager, now time.Time) (Action, bool) {
	unix := now.Unix()
	switch m.State {
	case lottery.StateOpen:
		if m.LiveTickets > 0 && unix >= int64(m.CutoffTime) {
			return ActionDraw, true
		}
	case lottery.StateLocked:
		if m.HasWinningNumbers() {
			return ActionDispense, true
		}
	case lottery.StateAwaitingRandomness:
		deadline := time.Unix(int64(m.RequestedAt), 0).Add(k.engine.OracleTimeout())
		if !now.Before(deadline) {
			return ActionFallback, true
		}
	}
	return "", false
}

func (k *Keeper) apply(ctx context.Context, m *lottery.VaultManager, action Action) error {
	switch action {
	case ActionDraw:
		res, err := k.engine.Draw(ctx, m.Address)
		if err != nil {
			return err
		}
		k.logger.Info("lottery drawn", "lottery", m.Address.String(), "epoch", res.Epoch, "state", res.State.String())
	case ActionDispense:
		res, err := k.engine.Dispense(m.Address, m.WinningNumbers)
		if err != nil {
			return err
		}
		if res.Rollover {
			k.logger.Info("lottery rolled over", "lottery", m.Address.String(), "numbers", m.WinningNumbers.String())
			return nil
		}
		k.metrics.RecordPrize(m.Address.String(), res.Prize)
		k.logger.Info("prize dispensed", "lottery", m.Address.String(), "holder", res.Holder.String(), "prize", res.Prize.String())
	case ActionFallback:
		res, err := k.engine.FallbackDraw(m.Address)
		if err != nil {
			return err
		}
		k.logger.Warn("oracle timed out, drew locally", "lottery", m.Address.String(), "epoch", res.Epoch)
	}
	return nil
}

func (k *Keeper) record(o Outcome) {
	outcome := "ok"
	if o.Err != nil {
		outcome = lottery.KindOf(o.Err).String()
		// Another keeper may have advanced the instance first.
		if errors.Is(o.Err, lottery.ErrAlreadyDrawn) || errors.Is(o.Err, lottery.ErrNotAwaiting) {
			k.logger.Debug("keeper raced", "lottery", o.Lottery.String(), "action", string(o.Action), "error", o.Err)
		} else {
			k.logger.Warn("keeper action failed", "lottery", o.Lottery.String(), "action", string(o.Action), "error", o.Err)
		}
	}
	k.metrics.RecordKeeper(string(o.Action), outcome)
}

func (k *Keeper) observe(addr crypto.Address) {
	balances, err := k.engine.VaultBalances(addr)
	if err != nil {
		return
	}
	label := addr.String()
	k.metrics.RecordVaults(label, balances.Deposit, balances.Yield, balances.StakedPrincipal)
	if m, err := k.engine.Lottery(addr); err == nil {
		k.metrics.RecordState(label, uint8(m.State))
	}
}
