package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLotteryMetricsRecord(t *testing.T) {
	m := Lottery()
	m.ObserveOperation("buy", "ok", 5*time.Millisecond)
	m.ObserveOperation("buy", "ok", 5*time.Millisecond)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("buy", "ok")); got != 2 {
		t.Fatalf("operations counter = %v, want 2", got)
	}

	m.RecordPrize("L1", big.NewInt(250))
	m.RecordPrize("L1", big.NewInt(0))
	if got := testutil.ToFloat64(m.prizes.WithLabelValues("l1")); got != 250 {
		t.Fatalf("prize counter = %v, want 250", got)
	}

	m.RecordVaults("l1", big.NewInt(10), big.NewInt(20), nil)
	if got := testutil.ToFloat64(m.vaults.WithLabelValues("l1", "yield")); got != 20 {
		t.Fatalf("yield gauge = %v, want 20", got)
	}
	m.RecordState("l1", 3)
	if got := testutil.ToFloat64(m.states.WithLabelValues("l1")); got != 3 {
		t.Fatalf("state gauge = %v, want 3", got)
	}
}

func TestModuleMetricsCountErrors(t *testing.T) {
	m := ModuleMetrics()
	m.Observe("lottery", "buy", 409, time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("lottery", "buy", "409")); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
	var nilMetrics *LotteryMetrics
	nilMetrics.ObserveOperation("buy", "ok", 0)
}

func TestEventsCounter(t *testing.T) {
	Events().RecordEvent("lottery.drawn")
	if got := testutil.ToFloat64(Events().published.WithLabelValues("lottery.drawn")); got < 1 {
		t.Fatalf("event counter = %v", got)
	}
}

type namedEvent string

func (e namedEvent) EventType() string { return string(e) }

func TestEventsEmitter(t *testing.T) {
	before := testutil.ToFloat64(Events().published.WithLabelValues("lottery.rollover"))
	Events().Emit(namedEvent("lottery.rollover"))
	Events().Emit(nil)
	after := testutil.ToFloat64(Events().published.WithLabelValues("lottery.rollover"))
	if after != before+1 {
		t.Fatalf("rollover counter moved from %v to %v", before, after)
	}
}
