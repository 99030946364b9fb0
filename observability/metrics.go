package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	lotteryMetricsOnce sync.Once
	lotteryRegistry    *LotteryMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lottery",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lottery",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lottery",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lottery",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LotteryMetrics bundles collectors for engine operations, vault balances and
// the keeper loop.
type LotteryMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	prizes     *prometheus.CounterVec
	vaults     *prometheus.GaugeVec
	states     *prometheus.GaugeVec
	keeper     *prometheus.CounterVec
	oracle     *prometheus.CounterVec
}

// Lottery returns the singleton lottery metrics registry.
func Lottery() *LotteryMetrics {
	lotteryMetricsOnce.Do(func() {
		lotteryRegistry = &LotteryMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lottery",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations segmented by operation and outcome kind.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lottery",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			prizes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lottery",
				Subsystem: "engine",
				Name:      "prizes_paid_total",
				Help:      "Deposit tokens paid out as prizes.",
			}, []string{"lottery"}),
			vaults: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lottery",
				Subsystem: "vault",
				Name:      "balance",
				Help:      "Vault balances in base units.",
			}, []string{"lottery", "vault"}),
			states: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lottery",
				Subsystem: "engine",
				Name:      "state",
				Help:      "Lifecycle state per lottery (1 open, 2 awaiting randomness, 3 locked).",
			}, []string{"lottery"}),
			keeper: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lottery",
				Subsystem: "keeper",
				Name:      "actions_total",
				Help:      "Keeper actions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			oracle: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lottery",
				Subsystem: "oracle",
				Name:      "messages_total",
				Help:      "Randomness oracle traffic segmented by direction and outcome.",
			}, []string{"direction", "outcome"}),
		}
		prometheus.MustRegister(
			lotteryRegistry.operations,
			lotteryRegistry.latency,
			lotteryRegistry.prizes,
			lotteryRegistry.vaults,
			lotteryRegistry.states,
			lotteryRegistry.keeper,
			lotteryRegistry.oracle,
		)
	})
	return lotteryRegistry
}

// ObserveOperation records one engine call. Outcome is "ok" or an error kind.
func (m *LotteryMetrics) ObserveOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(label(operation), label(outcome)).Inc()
	m.latency.WithLabelValues(label(operation)).Observe(duration.Seconds())
}

// RecordPrize adds a paid prize to the lottery's running total.
func (m *LotteryMetrics) RecordPrize(lottery string, prize *big.Int) {
	if m == nil || prize == nil || prize.Sign() <= 0 {
		return
	}
	m.prizes.WithLabelValues(label(lottery)).Add(bigToFloat(prize))
}

// RecordVaults updates the vault balance gauges for a lottery.
func (m *LotteryMetrics) RecordVaults(lottery string, deposit, yield, staked *big.Int) {
	if m == nil {
		return
	}
	m.vaults.WithLabelValues(label(lottery), "deposit").Set(bigToFloat(deposit))
	m.vaults.WithLabelValues(label(lottery), "yield").Set(bigToFloat(yield))
	m.vaults.WithLabelValues(label(lottery), "staked_principal").Set(bigToFloat(staked))
}

// RecordState sets the lifecycle gauge for a lottery.
func (m *LotteryMetrics) RecordState(lottery string, state uint8) {
	if m == nil {
		return
	}
	m.states.WithLabelValues(label(lottery)).Set(float64(state))
}

// RecordKeeper counts one keeper action.
func (m *LotteryMetrics) RecordKeeper(action, outcome string) {
	if m == nil {
		return
	}
	m.keeper.WithLabelValues(label(action), label(outcome)).Inc()
}

// RecordOracle counts one oracle request or fulfilment.
func (m *LotteryMetrics) RecordOracle(direction, outcome string) {
	if m == nil {
		return
	}
	m.oracle.WithLabelValues(label(direction), label(outcome)).Inc()
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
