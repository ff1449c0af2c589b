package observability

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	poolMetricsOnce sync.Once
	poolRegistry    *PoolMetrics

	upkeepMetricsOnce sync.Once
	upkeepRegistry    *UpkeepMetrics
)

// RPCMetrics returns the lazily-initialised registry used to record JSON-RPC
// activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendpool",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of an RPC request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *rpcMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(method, strconv.Itoa(status)).Inc()
	}
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied reason.
// Reasons should be stable strings such as "rate_limit" so dashboards and
// alerts remain consistent.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// PoolMetrics wraps collectors tracking pool health.
type PoolMetrics struct {
	balance      prometheus.Gauge
	totalDebt    prometheus.Gauge
	utilization  prometheus.Gauge
	borrowRate   prometheus.Gauge
	supplyRate   prometheus.Gauge
	pauseEngaged prometheus.Gauge
	operations   *prometheus.CounterVec
}

// Pool exposes the metrics registry for the lending pool.
func Pool() *PoolMetrics {
	poolMetricsOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			balance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "pool",
				Name:      "balance_wei",
				Help:      "Liquid base-asset balance of the pool in wei.",
			}),
			totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "pool",
				Name:      "total_debt_wei",
				Help:      "Outstanding borrowed principal plus accrued interest in wei.",
			}),
			utilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "pool",
				Name:      "utilization_bps",
				Help:      "Pool utilization in basis points.",
			}),
			borrowRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "pool",
				Name:      "borrow_rate_bps",
				Help:      "Current annual borrow rate in basis points.",
			}),
			supplyRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "pool",
				Name:      "supply_rate_bps",
				Help:      "Current annual supply rate in basis points.",
			}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "pool",
				Name:      "pause_engaged",
				Help:      "Indicates whether the pool pause guard is active (1) or not (0).",
			}),
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "pool",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
		}
		prometheus.MustRegister(
			poolRegistry.balance,
			poolRegistry.totalDebt,
			poolRegistry.utilization,
			poolRegistry.borrowRate,
			poolRegistry.supplyRate,
			poolRegistry.pauseEngaged,
			poolRegistry.operations,
		)
	})
	return poolRegistry
}

// RecordSnapshot updates the pool gauges from the latest state.
func (m *PoolMetrics) RecordSnapshot(balance, totalDebt *big.Int, utilizationBps, borrowBps, supplyBps uint64, paused bool) {
	if m == nil {
		return
	}
	m.balance.Set(bigToFloat(balance))
	m.totalDebt.Set(bigToFloat(totalDebt))
	m.utilization.Set(float64(utilizationBps))
	m.borrowRate.Set(float64(borrowBps))
	m.supplyRate.Set(float64(supplyBps))
	if paused {
		m.pauseEngaged.Set(1)
	} else {
		m.pauseEngaged.Set(0)
	}
}

// RecordOperation counts a ledger operation and its outcome.
func (m *PoolMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

// UpkeepMetrics bundles collectors for the liquidation upkeep loop.
type UpkeepMetrics struct {
	checks       *prometheus.CounterVec
	liquidations prometheus.Counter
	lastRun      prometheus.Gauge
}

// Upkeep exposes the metrics registry for the upkeep poller.
func Upkeep() *UpkeepMetrics {
	upkeepMetricsOnce.Do(func() {
		upkeepRegistry = &UpkeepMetrics{
			checks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "upkeep",
				Name:      "checks_total",
				Help:      "Count of upkeep checks segmented by result.",
			}, []string{"result"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "upkeep",
				Name:      "liquidations_total",
				Help:      "Count of liquidations executed through performUpkeep.",
			}),
			lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "upkeep",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix timestamp of the most recent upkeep check.",
			}),
		}
		prometheus.MustRegister(
			upkeepRegistry.checks,
			upkeepRegistry.liquidations,
			upkeepRegistry.lastRun,
		)
	})
	return upkeepRegistry
}

// RecordCheck counts an upkeep poll and stamps the run time.
func (m *UpkeepMetrics) RecordCheck(needed bool, at time.Time) {
	if m == nil {
		return
	}
	result := "idle"
	if needed {
		result = "needed"
	}
	m.checks.WithLabelValues(result).Inc()
	m.lastRun.Set(float64(at.Unix()))
}

// RecordLiquidation counts an executed liquidation.
func (m *UpkeepMetrics) RecordLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
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
