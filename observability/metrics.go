// Package observability collects the daemon's structured logging, tracing
// bootstrap, and Prometheus metrics.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics tracks accrual, borrowing, and liquidation activity.
type MarketMetrics struct {
	accruals      *prometheus.CounterVec
	supplied      *prometheus.CounterVec
	borrowed      *prometheus.CounterVec
	repaid        *prometheus.CounterVec
	liquidations  *prometheus.CounterVec
	utilization   *prometheus.GaugeVec
	borrowIndex   *prometheus.GaugeVec
	opLatency     *prometheus.HistogramVec
	pausedMarkets *prometheus.GaugeVec
}

// RewardMetrics tracks the staking reward accumulator.
type RewardMetrics struct {
	staked      *prometheus.GaugeVec
	rewardRate  *prometheus.GaugeVec
	rewardsPaid *prometheus.CounterVec
	funded      *prometheus.CounterVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics

	rewardOnce     sync.Once
	rewardRegistry *RewardMetrics
)

// Market returns the lazily-initialised market metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			accruals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "accruals_total",
				Help:      "Count of interest accrual ticks per market.",
			}, []string{"market"}),
			supplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "supplied_total",
				Help:      "Total underlying supplied per market.",
			}, []string{"market"}),
			borrowed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "borrowed_total",
				Help:      "Total underlying borrowed per market.",
			}, []string{"market"}),
			repaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "repaid_total",
				Help:      "Total underlying repaid per market.",
			}, []string{"market"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "liquidations_total",
				Help:      "Count of liquidation calls segmented by debt market and outcome.",
			}, []string{"debt_market", "outcome"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "utilization_ratio",
				Help:      "Current borrow/cash utilization ratio, WAD-scaled, per market.",
			}, []string{"market"}),
			borrowIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "borrow_index",
				Help:      "Current borrow index, WAD-scaled, per market.",
			}, []string{"market"}),
			opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of market engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"market", "operation"}),
			pausedMarkets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "paused",
				Help:      "1 if the market is paused, 0 otherwise.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			marketRegistry.accruals,
			marketRegistry.supplied,
			marketRegistry.borrowed,
			marketRegistry.repaid,
			marketRegistry.liquidations,
			marketRegistry.utilization,
			marketRegistry.borrowIndex,
			marketRegistry.opLatency,
			marketRegistry.pausedMarkets,
		)
	})
	return marketRegistry
}

// Accrue records a completed accrual tick.
func (m *MarketMetrics) Accrue(market string, utilizationWad, borrowIndexWad float64) {
	if m == nil {
		return
	}
	m.accruals.WithLabelValues(market).Inc()
	m.utilization.WithLabelValues(market).Set(utilizationWad)
	m.borrowIndex.WithLabelValues(market).Set(borrowIndexWad)
}

// ObserveOp records the latency of a named market operation.
func (m *MarketMetrics) ObserveOp(market, operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.opLatency.WithLabelValues(market, operation).Observe(d.Seconds())
}

// Supply records underlying added to a market.
func (m *MarketMetrics) Supply(market string, amount float64) {
	if m == nil {
		return
	}
	m.supplied.WithLabelValues(market).Add(amount)
}

// Borrow records underlying borrowed from a market.
func (m *MarketMetrics) Borrow(market string, amount float64) {
	if m == nil {
		return
	}
	m.borrowed.WithLabelValues(market).Add(amount)
}

// Repay records underlying repaid to a market.
func (m *MarketMetrics) Repay(market string, amount float64) {
	if m == nil {
		return
	}
	m.repaid.WithLabelValues(market).Add(amount)
}

// Liquidate records the outcome of a liquidation attempt.
func (m *MarketMetrics) Liquidate(debtMarket, outcome string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(debtMarket, outcome).Inc()
}

// SetPaused records a market's pause state.
func (m *MarketMetrics) SetPaused(market string, paused bool) {
	if m == nil {
		return
	}
	v := 0.0
	if paused {
		v = 1.0
	}
	m.pausedMarkets.WithLabelValues(market).Set(v)
}

// Rewards returns the lazily-initialised reward metrics registry.
func Rewards() *RewardMetrics {
	rewardOnce.Do(func() {
		rewardRegistry = &RewardMetrics{
			staked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketcore",
				Subsystem: "rewards",
				Name:      "total_staked",
				Help:      "Total staked supply tracked by a reward pool.",
			}, []string{"pool"}),
			rewardRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketcore",
				Subsystem: "rewards",
				Name:      "reward_rate",
				Help:      "Current per-second reward rate, WAD-scaled, per pool.",
			}, []string{"pool"}),
			rewardsPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketcore",
				Subsystem: "rewards",
				Name:      "paid_total",
				Help:      "Total rewards paid out per pool.",
			}, []string{"pool"}),
			funded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketcore",
				Subsystem: "rewards",
				Name:      "funded_total",
				Help:      "Total rewards notified into a pool's period.",
			}, []string{"pool"}),
		}
		prometheus.MustRegister(
			rewardRegistry.staked,
			rewardRegistry.rewardRate,
			rewardRegistry.rewardsPaid,
			rewardRegistry.funded,
		)
	})
	return rewardRegistry
}

// SetStaked records a pool's current total staked balance.
func (r *RewardMetrics) SetStaked(pool string, total float64) {
	if r == nil {
		return
	}
	r.staked.WithLabelValues(pool).Set(total)
}

// SetRewardRate records a pool's current reward rate.
func (r *RewardMetrics) SetRewardRate(pool string, rate float64) {
	if r == nil {
		return
	}
	r.rewardRate.WithLabelValues(pool).Set(rate)
}

// RecordPayout records a reward claim.
func (r *RewardMetrics) RecordPayout(pool string, amount float64) {
	if r == nil {
		return
	}
	r.rewardsPaid.WithLabelValues(pool).Add(amount)
}

// RecordFunding records a notify_reward top-up.
func (r *RewardMetrics) RecordFunding(pool string, amount float64) {
	if r == nil {
		return
	}
	r.funded.WithLabelValues(pool).Add(amount)
}
