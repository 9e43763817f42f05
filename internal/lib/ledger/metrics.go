package ledger

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promNumPools = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "ledger",
		Name:      "pool_count",
	})
	promNumStakers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "ledger",
		Name:      "staker_count",
	}, []string{"pool"})
	promTotalStaked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "ledger",
		Name:      "staked_total",
	}, []string{"pool"})
	promRewardAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "ledger",
		Name:      "reward_available",
		Help:      "Reward funds not yet owed to stakers, in whole reward units",
	}, []string{"pool"})
	promPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "ledger",
		Name:      "paused",
	})
	promOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Ledger operations by outcome - ok or the failure code",
	}, []string{"op", "result"})
)

// PoolMetrics is the per-pool data the metric gauges report.
type PoolMetrics struct {
	PoolID      uint64
	NumStakers  uint64
	TotalStaked float64 // whole staking units
	// reward funds left after everything owed to stakers, whole reward units
	RewardUnowed float64
}

// PublishMetrics sets the ledger gauges. Pool figures are computed by the caller (see PoolObligations).
func (l *Ledger) PublishMetrics(pools []PoolMetrics) {
	promNumPools.Set(float64(l.PoolCount()))
	if l.Paused() {
		promPaused.Set(1)
	} else {
		promPaused.Set(0)
	}
	for _, pool := range pools {
		label := strconv.FormatUint(pool.PoolID, 10)
		promNumStakers.WithLabelValues(label).Set(float64(pool.NumStakers))
		promTotalStaked.WithLabelValues(label).Set(pool.TotalStaked)
		promRewardAvailable.WithLabelValues(label).Set(pool.RewardUnowed)
	}
}
