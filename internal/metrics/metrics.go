package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics holds all Prometheus metrics for the fee controller and
// rehypothecation engine.
type EngineMetrics struct {
	PokesApplied *prometheus.CounterVec
	PokesSkipped *prometheus.CounterVec
	CurrentFee   *prometheus.GaugeVec
	TargetRatio  *prometheus.GaugeVec

	SwapsTotal    *prometheus.CounterVec
	SwapVolumeIn  *prometheus.CounterVec
	JITInjections *prometheus.CounterVec
	JITSkips      *prometheus.CounterVec

	VaultTotalAssets   *prometheus.GaugeVec
	VaultClaimableFees *prometheus.GaugeVec
	VaultSlashes       *prometheus.CounterVec

	CycleDuration prometheus.Histogram
}

var (
	once sync.Once
	m    *EngineMetrics
)

// Get creates and registers the engine metrics once and returns the shared
// instance.
func Get() *EngineMetrics {
	once.Do(func() {
		m = &EngineMetrics{
			PokesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rhm", Subsystem: "fee",
				Name: "pokes_applied_total",
				Help: "Fee controller pokes that committed a state change.",
			}, []string{"pool_id"}),
			PokesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rhm", Subsystem: "fee",
				Name: "pokes_skipped_total",
				Help: "Pokes skipped by the cooldown gate or missing signal.",
			}, []string{"pool_id", "reason"}),
			CurrentFee: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rhm", Subsystem: "fee",
				Name: "current_fee_pips",
				Help: "Current swap fee per pool in pips.",
			}, []string{"pool_id"}),
			TargetRatio: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rhm", Subsystem: "fee",
				Name: "target_ratio",
				Help: "Moving target ratio per pool.",
			}, []string{"pool_id"}),
			SwapsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rhm", Subsystem: "swap",
				Name: "swaps_total",
				Help: "Swaps executed per pool.",
			}, []string{"pool_id"}),
			SwapVolumeIn: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rhm", Subsystem: "swap",
				Name: "volume_in",
				Help: "Swap input volume per pool and side.",
			}, []string{"pool_id", "side"}),
			JITInjections: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rhm", Subsystem: "jit",
				Name: "injections_total",
				Help: "Swaps that ran with JIT liquidity injected.",
			}, []string{"pool_id"}),
			JITSkips: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rhm", Subsystem: "jit",
				Name: "skips_total",
				Help: "Swaps that ran without JIT injection.",
			}, []string{"pool_id"}),
			VaultTotalAssets: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rhm", Subsystem: "vault",
				Name: "total_assets",
				Help: "Wrapper totalAssets per pool and slot.",
			}, []string{"pool_id", "slot"}),
			VaultClaimableFees: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rhm", Subsystem: "vault",
				Name: "claimable_fees",
				Help: "Wrapper claimable fees per pool and slot.",
			}, []string{"pool_id", "slot"}),
			VaultSlashes: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rhm", Subsystem: "vault",
				Name: "slashes_total",
				Help: "Simulated slashing events per pool and slot.",
			}, []string{"pool_id", "slot"}),
			CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "rhm", Subsystem: "daemon",
				Name:    "cycle_duration_seconds",
				Help:    "Wall time of one daemon control cycle.",
				Buckets: prometheus.DefBuckets,
			}),
		}
	})
	return m
}
