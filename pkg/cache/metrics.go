package cache

import "github.com/prometheus/client_golang/prometheus"

// RegisterMetrics exposes the memo's counters on the given registerer.
func RegisterMetrics(reg prometheus.Registerer, memo *Memo) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cohort_engine_memo_hits_total",
			Help: "Filter responses served from the bounded memo cache.",
		}, func() float64 { return float64(memo.Hits()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cohort_engine_memo_misses_total",
			Help: "Filter requests that required fresh aggregation.",
		}, func() float64 { return float64(memo.Misses()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "cohort_engine_memo_entries",
			Help: "Responses currently memoized.",
		}, func() float64 { return float64(memo.Len()) }),
	)
}
