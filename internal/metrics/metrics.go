package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedemptionDuration tracks the latency of redemption requests by outcome.
	RedemptionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "h2all_redemption_duration_seconds",
			Help: "Duration of code redemption requests in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
			},
		},
		[]string{"result"},
	)

	CodesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2all_codes_generated_total",
			Help: "Redemption codes persisted, by generation path",
		},
		[]string{"path"},
	)

	CodeShortfall = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "h2all_codes_generation_shortfall_total",
			Help: "Codes requested but not produced by bulk generation",
		},
	)

	CookieWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2all_campaign_cookie_writes_total",
			Help: "Campaign cookie write attempts by outcome",
		},
		[]string{"result"},
	)

	CacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2all_campaign_cache_ops_total",
			Help: "Campaign cache operations by tier, operation and result",
		},
		[]string{"tier", "op", "result"},
	)
)

// RecordRedemption records the duration of a redemption attempt. result is
// "success" or the error code that ended it.
func RecordRedemption(result string, started time.Time) {
	RedemptionDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
}

func RecordCodesGenerated(path string, n int) {
	if n > 0 {
		CodesGenerated.WithLabelValues(path).Add(float64(n))
	}
}

func RecordShortfall(n int) {
	if n > 0 {
		CodeShortfall.Add(float64(n))
	}
}

func RecordCookieWrite(ok bool) {
	if ok {
		CookieWrites.WithLabelValues("ok").Inc()
		return
	}
	CookieWrites.WithLabelValues("failed").Inc()
}

func RecordCacheOp(tier, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CacheOps.WithLabelValues(tier, op, result).Inc()
}

func RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheOps.WithLabelValues(tier, "get", result).Inc()
}
