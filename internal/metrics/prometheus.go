package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports metrics through a dedicated registry.
type PrometheusRecorder struct {
	registry        *prometheus.Registry
	claimsTotal     *prometheus.CounterVec
	claimDuration   prometheus.Histogram
	resolutions     *prometheus.CounterVec
	mintRateLimited prometheus.Counter
	loginsTotal     *prometheus.CounterVec
}

// NewPrometheus creates a recorder with its own registry, including
// the Go runtime and process collectors.
func NewPrometheus() *PrometheusRecorder {
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poapgate_claims_total",
		Help: "Claim attempts by outcome",
	}, []string{"outcome"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "poapgate_claim_duration_seconds",
		Help:    "End-to-end claim workflow duration",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poapgate_ens_resolutions_total",
		Help: "ENS name resolutions by result",
	}, []string{"result"})

	limited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poapgate_mint_rate_limited_total",
		Help: "Mint requests rejected by the per-user rate limit",
	})

	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poapgate_logins_total",
		Help: "Social login callbacks by status",
	}, []string{"status"})

	r := prometheus.NewRegistry()
	r.MustRegister(
		claims, duration, resolutions, limited, logins,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &PrometheusRecorder{
		registry:        r,
		claimsTotal:     claims,
		claimDuration:   duration,
		resolutions:     resolutions,
		mintRateLimited: limited,
		loginsTotal:     logins,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusRecorder) IncClaim(outcome string) {
	p.claimsTotal.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveClaimDuration(duration time.Duration) {
	p.claimDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncResolution(result string) {
	p.resolutions.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncMintRateLimited() {
	p.mintRateLimited.Inc()
}

func (p *PrometheusRecorder) IncLogin(status string) {
	p.loginsTotal.WithLabelValues(status).Inc()
}
