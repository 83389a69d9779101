// Package metrics exposes Prometheus counters for attestation activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProvisionsTotal counts successful local provisioning handshakes.
	ProvisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "central",
		Name:      "provisions_total",
		Help:      "Number of locals provisioned.",
	})

	// ChallengesTotal counts issued challenge nonces.
	ChallengesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "central",
		Name:      "challenges_total",
		Help:      "Number of challenge nonces issued.",
	})

	// AssertionsTotal counts assertion submissions by outcome.
	AssertionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "central",
		Name:      "assertions_total",
		Help:      "Number of assertion submissions by result.",
	}, []string{"result"})

	// UsageConsumedTotal counts usage units consumed by kind.
	UsageConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "central",
		Name:      "usage_consumed_total",
		Help:      "Number of usage units consumed against licenses.",
	}, []string{"kind"})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
