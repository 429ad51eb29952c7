// Package metrics holds the application's Prometheus collectors on a
// private registry.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorebank",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chorebank",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	ledgerAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorebank",
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Ledger entries appended, by entry type.",
		},
		[]string{"type"},
	)

	ledgerPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorebank",
			Subsystem: "ledger",
			Name:      "points_total",
			Help:      "Absolute points moved through the ledger, by entry type.",
		},
		[]string{"type"},
	)

	choreTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorebank",
			Subsystem: "chores",
			Name:      "transitions_total",
			Help:      "Chore state transitions, by target status.",
		},
		[]string{"to"},
	)

	redemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorebank",
			Subsystem: "rewards",
			Name:      "redemptions_total",
			Help:      "Redemption operations, by outcome.",
		},
		[]string{"outcome"},
	)

	schedulerSpawns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chorebank",
			Subsystem: "scheduler",
			Name:      "spawned_total",
			Help:      "Chore instances spawned from recurring templates.",
		},
	)

	schedulerTicks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chorebank",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	couponApplications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorebank",
			Subsystem: "coupons",
			Name:      "applications_total",
			Help:      "Coupon applications, by outcome.",
		},
		[]string{"outcome"},
	)

	subscriptionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorebank",
			Subsystem: "subscriptions",
			Name:      "transitions_total",
			Help:      "Subscription transitions, by action.",
		},
		[]string{"action"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorebank",
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Notification dispatch attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chorebank",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Family snapshot cache lookups, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		ledgerAppends,
		ledgerPoints,
		choreTransitions,
		redemptions,
		schedulerSpawns,
		schedulerTicks,
		couponApplications,
		subscriptionTransitions,
		notifications,
		cacheLookups,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordLedgerAppend(entryType string, amount int) {
	if amount < 0 {
		amount = -amount
	}
	ledgerAppends.WithLabelValues(entryType).Inc()
	ledgerPoints.WithLabelValues(entryType).Add(float64(amount))
}

func RecordChoreTransition(to string) {
	choreTransitions.WithLabelValues(to).Inc()
}

func RecordRedemption(outcome string) {
	redemptions.WithLabelValues(outcome).Inc()
}

func RecordSchedulerTick(spawned int, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	schedulerSpawns.Add(float64(spawned))
	schedulerTicks.Observe(duration.Seconds())
}

func RecordCouponApplication(outcome string) {
	couponApplications.WithLabelValues(outcome).Inc()
}

func RecordSubscriptionTransition(action string) {
	subscriptionTransitions.WithLabelValues(action).Inc()
}

func RecordNotification(outcome string) {
	notifications.WithLabelValues(outcome).Inc()
}

func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records one handled request. Path should already be
// canonicalized with CanonicalPath.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// CanonicalPath collapses numeric path segments so that label cardinality
// stays bounded: /api/chores/42/submit becomes /api/chores/:id/submit.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
