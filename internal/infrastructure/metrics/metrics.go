// Package metrics defines and registers all custom Prometheus metrics for the
// estimate sync engine. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics register with the default Prometheus registry on package load and
// are served by the /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "estimate_sync"

// ── Change feed metrics ───────────────────────────────────────────────────────

// EventsReceivedTotal counts change events delivered by the stream.
// Label:
//   - kind: insert, update or delete
var EventsReceivedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_received_total",
		Help:      "Total number of change events delivered by the change stream.",
	},
	[]string{"kind"},
)

// EventsAppliedTotal counts reconciler outcomes.
// Label:
//   - effect: inserted, replaced, removed, noop, filtered, stale
var EventsAppliedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_applied_total",
		Help:      "Total number of change events reconciled, by effect on the snapshot.",
	},
	[]string{"effect"},
)

// PolicyViolationsTotal counts events the server filter should have excluded.
var PolicyViolationsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "policy_violations_total",
		Help:      "Total number of inserts dropped because the record is outside the identity's scope.",
	},
)

// EventsBuffered tracks events held while a fetch is in flight.
var EventsBuffered = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "events_buffered",
		Help:      "Current number of change events buffered pending a snapshot fetch.",
	},
)

// ── Subscription metrics ──────────────────────────────────────────────────────

// SubscriptionState is 1 for the current subscription state and 0 otherwise.
// Label:
//   - state: idle, connecting, subscribed, error, reconnecting, disconnected, closed
var SubscriptionState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscription_state",
		Help:      "Current change stream subscription state (1 = active state).",
	},
	[]string{"state"},
)

// ReconnectsTotal counts reconnect attempts.
// Label:
//   - result: ok or failed
var ReconnectsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Total number of change stream reconnect attempts.",
	},
	[]string{"result"},
)

// ── Fetch metrics ─────────────────────────────────────────────────────────────

// FetchDuration measures one-shot snapshot queries.
// Label:
//   - reason: initial, refresh or resync
var FetchDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Duration of one-shot estimate snapshot fetches.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"reason"},
)

// FetchErrorsTotal counts failed snapshot queries.
var FetchErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_errors_total",
		Help:      "Total number of failed estimate snapshot fetches.",
	},
	[]string{"reason"},
)

// ── Cache metrics ─────────────────────────────────────────────────────────────

// CacheLookupsTotal counts reference cache lookups.
// Labels:
//   - namespace: territories, user_roles, material_waste, pricing_templates, estimates_summary
//   - result: hit, miss or corrupt
var CacheLookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Total number of cache lookups, by namespace and result.",
	},
	[]string{"namespace", "result"},
)

// CacheEvictionsTotal counts removed cache entries.
// Label:
//   - reason: expired, sweep, clear
var CacheEvictionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "Total number of cache entries evicted, by reason.",
	},
	[]string{"reason"},
)

// ── Notification metrics ──────────────────────────────────────────────────────

// NotificationsTotal counts notifications delivered to sinks.
// Label:
//   - kind: new_estimate or status_changed
var NotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Total number of notifications delivered.",
	},
	[]string{"kind"},
)

// NotificationsDedupTotal counts deduplication decisions.
// Label:
//   - result: "hit" (duplicate, skipped), "miss" (delivered) or "error" (check failed, delivered)
var NotificationsDedupTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dedup_total",
		Help:      "Total number of notification deduplication checks, labelled by result (hit/miss/error).",
	},
	[]string{"result"},
)

// NotificationsDroppedTotal counts notifications discarded because a worker
// queue was full.
var NotificationsDroppedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Total number of notifications dropped on a full dispatcher queue.",
	},
)

// NotificationQueueDepth tracks the number of notifications waiting per worker.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var NotificationQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "notification_queue_depth",
		Help:      "Current number of notifications pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// ── HTTP metrics ──────────────────────────────────────────────────────────────

// HTTPRequestsTotal counts served requests.
// Labels:
//   - method: HTTP method
//   - route: the matched route pattern (e.g. "/v1/materials/:material/waste")
//   - code: response status code
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests served.",
	},
	[]string{"method", "route", "code"},
)

// HTTPRequestDuration measures request latency per route.
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Latency of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)

var subscriptionStates = []string{"idle", "connecting", "subscribed", "error", "reconnecting", "disconnected", "closed"}

// SetSubscriptionState flips the state gauge so exactly one state reads 1.
func SetSubscriptionState(state string) {
	for _, s := range subscriptionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		SubscriptionState.WithLabelValues(s).Set(v)
	}
}
