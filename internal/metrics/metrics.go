// Package metrics holds the Prometheus collectors for the portal's
// client-side operations. HTTP request metrics live in the middleware
// package; both register with the default registry served on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// backendCallsTotal counts manager calls into the backend.
	//
	// Labels: operation (fetch_profile, list_notifications, mark_read, ...),
	// status (success, error, timeout)
	backendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_backend_calls_total",
			Help: "Total number of backend calls made by the portal managers",
		},
		[]string{"operation", "status"},
	)

	// backendCallDuration measures backend call latency including retries.
	backendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_backend_call_duration_seconds",
			Help:    "Backend call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// authAttemptsTotal counts sign-in attempts by result.
	//
	// Labels: result (success, invalid_credentials, throttled, invalid_input, error)
	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_auth_attempts_total",
			Help: "Total number of sign-in attempts",
		},
		[]string{"result"},
	)

	// tokenRefreshTotal counts session refreshes by result.
	tokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_token_refresh_total",
			Help: "Total number of session token refreshes",
		},
		[]string{"result"},
	)

	// realtimeEventsTotal counts change events by table and outcome.
	//
	// Labels: table (notifications, announcements),
	// result (accepted, filtered, malformed)
	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_realtime_events_total",
			Help: "Total number of real-time change events received",
		},
		[]string{"table", "result"},
	)

	// unreadCount mirrors the notification badge.
	unreadCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_unread_count",
			Help: "Current unread notification and announcement count",
		},
	)
)

func init() {
	prometheus.MustRegister(backendCallsTotal)
	prometheus.MustRegister(backendCallDuration)
	prometheus.MustRegister(authAttemptsTotal)
	prometheus.MustRegister(tokenRefreshTotal)
	prometheus.MustRegister(realtimeEventsTotal)
	prometheus.MustRegister(unreadCount)
}

// RecordBackendCall records one backend call with its outcome and duration.
//
// Example:
//
//	start := time.Now()
//	list, err := store.ListNotifications(ctx, studentID)
//	status := "success"
//	if err != nil {
//	    status = "error"
//	}
//	metrics.RecordBackendCall("list_notifications", status, time.Since(start))
func RecordBackendCall(operation, status string, duration time.Duration) {
	backendCallsTotal.WithLabelValues(operation, status).Inc()
	backendCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncrementAuthAttempts counts a sign-in attempt.
func IncrementAuthAttempts(result string) {
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// IncrementTokenRefresh counts a session refresh.
func IncrementTokenRefresh(result string) {
	tokenRefreshTotal.WithLabelValues(result).Inc()
}

// RecordRealtimeEvent counts a change event.
func RecordRealtimeEvent(table, result string) {
	realtimeEventsTotal.WithLabelValues(table, result).Inc()
}

// SetUnreadCount updates the unread gauge.
func SetUnreadCount(n int) {
	unreadCount.Set(float64(n))
}
