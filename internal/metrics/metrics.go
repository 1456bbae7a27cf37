package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notifier_connections_active",
		Help: "Number of stream connections currently registered.",
	})

	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_broadcasts_total",
		Help: "Total number of notifications broadcast by this process.",
	})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_deliveries_total",
		Help: "Per-connection delivery attempts by result.",
	}, []string{"result"})

	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_webhook_requests_total",
		Help: "Inbound automation webhook calls by outcome.",
	}, []string{"outcome"})

	DispatchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_dispatch_attempts_total",
		Help: "Outbound dispatch attempts by outcome.",
	}, []string{"outcome"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifier_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
