package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ consume latency (milliseconds)
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// Events published, by routing key and outcome
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of domain events published",
		},
		[]string{"routing_key", "status"}, // status: ok, error
	)

	// Reminder delivery attempts
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_delivery_attempts_total",
			Help: "Total number of reminder delivery attempts",
		},
		[]string{"status"}, // status: success, failed
	)

	// Terminal delivery outcomes
	DeliveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_delivery_outcomes_total",
			Help: "Terminal reminder delivery outcomes",
		},
		[]string{"status"}, // status: sent, failed
	)

	// Recurring instances generated
	RecurrenceInstances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recurrence_instances_total",
			Help: "Next-instance creation outcomes for recurring series",
		},
		[]string{"outcome"}, // outcome: created, skipped, exhausted
	)

	// Scheduler job dispatches
	JobDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_dispatches_total",
			Help: "Job callback dispatch outcomes",
		},
		[]string{"status"}, // status: success, failed, dropped
	)

	// HTTP request latency (seconds)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// Database query latency (seconds)
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)
)

func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordEventPublished(routingKey, status string) {
	EventsPublished.WithLabelValues(routingKey, status).Inc()
}

func RecordDeliveryAttempt(status string) {
	DeliveryAttempts.WithLabelValues(status).Inc()
}

func RecordDeliveryOutcome(status string) {
	DeliveryOutcomes.WithLabelValues(status).Inc()
}

func RecordRecurrenceInstance(outcome string) {
	RecurrenceInstances.WithLabelValues(outcome).Inc()
}

func RecordJobDispatch(status string) {
	JobDispatches.WithLabelValues(status).Inc()
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}
