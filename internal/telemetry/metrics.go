package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cortexhub",
		Subsystem: "telemetry",
		Name:      "events_enqueued_total",
		Help:      "Events accepted into the telemetry queue.",
	})
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cortexhub",
		Subsystem: "telemetry",
		Name:      "events_dropped_total",
		Help:      "Events evicted under backpressure (drop-oldest).",
	})
	eventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cortexhub",
		Subsystem: "telemetry",
		Name:      "events_delivered_total",
		Help:      "Events successfully delivered to the sink.",
	})
	batchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cortexhub",
		Subsystem: "telemetry",
		Name:      "batches_failed_total",
		Help:      "Event batches dropped after delivery retries were exhausted.",
	})
)
