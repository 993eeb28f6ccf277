package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFramesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "framenode",
		Subsystem: "provider",
		Name:      "frames_delivered_total",
		Help:      "Frames fetched from the capture source",
	})

	metricFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "framenode",
		Subsystem: "provider",
		Name:      "frames_dropped_total",
		Help:      "Frames recycled unseen because the consumer fell behind",
	})

	metricFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "framenode",
		Subsystem: "provider",
		Name:      "fetch_errors_total",
		Help:      "Transient dequeue failures from the capture source",
	})

	metricRequeueErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "framenode",
		Subsystem: "provider",
		Name:      "requeue_errors_total",
		Help:      "Transient enqueue failures returning buffers to the source",
	})

	metricDeliveredDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "framenode",
		Subsystem: "provider",
		Name:      "delivered_queue_depth",
		Help:      "Buffers waiting in the delivered queue",
	})

	metricProcessedDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "framenode",
		Subsystem: "provider",
		Name:      "processed_queue_depth",
		Help:      "Buffers waiting to be recycled to the source",
	})

	metricPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "framenode",
		Subsystem: "provider",
		Name:      "pool_size",
		Help:      "Fixed number of buffers in the pool",
	})

	metricKeepCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "framenode",
		Subsystem: "provider",
		Name:      "keep_count",
		Help:      "Frames kept available to the consumer",
	})
)
