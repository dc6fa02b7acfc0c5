package feishu

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lucy",
		Subsystem: "feishu",
		Name:      "webhook_requests_total",
		Help:      "Webhook deliveries by outcome.",
	}, []string{"outcome"})

	repliesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lucy",
		Subsystem: "feishu",
		Name:      "replies_sent_total",
		Help:      "Text replies posted back to Feishu chats.",
	})

	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lucy",
		Subsystem: "feishu",
		Name:      "process_duration_seconds",
		Help:      "Time spent handling one webhook delivery.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)
