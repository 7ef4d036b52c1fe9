// Package metrics 跟进流程共用的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "casa"

var (
	FollowupsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "followup",
		Name:      "created_total",
		Help:      "Followup creation attempts by result (ok, invalid).",
	}, []string{"result"})

	FollowupsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "followup",
		Name:      "resolved_total",
		Help:      "Resolve calls by outcome (won, noop).",
	}, []string{"outcome"})

	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "dispatched_total",
		Help:      "Notification events handed to a dispatcher.",
	}, []string{"kind", "dispatcher", "result"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Delivery attempts per channel and result.",
	}, []string{"channel", "result"})

	DeliveryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "delivery_seconds",
		Help:      "Time from event occurrence to successful delivery.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"kind"})
)
