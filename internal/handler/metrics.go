package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "order_core",
		Subsystem: "admission",
		Name:      "orders_admitted_total",
		Help:      "Total number of orders accepted into the system.",
	})

	ordersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "order_core",
		Subsystem: "admission",
		Name:      "orders_rejected_total",
		Help:      "Total number of rejected order submissions by reason.",
	}, []string{"reason"})

	orderActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "order_core",
		Subsystem: "lifecycle",
		Name:      "actions_total",
		Help:      "Total number of lifecycle actions by name and outcome.",
	}, []string{"action", "outcome"})

	shopControls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "order_core",
		Subsystem: "capacity",
		Name:      "shop_controls_total",
		Help:      "Total number of shop availability control calls.",
	}, []string{"control"})
)
