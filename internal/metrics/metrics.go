package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Orders placed, by market, side and outcome (filled, pending, rejected)",
	}, []string{"market", "side", "outcome"})

	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Pending orders cancelled, by market",
	}, []string{"market"})

	SessionResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_resolutions_total",
		Help: "Trading-session lookups, by market and resolved session type",
	}, []string{"market", "session_type"})
)
