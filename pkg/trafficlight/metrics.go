package trafficlight

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trafficlight_decisions_total",
	Help: "Total number of traffic-light decisions issued, by state.",
}, []string{"state"})
