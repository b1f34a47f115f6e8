package receipt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	receiptsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "receipts_recorded_total",
		Help: "Total number of StepReceipts signed.",
	})
	logBlocksSealedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logblocks_sealed_total",
		Help: "Total number of LogBlocks sealed via BuildLogBlock.",
	})
)
