package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OutputBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabundler_output_bytes_written_total",
			Help: "Number of archive bytes written to output storage",
		},
		[]string{"storage"},
	)

	OutputWriteFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediabundler_output_write_failed_total",
			Help: "Number of failed archive writes to output storage",
		},
		[]string{"storage"},
	)
)
