package common

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/asyncsrt/lib/native"
)

// metricSet holds every metric of the async layer
var metricSet = metrics.NewSet()

var (
	// OutstandingCalls counts calls posted to a channel and not yet answered
	OutstandingCalls = metricSet.NewCounter("asrt_outstanding_calls")
	// CallTimeouts counts calls settled by their timeout
	CallTimeouts = metricSet.NewCounter("asrt_call_timeouts_total")
	// LateResponses counts responses that arrived after their call timed out
	LateResponses = metricSet.NewCounter("asrt_late_responses_total")
	// ChannelErrors counts calls the channel failed to execute
	ChannelErrors = metricSet.NewCounter("asrt_channel_errors_total")
	// RejectedCalls counts calls rejected before dispatch
	RejectedCalls = metricSet.NewCounter("asrt_rejected_calls_total")

	// ConnectionsAccepted counts connections accepted by servers
	ConnectionsAccepted = metricSet.NewCounter("asrt_connections_accepted_total")
	// ConnectionsClosed counts connections removed from server registries
	ConnectionsClosed = metricSet.NewCounter("asrt_connections_closed_total")

	// BytesRead counts bytes returned by ReadChunks
	BytesRead = metricSet.NewCounter("asrt_read_bytes_total")
	// BytesWritten counts bytes reported by the chunk writers
	BytesWritten = metricSet.NewCounter("asrt_written_bytes_total")
)

// CallCounter returns the counter of calls issued for method
func CallCounter(method native.Method) *metrics.Counter {
	return metricSet.GetOrCreateCounter(fmt.Sprintf(`asrt_calls_total{method=%q}`, method.String()))
}

// CallDuration returns the histogram of round trip durations for method
func CallDuration(method native.Method) *metrics.Histogram {
	return metricSet.GetOrCreateHistogram(fmt.Sprintf(`asrt_call_duration_seconds{method=%q}`, method.String()))
}

// WriteMetrics writes all metrics in the Prometheus text format. Process
// metrics are included when withProcess is set.
func WriteMetrics(w io.Writer, withProcess bool) {
	metricSet.WritePrometheus(w)
	if withProcess {
		metrics.WriteProcessMetrics(w)
	}
}
