package joinpartition

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	spillBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "columnstore",
		Subsystem: "diskjoin",
		Name:      "spill_bytes_written_total",
		Help:      "Bytes written to disk join partition files.",
	})
	spillBytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "columnstore",
		Subsystem: "diskjoin",
		Name:      "spill_bytes_read_total",
		Help:      "Bytes read back from disk join partition files.",
	})
)

// RegisterMetrics adds the spill counters to reg. Registering twice is
// not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{spillBytesWritten, spillBytesRead} {
		if err := reg.Register(c); err != nil {
			are := prometheus.AlreadyRegisteredError{}
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
