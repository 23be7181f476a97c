// Package metrics exports streaming counters to Prometheus.
//
// A [Collector] registers one set of counter vectors; each stream obtains a
// direction-bound [Stream] from it. A nil *Collector and a nil *Stream are
// valid and record nothing, so the engine never checks whether metrics are
// enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bladerf"

// Collector owns the registered counter vectors.
type Collector struct {
	buffers         *prometheus.CounterVec
	samples         *prometheus.CounterVec
	overruns        *prometheus.CounterVec
	discontinuities *prometheus.CounterVec
	deferred        *prometheus.CounterVec
	transferErrors  *prometheus.CounterVec
	timeouts        *prometheus.CounterVec
}

// New registers the stream counters with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	vec := func(name, help string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      name,
			Help:      help,
		}, []string{"direction"})
	}
	return &Collector{
		buffers:         vec("buffers_total", "Sample buffers handed to or taken from the transport."),
		samples:         vec("samples_total", "Samples copied between callers and stream buffers."),
		overruns:        vec("overruns_total", "RX buffers dropped because no empty slot was available."),
		discontinuities: vec("discontinuities_total", "Timestamp discontinuities reported to callers."),
		deferred:        vec("deferred_submissions_total", "TX buffers handed to the completion callback for submission."),
		transferErrors:  vec("transfer_errors_total", "Streams stopped by a transport error."),
		timeouts:        vec("timeouts_total", "Caller waits that timed out."),
	}
}

// Stream returns counters bound to one direction label.
func (c *Collector) Stream(direction string) *Stream {
	if c == nil {
		return nil
	}
	return &Stream{
		buffers:         c.buffers.WithLabelValues(direction),
		samples:         c.samples.WithLabelValues(direction),
		overruns:        c.overruns.WithLabelValues(direction),
		discontinuities: c.discontinuities.WithLabelValues(direction),
		deferred:        c.deferred.WithLabelValues(direction),
		transferErrors:  c.transferErrors.WithLabelValues(direction),
		timeouts:        c.timeouts.WithLabelValues(direction),
	}
}

// Stream records the counters of one stream direction.
type Stream struct {
	buffers         prometheus.Counter
	samples         prometheus.Counter
	overruns        prometheus.Counter
	discontinuities prometheus.Counter
	deferred        prometheus.Counter
	transferErrors  prometheus.Counter
	timeouts        prometheus.Counter
}

// Buffer records one buffer moved through the ring.
func (s *Stream) Buffer() {
	if s != nil {
		s.buffers.Inc()
	}
}

// Samples records n samples copied.
func (s *Stream) Samples(n int) {
	if s != nil && n > 0 {
		s.samples.Add(float64(n))
	}
}

// Overruns records n dropped RX buffers.
func (s *Stream) Overruns(n int) {
	if s != nil && n > 0 {
		s.overruns.Add(float64(n))
	}
}

// Discontinuity records one timestamp discontinuity.
func (s *Stream) Discontinuity() {
	if s != nil {
		s.discontinuities.Inc()
	}
}

// Deferred records one TX submission handed to the callback.
func (s *Stream) Deferred() {
	if s != nil {
		s.deferred.Inc()
	}
}

// TransferError records one stream stopped by a transport error.
func (s *Stream) TransferError() {
	if s != nil {
		s.transferErrors.Inc()
	}
}

// Timeout records one caller wait that timed out.
func (s *Stream) Timeout() {
	if s != nil {
		s.timeouts.Inc()
	}
}
