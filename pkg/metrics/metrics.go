// Package metrics exports script VM activity as Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

const namespace = "script"

// Observer implements vm.Observer.
type Observer struct {
	invocations  *prometheus.CounterVec
	instructions prometheus.Counter
	suspends     *prometheus.CounterVec
	failures     *prometheus.CounterVec
}

// New creates the counters and registers them on reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Procedure invocations",
			},
			[]string{"proc"},
		),
		instructions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instructions_total",
				Help:      "Instructions executed",
			},
		),
		suspends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "suspends_total",
				Help:      "Invocations suspended",
			},
			[]string{"reason"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Invocations that failed",
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		for _, c := range o.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}

func (o *Observer) collectors() []prometheus.Collector {
	return []prometheus.Collector{o.invocations, o.instructions, o.suspends, o.failures}
}

// Invoked counts by procedure name. The program is not a label.
func (o *Observer) Invoked(_, proc string) {
	o.invocations.WithLabelValues(proc).Inc()
}

func (o *Observer) Executed(instructions int) {
	o.instructions.Add(float64(instructions))
}

func (o *Observer) Suspended(reason vm.SuspendReason) {
	o.suspends.WithLabelValues(reason.String()).Inc()
}

func (o *Observer) Failed(kind vm.ErrorKind) {
	o.failures.WithLabelValues(string(kind)).Inc()
}

var _ vm.Observer = (*Observer)(nil)
