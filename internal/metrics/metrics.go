// Package metrics records rotation outcomes as Prometheus metrics on a
// private registry.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/systmms/keyrot/pkg/rotation"
)

// Recorder owns the keyrot metrics
type Recorder struct {
	registry *prometheus.Registry

	actions       *prometheus.CounterVec
	failures      *prometheus.CounterVec
	distributions *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	keys          *prometheus.GaugeVec
}

// New creates a Recorder with its own registry. Go runtime and process
// collectors are included when withRuntime is set.
func New(withRuntime bool) *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyrot_rotation_actions_total",
				Help: "Rotation steps that completed, by action",
			},
			[]string{"principal", "action"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyrot_rotation_failures_total",
				Help: "Rotation steps that failed, by reason",
			},
			[]string{"principal", "reason"},
		),
		distributions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyrot_distribution_total",
				Help: "Pushes of new keys to distributors, by outcome",
			},
			[]string{"distributor", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keyrot_rotation_duration_seconds",
				Help:    "Duration of rotation steps in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"principal"},
		),
		keys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keyrot_access_keys",
				Help: "Access keys a principal holds after the last rotation step",
			},
			[]string{"principal"},
		),
	}

	reg.MustRegister(r.actions, r.failures, r.distributions, r.duration, r.keys)
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Registry returns the registry the metrics live on
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RotationFinished records the outcome of one rotation step
func (r *Recorder) RotationFinished(ctx context.Context, res *rotation.Result, err error) {
	r.duration.WithLabelValues(res.Principal).Observe(res.Duration.Seconds())

	if err != nil {
		r.failures.WithLabelValues(res.Principal, rotation.FailureReason(err)).Inc()
	} else {
		r.actions.WithLabelValues(res.Principal, string(res.Action.Kind)).Inc()
	}

	if count, ok := keysAfter(res, err); ok {
		r.keys.WithLabelValues(res.Principal).Set(float64(count))
	}
}

// keysAfter derives the key count after a step from the listed snapshot
func keysAfter(res *rotation.Result, err error) (int, bool) {
	if res.Action.Kind == "" {
		return 0, false
	}
	count := len(res.Keys)
	switch {
	case res.NewKey != nil:
		count++
	case err == nil && res.Action.Kind == rotation.KindDelete:
		count--
	}
	return count, true
}

// ObserveDistribution records one distributor push. It matches
// distributor.Fanout.Observe.
func (r *Recorder) ObserveDistribution(distributor string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	r.distributions.WithLabelValues(distributor, status).Inc()
}

// Push sends the current metrics to a Prometheus Pushgateway
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}

var _ rotation.Observer = (*Recorder)(nil)
