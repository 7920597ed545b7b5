// Package tracking reports run parameters and training metrics to external
// experiment trackers.
//
// A MetricsSink is chosen once when a run starts (see FromConfig) and
// handed to the trainer. Tracking never decides the outcome of a run: the
// sink returned by FromConfig is wrapped with Guard, which logs and drops
// every error.
package tracking

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Status is the terminal state of a run reported on Close.
type Status string

const (
	StatusFinished Status = "FINISHED"
	StatusFailed   Status = "FAILED"
)

// MetricsSink receives the parameters and metrics of one training run.
type MetricsSink interface {
	// LogParams records run hyperparameters. It may be called more than once.
	LogParams(params map[string]string) error

	// LogMetric records one value of a metric at a training step.
	LogMetric(key string, value float64, step int) error

	// Close ends the run with the given status. No calls are made after Close.
	Close(status Status) error
}

// Noop is a MetricsSink that discards everything.
type Noop struct{}

func (Noop) LogParams(map[string]string) error { return nil }
func (Noop) LogMetric(string, float64, int) error { return nil }
func (Noop) Close(Status) error { return nil }

// Multi fans calls out to every sink in order. All sinks are called even
// when one fails; the first error is returned.
type Multi []MetricsSink

func (m Multi) LogParams(params map[string]string) error {
	return m.each(func(s MetricsSink) error { return s.LogParams(params) })
}

func (m Multi) LogMetric(key string, value float64, step int) error {
	return m.each(func(s MetricsSink) error { return s.LogMetric(key, value, step) })
}

func (m Multi) Close(status Status) error {
	return m.each(func(s MetricsSink) error { return s.Close(status) })
}

func (m Multi) each(fn func(MetricsSink) error) error {
	var first error
	for _, s := range m {
		if err := fn(s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// guarded swallows errors and panics from the wrapped sink.
type guarded struct {
	sink     MetricsSink
	failures int
}

// Guard wraps sink so its methods never fail. Failures are logged, the
// first one as a warning and the rest at verbosity 1.
func Guard(sink MetricsSink) MetricsSink {
	if _, ok := sink.(*guarded); ok {
		return sink
	}
	return &guarded{sink: sink}
}

func (g *guarded) LogParams(params map[string]string) error {
	g.call("LogParams", func() error { return g.sink.LogParams(params) })
	return nil
}

func (g *guarded) LogMetric(key string, value float64, step int) error {
	g.call("LogMetric("+key+")", func() error { return g.sink.LogMetric(key, value, step) })
	return nil
}

func (g *guarded) Close(status Status) error {
	g.call("Close", func() error { return g.sink.Close(status) })
	return nil
}

func (g *guarded) call(op string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}
	g.failures++
	if g.failures == 1 {
		klog.Warningf("metrics tracking %s failed, continuing without it: %v", op, err)
		return
	}
	klog.V(1).Infof("metrics tracking %s failed (%d failures so far): %v", op, g.failures, err)
}

func (g *guarded) String() string {
	return fmt.Sprintf("guarded(%T)", g.sink)
}
