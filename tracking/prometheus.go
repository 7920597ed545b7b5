package tracking

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PrometheusOptions configures pushes to a Prometheus Pushgateway.
type PrometheusOptions struct {
	PushgatewayURL string
	Job            string
	// RunID groups the pushed series. A random UUID is used when empty.
	RunID string
}

// Prometheus pushes the latest value of every metric to a Pushgateway,
// grouped by job and run id. Each LogMetric call pushes.
type Prometheus struct {
	pusher   *push.Pusher
	registry *prometheus.Registry
	runID    string

	metric   *prometheus.GaugeVec
	step     *prometheus.GaugeVec
	started  prometheus.Gauge
	finished *prometheus.GaugeVec
}

// NewPrometheus registers the run gauges and performs an initial push so an
// unreachable gateway is reported at startup.
func NewPrometheus(opts PrometheusOptions) (*Prometheus, error) {
	if opts.PushgatewayURL == "" {
		return nil, errors.New("prometheus: empty pushgateway URL")
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		runID:    runID,
		metric: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "finetune",
			Name:      "metric_value",
			Help:      "Latest value of a training or evaluation metric.",
		}, []string{"metric"}),
		step: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "finetune",
			Name:      "metric_step",
			Help:      "Training step at which the metric was last logged.",
		}, []string{"metric"}),
		started: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "finetune",
			Name:      "run_start_timestamp_seconds",
			Help:      "Unix time the run started.",
		}),
		finished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "finetune",
			Name:      "run_end_timestamp_seconds",
			Help:      "Unix time the run ended, labeled by final status.",
		}, []string{"status"}),
	}
	p.registry.MustRegister(p.metric, p.step, p.started, p.finished)
	p.started.Set(float64(time.Now().Unix()))

	p.pusher = push.New(opts.PushgatewayURL, opts.Job).
		Gatherer(p.registry).
		Grouping("run_id", runID)
	if err := p.pusher.Push(); err != nil {
		return nil, errors.Wrap(err, "prometheus: initial push")
	}
	return p, nil
}

// RunID returns the grouping label value of this run.
func (p *Prometheus) RunID() string { return p.runID }

// LogParams exposes the parameters as labels of a constant info gauge.
func (p *Prometheus) LogParams(params map[string]string) error {
	keys := slices.Sorted(maps.Keys(params))
	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "finetune",
		Name:        "run_params_info",
		Help:        "Run hyperparameters.",
		ConstLabels: prometheus.Labels(params),
	})
	info.Set(1)
	if err := p.registry.Register(info); err != nil {
		return errors.Wrapf(err, "prometheus: registering params %v", keys)
	}
	return errors.Wrap(p.pusher.Push(), "prometheus: push params")
}

// LogMetric implements MetricsSink.
func (p *Prometheus) LogMetric(key string, value float64, step int) error {
	p.metric.WithLabelValues(key).Set(value)
	p.step.WithLabelValues(key).Set(float64(step))
	return errors.Wrapf(p.pusher.Push(), "prometheus: push %s", key)
}

// Close implements MetricsSink.
func (p *Prometheus) Close(status Status) error {
	p.finished.WithLabelValues(string(status)).Set(float64(time.Now().Unix()))
	return errors.Wrap(p.pusher.Push(), "prometheus: final push")
}
