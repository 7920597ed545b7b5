package tracking

import (
	"github.com/Noofbiz/finetune/config"
	"k8s.io/klog/v2"
)

// FromConfig selects the sinks for a run: MLflow when a tracking URI is
// configured, a Pushgateway when one is configured, both when both are,
// otherwise Noop. A live sink that fails to start is skipped with a
// warning. The result is always wrapped with Guard.
func FromConfig(cfg config.Config) MetricsSink {
	var sinks Multi

	if cfg.MLflow.TrackingURI != "" {
		m, err := NewMLflow(MLflowOptions{
			TrackingURI:    cfg.MLflow.TrackingURI,
			ExperimentName: cfg.MLflow.ExperimentName,
			RunName:        cfg.MLflow.RunName,
		})
		if err != nil {
			klog.Warningf("MLflow tracking disabled: %v", err)
		} else {
			sinks = append(sinks, m)
		}
	}

	if cfg.Prometheus.PushgatewayURL != "" {
		p, err := NewPrometheus(PrometheusOptions{
			PushgatewayURL: cfg.Prometheus.PushgatewayURL,
			Job:            cfg.Prometheus.Job,
		})
		if err != nil {
			klog.Warningf("Prometheus tracking disabled: %v", err)
		} else {
			klog.Infof("Pushing metrics to %s (job=%s, run_id=%s)", cfg.Prometheus.PushgatewayURL, cfg.Prometheus.Job, p.RunID())
			sinks = append(sinks, p)
		}
	}

	switch len(sinks) {
	case 0:
		klog.V(1).Info("No metrics tracking configured")
		return Guard(Noop{})
	case 1:
		return Guard(sinks[0])
	default:
		return Guard(sinks)
	}
}
