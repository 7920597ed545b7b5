// Package pipeline wires the dataset resolver, a trainer and a metrics sink
// into one fine-tuning run.
package pipeline

import (
	"github.com/Noofbiz/finetune/classifier"
	"github.com/Noofbiz/finetune/config"
	"github.com/Noofbiz/finetune/datasets"
	"github.com/Noofbiz/finetune/tracking"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Run loads the datasets described by cfg and trains on them. The sink is
// closed with StatusFinished on success and StatusFailed otherwise, and
// its own errors never fail the run.
func Run(cfg config.Config, trainer classifier.Trainer, sink tracking.MetricsSink) (result *classifier.Result, err error) {
	if trainer == nil {
		return nil, errors.New("pipeline: nil trainer")
	}
	if sink == nil {
		sink = tracking.Noop{}
	}
	sink = tracking.Guard(sink)
	defer func() {
		status := tracking.StatusFinished
		if err != nil {
			status = tracking.StatusFailed
		}
		_ = sink.Close(status)
	}()

	split, err := datasets.LoadRaw(cfg)
	if err != nil {
		return nil, err
	}
	for _, p := range []datasets.Profile{
		datasets.Describe("train", split.TrainTexts, split.TrainLabels),
		datasets.Describe("val", split.ValTexts, split.ValLabels),
	} {
		klog.Info(p.String())
	}

	_ = sink.LogParams(cfg.Params())

	result, err = trainer.Train(cfg, split, sink)
	if err != nil {
		return nil, errors.WithMessage(err, "training failed")
	}
	klog.Infof("Model saved to %s", result.OutputPath)
	return result, nil
}
