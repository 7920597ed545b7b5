package classifier

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Noofbiz/finetune/config"
	"github.com/Noofbiz/finetune/datasets"
	"github.com/Noofbiz/finetune/tracking"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CheckpointSubdir is the directory under the output path holding the
// gomlx checkpoint of the best model.
const CheckpointSubdir = "checkpoints"

// GomlxTrainer fine-tunes an ONNX encoder with gomlx.
type GomlxTrainer struct {
	fetch func(cfg config.ModelConfig, progress bool) (*Pretrained, error)
}

// NewGomlxTrainer returns a trainer that fetches models from the
// HuggingFace hub.
func NewGomlxTrainer() *GomlxTrainer {
	return &GomlxTrainer{fetch: FetchPretrained}
}

// Train implements Trainer.
func (t *GomlxTrainer) Train(cfg config.Config, split *datasets.Split, sink tracking.MetricsSink) (*Result, error) {
	if sink == nil {
		sink = tracking.Noop{}
	}
	sink = tracking.Guard(sink)
	if split == nil || split.NumTrain() == 0 {
		return nil, errors.New("training partition is empty")
	}

	labels := datasets.LabelSet(split.TrainLabels)
	numLabels := datasets.NumLabels(split)
	if err := checkLabels(split, numLabels); err != nil {
		return nil, err
	}
	klog.Infof("Fine-tuning %q for %d labels %v", cfg.Model.PretrainedName, numLabels, labels)

	outDir := cfg.Training.OutputPath
	ckptDir := filepath.Join(outDir, CheckpointSubdir)
	if !cfg.Training.Resume {
		if found, err := hasCheckpoints(ckptDir); err != nil {
			return nil, err
		} else if found {
			return nil, &config.ConfigurationError{
				Key:    "training.resume",
				Reason: fmt.Sprintf("%s already holds checkpoints; set resume or pick another output_path", ckptDir),
			}
		}
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating output directory %s", outDir)
	}

	pretrained, err := t.fetch(cfg.Model, cfg.Training.ProgressBar)
	if err != nil {
		return nil, err
	}
	defer pretrained.Model.Close()

	encoder := NewEncoder(pretrained.Tokenizer, cfg.Model.MaxLength)
	trainEnc, valEnc, err := encodeSplit(cfg, encoder, split)
	if err != nil {
		return nil, err
	}

	backend, err := newBackend(cfg.Training.Device)
	if err != nil {
		return nil, err
	}
	defer backend.Finalize()
	klog.Infof("Backend %q: %s", backend.Name(), backend.Description())

	ctx := context.New()
	must.M(ctx.SetRNGStateFromSeed(cfg.Seed))
	if err := pretrained.Model.VariablesToContext(ctx); err != nil {
		return nil, errors.WithMessagef(err, "loading weights of %q", cfg.Model.PretrainedName)
	}
	// Checkpointed values, if any, replace the pretrained ones.
	checkpoint, err := checkpoints.Build(ctx).Dir(ckptDir).Keep(1).Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "checkpoints in %s", ckptDir)
	}
	ctx = ctx.Checked(false)

	model, err := newSequenceClassifier(pretrained.Model, numLabels, cfg.Model.DropoutRate)
	if err != nil {
		return nil, err
	}
	trainer := train.NewTrainer(backend, ctx, model.ModelGraph,
		losses.SparseCategoricalCrossEntropyLogits,
		optimizers.Adam().LearningRate(cfg.Training.LearningRate).Done(),
		[]metrics.Interface{metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)},
		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")})

	trainDS, err := datasets.NewEncodedDataset("train", trainEnc, cfg.Training.BatchSize)
	if err != nil {
		return nil, err
	}
	trainDS.Shuffle(cfg.Seed)
	var valDS *datasets.EncodedDataset
	if valEnc.Len() > 0 {
		if valDS, err = datasets.NewEncodedDataset("val", valEnc, cfg.Training.BatchSize); err != nil {
			return nil, err
		}
	}

	loop := train.NewLoop(trainer)
	if cfg.Training.ProgressBar {
		commandline.AttachProgressBar(loop)
	}
	logEvery := cfg.Training.LoggingSteps
	loop.OnStep("finetune metrics", 100, func(loop *train.Loop, values []*tensors.Tensor) error {
		step := loop.LoopStep + 1
		if logEvery <= 0 || step%logEvery != 0 {
			return nil
		}
		logTrainMetrics(sink, loop.Trainer.TrainMetrics(), values, step)
		return nil
	})

	startEpoch := 0
	if globalStep := int(optimizers.GetGlobalStep(ctx)); globalStep > 0 {
		startEpoch = globalStep / trainDS.NumBatches()
		klog.Infof("Resuming from checkpoint at step %d (epoch %d)", globalStep, startEpoch)
	}
	hist, err := loadHistory(ckptDir, startEpoch)
	if err != nil {
		return nil, err
	}
	if startEpoch > 0 {
		if hist.bestEpoch > 0 {
			klog.Infof("Best eval accuracy so far %.4f at epoch %d", hist.bestAccuracy, hist.bestEpoch)
		} else {
			klog.V(1).Infof("No epoch history found in %s", ckptDir)
		}
	}
	for epoch := startEpoch; epoch < cfg.Training.Epochs; epoch++ {
		trainValues, err := loop.RunEpochs(trainDS, 1)
		if err != nil {
			return nil, errors.WithMessagef(err, "training epoch %d", epoch+1)
		}
		m := EpochMetrics{
			Epoch:     epoch + 1,
			Step:      loop.LoopStep,
			TrainLoss: metricOfType(trainer.TrainMetrics(), trainValues, metrics.LossMetricType, true),
		}
		if valDS != nil {
			valDS.Reset()
			evalValues, err := trainer.Eval(valDS)
			if err != nil {
				return nil, errors.WithMessagef(err, "evaluating epoch %d", epoch+1)
			}
			m.Evaluated = true
			m.EvalLoss = metricOfType(trainer.EvalMetrics(), evalValues, metrics.LossMetricType, false)
			m.EvalAccuracy = metricOfType(trainer.EvalMetrics(), evalValues, metrics.AccuracyMetricType, false)
			_ = sink.LogMetric("eval_loss", m.EvalLoss, m.Step)
			_ = sink.LogMetric("eval_accuracy", m.EvalAccuracy, m.Step)
		}
		_ = sink.LogMetric("epoch", float64(m.Epoch), m.Step)
		if hist.add(m) {
			if err := checkpoint.Save(); err != nil {
				return nil, errors.WithMessagef(err, "saving checkpoint of epoch %d", m.Epoch)
			}
		}
		if err := hist.save(ckptDir); err != nil {
			return nil, err
		}
		klog.Infof("Epoch %d/%d: step=%d train_loss=%.4f eval_loss=%.4f eval_accuracy=%.4f",
			m.Epoch, cfg.Training.Epochs, m.Step, m.TrainLoss, m.EvalLoss, m.EvalAccuracy)
	}

	result := &Result{
		OutputPath:    outDir,
		CheckpointDir: checkpoint.Dir(),
		Labels:        labels,
		NumLabels:     numLabels,
		NumTrain:      split.NumTrain(),
		NumVal:        split.NumVal(),
		GlobalStep:    int(optimizers.GetGlobalStep(ctx)),
	}
	hist.fill(result)
	if err := saveArtifacts(result, pretrained); err != nil {
		return nil, err
	}
	return result, nil
}

// encodeSplit tokenizes both partitions, going through the encoding cache
// when data.cache_path is set.
func encodeSplit(cfg config.Config, enc *Encoder, split *datasets.Split) (trainEnc, valEnc *datasets.Encoded, err error) {
	cachePath := cfg.Data.CachePath
	var fp string
	if cachePath != "" {
		fp = datasets.Fingerprint(split, cfg.Model.PretrainedName, enc.MaxLength)
		trainEnc, valEnc, err = datasets.LoadEncodingCache(cachePath, fp)
		if err == nil {
			klog.Infof("Loaded encoded examples from %s", cachePath)
			return trainEnc, valEnc, nil
		}
		klog.V(1).Infof("Encoding cache %s not used: %v", cachePath, err)
	}

	progress := cfg.Training.ProgressBar
	if trainEnc, err = enc.Encode("train", split.TrainTexts, split.TrainLabels, progress); err != nil {
		return nil, nil, err
	}
	if valEnc, err = enc.Encode("val", split.ValTexts, split.ValLabels, progress); err != nil {
		return nil, nil, err
	}
	if cachePath != "" {
		if err := datasets.SaveEncodingCache(cachePath, fp, trainEnc, valEnc); err != nil {
			klog.Warningf("Failed to write encoding cache %s: %v", cachePath, err)
		}
	}
	return trainEnc, valEnc, nil
}

// checkLabels verifies every label of both partitions is a valid class
// index for a head of numLabels outputs.
func checkLabels(split *datasets.Split, numLabels int) error {
	for _, part := range []struct {
		name   string
		labels []int
	}{{"train", split.TrainLabels}, {"val", split.ValLabels}} {
		for i, label := range part.labels {
			if label < 0 || label >= numLabels {
				return errors.Errorf("%s example %d has label %d outside [0, %d): labels must be the integers 0..num_labels-1, where num_labels=%d is the count of distinct training labels",
					part.name, i, label, numLabels, numLabels)
			}
		}
	}
	return nil
}

// backendConfig maps training.device to a gomlx backend configuration.
// An empty result selects the default backend.
func backendConfig(device string) string {
	switch strings.ToLower(strings.TrimSpace(device)) {
	case "", "auto":
		return ""
	case "cpu":
		return "go"
	case "cuda", "gpu":
		return "xla:cuda"
	default:
		return device
	}
}

func newBackend(device string) (backends.Backend, error) {
	var (
		backend backends.Backend
		err     error
	)
	switch cfg := backendConfig(device); cfg {
	case "":
		backend, err = backends.New()
	case "go":
		backend, err = simplego.New("")
	default:
		backend, err = backends.NewWithConfig(cfg)
	}
	return backend, errors.WithMessagef(err, "creating backend for device %q", device)
}

func hasCheckpoints(dir string) (bool, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "checkpoint-*.json"))
	if err != nil {
		return false, errors.Wrapf(err, "listing %s", dir)
	}
	return len(matches) > 0, nil
}

// logTrainMetrics reports the training metrics of one step, skipping the
// per-batch loss and values that are not finite yet.
func logTrainMetrics(sink tracking.MetricsSink, descs []metrics.Interface, values []*tensors.Tensor, step int) {
	var parts []string
	for i, desc := range descs {
		if desc.Name() == "Batch Loss" || i >= len(values) {
			continue
		}
		v := shapes.ConvertTo[float64](values[i].Value())
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		key := "train_" + metricKey(desc.Name())
		_ = sink.LogMetric(key, v, step)
		parts = append(parts, fmt.Sprintf("%s=%.4f", key, v))
	}
	klog.Infof("[step %d] %s", step, strings.Join(parts, " "))
}

// metricOfType returns the first metric of the given type. With
// skipBatchLoss the noisy per-batch loss is passed over in favor of its
// moving average. Returns 0 when no metric matches.
func metricOfType(descs []metrics.Interface, values []*tensors.Tensor, metricType string, skipBatchLoss bool) float64 {
	for i, desc := range descs {
		if i >= len(values) || desc.MetricType() != metricType {
			continue
		}
		if skipBatchLoss && desc.Name() == "Batch Loss" {
			continue
		}
		return shapes.ConvertTo[float64](values[i].Value())
	}
	return 0
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// metricKey turns a metric name like "Moving Average Loss" into
// "moving_average_loss".
func metricKey(name string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(name), "_"), "_")
}
