// Package classifier fine-tunes a pretrained transformer encoder for text
// classification.
//
// GomlxTrainer fetches the encoder (an ONNX export) and its tokenizer from
// the HuggingFace hub, adds a classification head on the [CLS] position and
// trains the whole network with gomlx, evaluating on the validation
// partition after every epoch. The checkpoint with the best validation
// accuracy is kept in the configured output directory, together with the
// tokenizer files, a training summary and a plot of the training curves.
package classifier

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Noofbiz/finetune/config"
	"github.com/Noofbiz/finetune/datasets"
	"github.com/Noofbiz/finetune/tracking"
	"github.com/pkg/errors"
)

// HistoryFile, kept next to the checkpoint, records the epochs already
// run so a resumed run compares against the best accuracy seen so far.
const HistoryFile = "history.json"

// Trainer runs one fine-tuning job.
type Trainer interface {
	// Train fits a classifier on split. Metrics are reported to sink, whose
	// failures never abort training. sink may be nil.
	Train(cfg config.Config, split *datasets.Split, sink tracking.MetricsSink) (*Result, error)
}

// Result describes a finished run.
type Result struct {
	OutputPath    string         `json:"output_path"`
	CheckpointDir string         `json:"checkpoint_dir"`
	Labels        []int          `json:"labels"`
	NumLabels     int            `json:"num_labels"`
	NumTrain      int            `json:"num_train"`
	NumVal        int            `json:"num_val"`
	GlobalStep    int            `json:"global_step"`
	History       []EpochMetrics `json:"history"`

	// BestEpoch is 1-based; 0 when no epoch was evaluated.
	BestEpoch    int     `json:"best_epoch"`
	BestAccuracy float64 `json:"best_accuracy"`
}

// EpochMetrics are the metrics recorded at the end of one epoch.
type EpochMetrics struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	TrainLoss    float64 `json:"train_loss"`
	EvalLoss     float64 `json:"eval_loss"`
	EvalAccuracy float64 `json:"eval_accuracy"`
	Evaluated    bool    `json:"evaluated"`
	Saved        bool    `json:"saved"`
}

// history tracks epochs and decides when a checkpoint is worth keeping.
type history struct {
	epochs       []EpochMetrics
	bestEpoch    int
	bestAccuracy float64
}

// add records m and reports whether it is the new best model. Without a
// validation set every epoch counts as an improvement, so the latest
// weights are kept.
func (h *history) add(m EpochMetrics) (improved bool) {
	switch {
	case !m.Evaluated:
		improved = true
	case h.bestEpoch == 0 || m.EvalAccuracy > h.bestAccuracy:
		improved = true
		h.bestEpoch = m.Epoch
		h.bestAccuracy = m.EvalAccuracy
	}
	m.Saved = improved
	h.epochs = append(h.epochs, m)
	return improved
}

func (h *history) fill(r *Result) {
	r.History = h.epochs
	r.BestEpoch = h.bestEpoch
	r.BestAccuracy = h.bestAccuracy
}

// save writes the recorded epochs to HistoryFile in dir.
func (h *history) save(dir string) error {
	data, err := json.MarshalIndent(h.epochs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding epoch history")
	}
	if err := ensureDir(dir); err != nil {
		return err
	}
	path := filepath.Join(dir, HistoryFile)
	return errors.Wrapf(os.WriteFile(path, append(data, '\n'), 0644), "writing %s", path)
}

// loadHistory rebuilds the history of epochs 1..lastEpoch from HistoryFile
// in dir. Later epochs were run after the checkpoint was written and are
// dropped. A missing file yields an empty history.
func loadHistory(dir string, lastEpoch int) (history, error) {
	var h history
	path := filepath.Join(dir, HistoryFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return h, nil
	}
	if err != nil {
		return h, errors.Wrapf(err, "reading %s", path)
	}
	var epochs []EpochMetrics
	if err := json.Unmarshal(data, &epochs); err != nil {
		return h, errors.Wrapf(err, "parsing %s", path)
	}
	for _, m := range epochs {
		if m.Epoch > lastEpoch {
			break
		}
		saved := m.Saved
		h.add(m)
		h.epochs[len(h.epochs)-1].Saved = saved
	}
	return h, nil
}
