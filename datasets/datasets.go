// Package datasets resolves the labeled text dataset named by a run
// configuration and turns it into train and validation partitions.
//
// A dataset source is either a directory or a single file:
//
//   - directory: must contain train.csv, may contain val.csv. When val.csv
//     is missing the training file is split with the configured seed and
//     validation ratio.
//   - file: must have a .csv extension (any case) and is always split.
//
// Every CSV needs a header with "text" and "label" columns; labels are
// base-10 integers.
//
// The package also holds the batched, tokenized form of a partition used
// by the trainer (EncodedDataset) and an on-disk cache for it.
package datasets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Noofbiz/finetune/config"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// File names looked up inside a dataset directory.
const (
	TrainFile = "train.csv"
	ValFile   = "val.csv"
)

// LoadRaw resolves cfg.Data.DatasetPath and returns the train and
// validation partitions.
func LoadRaw(cfg config.Config) (*Split, error) {
	path := cfg.Data.DatasetPath
	if path == "" {
		return nil, &config.ConfigurationError{
			Key:    "data.dataset_path",
			Reason: "no dataset path configured (set data.dataset_path or training.dataset_path)",
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: path}
		}
		return nil, errors.Wrapf(err, "failed to stat dataset path %s", path)
	}

	if info.IsDir() {
		return loadDir(path, cfg.Data.ValRatio, cfg.Seed)
	}
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return nil, &UnsupportedFormatError{Path: path}
	}
	texts, labels, err := ReadCSV(path)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("Splitting %d examples from %s (val_ratio=%g, seed=%d)", len(texts), path, cfg.Data.ValRatio, cfg.Seed)
	return TrainValSplit(texts, labels, cfg.Data.ValRatio, cfg.Seed), nil
}

func loadDir(dir string, valRatio float64, seed int64) (*Split, error) {
	trainPath := filepath.Join(dir, TrainFile)
	if _, err := os.Stat(trainPath); err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: trainPath, What: "training file"}
		}
		return nil, errors.Wrapf(err, "failed to stat %s", trainPath)
	}
	texts, labels, err := ReadCSV(trainPath)
	if err != nil {
		return nil, err
	}

	valPath := filepath.Join(dir, ValFile)
	if _, err := os.Stat(valPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to stat %s", valPath)
		}
		klog.V(1).Infof("No %s in %s, splitting %d training examples (val_ratio=%g, seed=%d)",
			ValFile, dir, len(texts), valRatio, seed)
		return TrainValSplit(texts, labels, valRatio, seed), nil
	}

	valTexts, valLabels, err := ReadCSV(valPath)
	if err != nil {
		return nil, err
	}
	return &Split{
		TrainTexts:  texts,
		TrainLabels: labels,
		ValTexts:    valTexts,
		ValLabels:   valLabels,
	}, nil
}
