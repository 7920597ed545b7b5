package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/finetune/classifier"
	"github.com/Noofbiz/finetune/config"
	"github.com/Noofbiz/finetune/datasets"
	"github.com/Noofbiz/finetune/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	params  map[string]string
	metrics []string
	closed  []tracking.Status
}

func (s *recordingSink) LogParams(p map[string]string) error {
	s.params = p
	return nil
}

func (s *recordingSink) LogMetric(key string, _ float64, _ int) error {
	s.metrics = append(s.metrics, key)
	return nil
}

func (s *recordingSink) Close(status tracking.Status) error {
	s.closed = append(s.closed, status)
	return errors.New("tracking server went away")
}

type fakeTrainer struct {
	split *datasets.Split
	err   error
}

func (f *fakeTrainer) Train(cfg config.Config, split *datasets.Split, sink tracking.MetricsSink) (*classifier.Result, error) {
	f.split = split
	if f.err != nil {
		return nil, f.err
	}
	_ = sink.LogMetric("eval_accuracy", 1, 1)
	return &classifier.Result{OutputPath: cfg.Training.OutputPath, NumTrain: split.NumTrain(), NumVal: split.NumVal()}, nil
}

func writeDataset(t *testing.T, rows int) string {
	t.Helper()
	content := "text,label\n"
	for i := range rows {
		if i%2 == 0 {
			content += "good movie,1\n"
		} else {
			content += "bad movie,0\n"
		}
	}
	path := filepath.Join(t.TempDir(), "reviews.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testConfig(t *testing.T, datasetPath string) config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("data:\n  dataset_path: " + datasetPath + "\n  val_ratio: 0.2\n"))
	require.NoError(t, err)
	cfg.Training.OutputPath = t.TempDir()
	return cfg
}

func TestRunSuccess(t *testing.T) {
	cfg := testConfig(t, writeDataset(t, 10))
	trainer := &fakeTrainer{}
	sink := &recordingSink{}

	result, err := Run(cfg, trainer, sink)
	require.NoError(t, err)
	assert.Equal(t, 8, result.NumTrain)
	assert.Equal(t, 2, result.NumVal)
	assert.Equal(t, 8, trainer.split.NumTrain())

	assert.Equal(t, "1", sink.params["epochs"])
	assert.Equal(t, []string{"eval_accuracy"}, sink.metrics)
	assert.Equal(t, []tracking.Status{tracking.StatusFinished}, sink.closed)
}

func TestRunTrainerFailure(t *testing.T) {
	cfg := testConfig(t, writeDataset(t, 4))
	sink := &recordingSink{}

	_, err := Run(cfg, &fakeTrainer{err: errors.New("out of memory")}, sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
	assert.Equal(t, []tracking.Status{tracking.StatusFailed}, sink.closed)
}

func TestRunDatasetErrors(t *testing.T) {
	sink := &recordingSink{}
	trainer := &fakeTrainer{}

	_, err := Run(testConfig(t, filepath.Join(t.TempDir(), "missing.csv")), trainer, sink)
	var notFound *datasets.NotFoundError
	require.True(t, errors.As(err, &notFound), "expected NotFoundError, got %v", err)
	assert.Nil(t, trainer.split, "trainer must not run without data")
	assert.Nil(t, sink.params)
	assert.Equal(t, []tracking.Status{tracking.StatusFailed}, sink.closed)

	var cfgErr *config.ConfigurationError
	_, err = Run(testConfig(t, ""), trainer, nil)
	require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
	assert.Equal(t, "data.dataset_path", cfgErr.Key)
}

func TestRunNilTrainer(t *testing.T) {
	_, err := Run(config.Config{}, nil, nil)
	require.Error(t, err)
}
