package main

// Example command that resolves the dataset named by a run configuration
// and prints a profile of the train and validation partitions, without
// downloading or training anything.
//
// Usage:
//   go run ./datasets/example --config=configs/sentiment.yaml

import (
	"flag"
	"fmt"

	"github.com/Noofbiz/finetune/config"
	"github.com/Noofbiz/finetune/datasets"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML run configuration")
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()
	if *configPath == "" {
		klog.Exitf("--config is required")
	}

	cfg := must.M1(config.Load(*configPath))
	split := must.M1(datasets.LoadRaw(cfg))

	fmt.Println(datasets.Describe("train", split.TrainTexts, split.TrainLabels))
	fmt.Println(datasets.Describe("validation", split.ValTexts, split.ValLabels))
	fmt.Printf("labels: %v (classifier outputs: %d)\n", datasets.LabelSet(split.TrainLabels), datasets.NumLabels(split))
}
