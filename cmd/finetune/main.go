// finetune trains a text classifier from a YAML run configuration.
//
// Usage:
//
//	finetune --config=configs/sentiment.yaml
//	finetune --config=configs/sentiment.yaml -v=1
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Noofbiz/finetune/classifier"
	"github.com/Noofbiz/finetune/config"
	"github.com/Noofbiz/finetune/pipeline"
	"github.com/Noofbiz/finetune/tracking"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

var flagConfig = flag.String("config", "", "path to the YAML run configuration (required)")

var summaryStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("63")).
	Padding(0, 2)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --config=<file.yaml> [klog flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	defer klog.Flush()

	if *flagConfig == "" {
		flag.Usage()
		klog.Exitf("--config is required")
	}
	cfg, err := config.Load(*flagConfig)
	if err != nil {
		exit(err)
	}

	sink := tracking.FromConfig(cfg)
	result, err := pipeline.Run(cfg, classifier.NewGomlxTrainer(), sink)
	if err != nil {
		exit(err)
	}

	fmt.Println("Training completed successfully!")
	fmt.Println(summaryStyle.Render(renderSummary(result)))
}

// exit reports err on stderr and exits with status 1. The stack trace is
// included with -v=1.
func exit(err error) {
	if klog.V(1).Enabled() {
		klog.Exitf("%+v", err)
	}
	klog.Exitf("%v", err)
}

func renderSummary(r *classifier.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model saved to:  %s\n", r.OutputPath)
	fmt.Fprintf(&b, "Examples:        %s train / %s validation\n",
		humanize.Comma(int64(r.NumTrain)), humanize.Comma(int64(r.NumVal)))
	fmt.Fprintf(&b, "Labels:          %d %v\n", r.NumLabels, r.Labels)
	fmt.Fprintf(&b, "Steps:           %s over %d epochs", humanize.Comma(int64(r.GlobalStep)), len(r.History))
	if r.BestEpoch > 0 {
		fmt.Fprintf(&b, "\nBest epoch:      %s (eval accuracy %.2f%%)", humanize.Ordinal(r.BestEpoch), 100*r.BestAccuracy)
	}
	return b.String()
}
