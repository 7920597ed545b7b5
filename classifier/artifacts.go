package classifier

import (
	"encoding/json"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// Artifact file names written to the output path.
const (
	SummaryFile = "training_summary.json"
	CurvesFile  = "training_curves.png"
)

// summary is the content of SummaryFile.
type summary struct {
	Model          string   `json:"model"`
	TokenizerFiles []string `json:"tokenizer_files"`
	*Result
}

func saveArtifacts(r *Result, p *Pretrained) error {
	copied, err := p.SaveTokenizer(r.OutputPath)
	if err != nil {
		return err
	}
	if err := WriteSummary(r.OutputPath, summary{Model: p.Name, TokenizerFiles: copied, Result: r}); err != nil {
		return err
	}
	if len(r.History) == 0 {
		klog.V(1).Info("No epochs were run, skipping training curves")
		return nil
	}
	// A missing plot doesn't invalidate a trained model.
	if err := PlotCurves(r.OutputPath, r.History); err != nil {
		klog.Warningf("Failed to plot training curves: %v", err)
	}
	return nil
}

// WriteSummary writes v as indented JSON to SummaryFile in dir.
func WriteSummary(dir string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding training summary")
	}
	if err := ensureDir(dir); err != nil {
		return err
	}
	path := filepath.Join(dir, SummaryFile)
	return errors.Wrapf(os.WriteFile(path, append(data, '\n'), 0644), "writing %s", path)
}

// PlotCurves draws the per-epoch train loss, eval loss and eval accuracy
// to CurvesFile in dir.
func PlotCurves(dir string, hist []EpochMetrics) error {
	p := plot.New()
	p.Title.Text = "Training curves"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "value"
	p.Add(plotter.NewGrid())

	var trainLoss, evalLoss, evalAcc plotter.XYs
	for _, m := range hist {
		x := float64(m.Epoch)
		trainLoss = append(trainLoss, plotter.XY{X: x, Y: m.TrainLoss})
		if m.Evaluated {
			evalLoss = append(evalLoss, plotter.XY{X: x, Y: m.EvalLoss})
			evalAcc = append(evalAcc, plotter.XY{X: x, Y: m.EvalAccuracy})
		}
	}

	series := []struct {
		name string
		xys  plotter.XYs
		col  color.Color
	}{
		{"train loss", trainLoss, color.RGBA{R: 20, G: 80, B: 200, A: 255}},
		{"eval loss", evalLoss, color.RGBA{R: 200, G: 30, B: 30, A: 255}},
		{"eval accuracy", evalAcc, color.RGBA{R: 40, G: 140, B: 40, A: 255}},
	}
	var all plotter.XYs
	for _, s := range series {
		if len(s.xys) == 0 {
			continue
		}
		line, points, err := plotter.NewLinePoints(s.xys)
		if err != nil {
			return errors.Wrapf(err, "plotting %s", s.name)
		}
		line.Color = s.col
		line.Width = vg.Points(1.2)
		points.GlyphStyle.Color = s.col
		points.GlyphStyle.Radius = vg.Points(2.2)
		p.Add(line, points)
		p.Legend.Add(s.name, line, points)
		all = append(all, s.xys...)
	}
	p.Legend.Top = true

	p.X.Min, p.X.Max, p.Y.Min, p.Y.Max = autoRange(all)

	if err := ensureDir(dir); err != nil {
		return err
	}
	path := filepath.Join(dir, CurvesFile)
	return errors.Wrapf(p.Save(8*vg.Inch, 5*vg.Inch, path), "saving %s", path)
}

// autoRange computes padded min/max for X and Y of a set of points.
func autoRange(xys plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xys) == 0 {
		return -1, 1, -1, 1
	}
	xmin, xmax = math.Inf(1), math.Inf(-1)
	ymin, ymax = math.Inf(1), math.Inf(-1)
	for _, p := range xys {
		xmin, xmax = math.Min(xmin, p.X), math.Max(xmax, p.X)
		ymin, ymax = math.Min(ymin, p.Y), math.Max(ymax, p.Y)
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return errors.Wrapf(os.MkdirAll(path, 0755), "mkdir %s", path)
}
