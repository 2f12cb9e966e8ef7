package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"infra-anomaly-alerts/internal/engine"
)

// ErrNoSamples indicates a window carried no datapoints to plot.
var ErrNoSamples = errors.New("report: no samples to render")

// ChartRenderer writes anomaly windows as PNG charts under a directory.
type ChartRenderer struct {
	dir string
}

// NewChartRenderer builds a renderer writing into dir.
func NewChartRenderer(dir string) *ChartRenderer {
	return &ChartRenderer{dir: dir}
}

// RenderReport writes one chart per signal metric and returns the paths
// written. Metrics without window data are skipped.
func (r *ChartRenderer) RenderReport(report *engine.AnomalyReport) ([]string, error) {
	paths := make([]string, 0, len(report.Batch.Signals))
	for _, sig := range report.Batch.Signals {
		window, ok := report.Windows[sig.Metric.String()]
		if !ok || len(window.Current) == 0 {
			continue
		}
		path := filepath.Join(r.dir, ChartFileName(sig.Metric))
		if err := r.RenderWindow(path, window, thresholdFor(sig)); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// RenderWindow plots the observed window against its baseline along with
// the breached threshold level.
func (r *ChartRenderer) RenderWindow(path string, window engine.MetricWindow, threshold float64) error {
	if len(window.Current) == 0 {
		return ErrNoSamples
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(window.Current))
	y := make([]float64, len(window.Current))
	thresholdLine := make([]float64, len(window.Current))
	for i, sample := range window.Current {
		x[i] = sample.Timestamp
		y[i] = sample.Value
		thresholdLine[i] = threshold
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Observed",
			XValues: x,
			YValues: y,
		},
		chart.TimeSeries{
			Name:    "Threshold",
			XValues: x,
			YValues: thresholdLine,
			Style: chart.Style{
				StrokeColor:     chart.ColorRed,
				StrokeDashArray: []float64{5.0, 5.0},
			},
		},
	}

	if len(window.Baseline) > 0 {
		bx := make([]time.Time, len(window.Baseline))
		by := make([]float64, len(window.Baseline))
		// Baseline samples are shifted onto the current window so both
		// series share one x axis.
		offset := x[0].Sub(window.Baseline[0].Timestamp)
		for i, sample := range window.Baseline {
			bx[i] = sample.Timestamp.Add(offset)
			by[i] = sample.Value
		}
		series = append(series, chart.TimeSeries{
			Name:    "Baseline",
			XValues: bx,
			YValues: by,
			Style: chart.Style{
				StrokeColor: chart.ColorAlternateGray,
			},
		})
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Title:  window.Metric.String(),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           window.Metric.Name,
			ValueFormatter: valueFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func thresholdFor(sig engine.AnomalySignal) float64 {
	if sig.BreachType == engine.BreachAbsolute && sig.Baseline != nil {
		// The absolute threshold bounds the change against baseline, so
		// the plotted level sits above the baseline value.
		return *sig.Baseline + sig.Threshold
	}
	return sig.Threshold
}

// ChartFileName is the file name RenderReport writes a signal's chart
// under. Chart consumers resolve uploads through it rather than guessing.
func ChartFileName(id engine.MetricID) string {
	return strings.ReplaceAll(id.String(), ".", "_") + ".png"
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
