package logger

import (
	"fmt"
	"math"
	"os"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/shaunagostinho/reflow-dash/internal/session"
	"github.com/shaunagostinho/reflow-dash/internal/telemetry"
)

type imageFormat int

const (
	formatPNG imageFormat = iota
	formatSVG
)

func (f imageFormat) ext() string {
	if f == formatSVG {
		return ".svg"
	}
	return ".png"
}

func (f imageFormat) provider() chart.RendererProvider {
	if f == formatSVG {
		return chart.SVG
	}
	return chart.PNG
}

// plottable reports whether samples span a non-zero range on both axes,
// which the chart renderer requires.
func plottable(samples []telemetry.Sample) bool {
	if len(samples) < 2 {
		return false
	}
	first := samples[0]
	minT, maxT := first.Time, first.Time
	minY, maxY := first.Actual, first.Actual
	for _, s := range samples {
		minT, maxT = math.Min(minT, s.Time), math.Max(maxT, s.Time)
		for _, y := range []float64{s.Actual, s.Set, s.ColdJ} {
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
	}
	return maxT > minT && maxY > minY
}

// buildChart plots actual, setpoint and cold-junction temperature over time.
func buildChart(s *session.Session) chart.Chart {
	n := len(s.Samples)
	times := make([]float64, n)
	actual := make([]float64, n)
	setpoint := make([]float64, n)
	coldj := make([]float64, n)
	for i, smp := range s.Samples {
		times[i] = smp.Time
		actual[i] = smp.Actual
		setpoint[i] = smp.Set
		coldj[i] = smp.ColdJ
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("T-962 reflow log: %s", s.Profile),
		Width:  1024,
		Height: 512,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{Name: "Time [s]"},
		YAxis: chart.YAxis{Name: "Temperature [°C]"},
		Series: []chart.Series{
			chart.ContinuousSeries{Name: "Actual temp", XValues: times, YValues: actual},
			chart.ContinuousSeries{Name: "Setpoint", XValues: times, YValues: setpoint},
			chart.ContinuousSeries{Name: "Coldjunction temp", XValues: times, YValues: coldj},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph
}

func writeChart(path string, format imageFormat, s *session.Session) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	graph := buildChart(s)
	if err := graph.Render(format.provider(), f); err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}
