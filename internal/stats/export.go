package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	simerr "github.com/nvandessel/episim/internal/errors"
)

// CSVHeader is the first row written by ExportCSV.
var CSVHeader = []string{
	"cycle",
	"susceptible",
	"latent",
	"contagious",
	"symptomatic",
	"recovered",
	"dead",
	"hospitalized",
	"infected",
	"symptomatic_isolation",
	"asymptomatic_isolation",
}

// ExportCSV writes the sealed series to path, creating parent directories.
func (c *Collector) ExportCSV(path string) error {
	if !c.sealed {
		return simerr.ErrState.GenWithStackByArgs("export before the run is sealed")
	}
	return writeFile(path, func(w io.Writer) error { return WriteCSV(w, c.series) })
}

// WriteCSV writes series as CSV to w.
func WriteCSV(w io.Writer, series []Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, s := range series {
		c := s.Counts
		row := []string{
			strconv.Itoa(s.Cycle),
			strconv.Itoa(c.Susceptible),
			strconv.Itoa(c.Latent),
			strconv.Itoa(c.Contagious),
			strconv.Itoa(c.Symptomatic),
			strconv.Itoa(c.Recovered),
			strconv.Itoa(c.Dead),
			strconv.Itoa(c.Hospitalized),
			strconv.Itoa(c.Infected()),
			strconv.FormatFloat(s.SymptomaticIsolation, 'f', -1, 64),
			strconv.FormatFloat(s.AsymptomaticIsolation, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Chart size in pixels.
const (
	chartWidth  = 900
	chartHeight = 500
)

var colIsolation = drawing.Color{R: 0xff, G: 0xe0, B: 0x99, A: 0x80}

type chartLine struct {
	name  string
	color drawing.Color
	value func(Snapshot) int
}

var chartLines = []chartLine{
	{"susceptible", drawing.Color{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}, func(s Snapshot) int { return s.Counts.Susceptible }},
	{"infected", drawing.Color{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}, func(s Snapshot) int { return s.Counts.Infected() }},
	{"recovered", drawing.Color{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}, func(s Snapshot) int { return s.Counts.Recovered }},
	{"dead", drawing.Color{R: 0x00, G: 0x00, B: 0x00, A: 0xff}, func(s Snapshot) int { return s.Counts.Dead }},
	{"hospitalized", drawing.Color{R: 0x94, G: 0x67, B: 0xbd, A: 0xff}, func(s Snapshot) int { return s.Counts.Hospitalized }},
}

// ExportChart renders the sealed series as a PNG line chart. Cycles during
// which isolation was in force are shaded.
func (c *Collector) ExportChart(path string) error {
	if !c.sealed {
		return simerr.ErrState.GenWithStackByArgs("export before the run is sealed")
	}
	return writeFile(path, func(w io.Writer) error { return RenderChart(w, c.series) })
}

// RenderChart writes series to w as a PNG.
func RenderChart(w io.Writer, series []Snapshot) error {
	graph := newChart(series)
	return graph.Render(chart.PNG, w)
}

// newChart lays out one line per census column over a filled isolation band.
func newChart(series []Snapshot) chart.Chart {
	if len(series) == 0 {
		series = []Snapshot{{}}
	}
	first, last := series[0].Cycle, series[len(series)-1].Cycle
	if last <= first {
		last = first + 1
	}
	top := 1
	for _, s := range series {
		top = max(top, s.Counts.Total())
	}

	bandX, bandY := isolationBand(series, float64(top))
	graphSeries := []chart.Series{
		chart.ContinuousSeries{
			Name:    "isolation",
			XValues: bandX,
			YValues: bandY,
			Style:   chart.Style{StrokeColor: colIsolation, FillColor: colIsolation},
		},
	}
	xs := make([]float64, len(series))
	for i, s := range series {
		xs[i] = float64(s.Cycle)
	}
	for _, l := range chartLines {
		ys := make([]float64, len(series))
		for i, s := range series {
			ys[i] = float64(l.value(s))
		}
		graphSeries = append(graphSeries, chart.ContinuousSeries{
			Name:    l.name,
			XValues: xs,
			YValues: ys,
			Style:   chart.Style{StrokeColor: l.color, StrokeWidth: 2},
		})
	}

	graph := chart.Chart{
		Width:  chartWidth,
		Height: chartHeight,
		XAxis: chart.XAxis{
			Name:  "day",
			Range: &chart.ContinuousRange{Min: float64(first), Max: float64(last)},
			ValueFormatter: func(v any) string {
				return strconv.Itoa(int(v.(float64)))
			},
		},
		YAxis: chart.YAxis{
			Name:  "people",
			Range: &chart.ContinuousRange{Min: 0, Max: float64(top)},
			ValueFormatter: func(v any) string {
				return strconv.Itoa(int(v.(float64)))
			},
		},
		Series: graphSeries,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph
}

// isolationBand returns a step series that is top over each cycle interval
// ending in an isolating snapshot and zero elsewhere.
func isolationBand(series []Snapshot, top float64) (xs, ys []float64) {
	if len(series) < 2 {
		return []float64{float64(series[0].Cycle)}, []float64{0}
	}
	for i := 1; i < len(series); i++ {
		y := 0.0
		if series[i].Isolating() {
			y = top
		}
		xs = append(xs, float64(series[i-1].Cycle), float64(series[i].Cycle))
		ys = append(ys, y, y)
	}
	return xs, ys
}

// writeFile writes through a temp file in the target directory and renames
// it into place, so a failed export never leaves a partial file at path.
func writeFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
