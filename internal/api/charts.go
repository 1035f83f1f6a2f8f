package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// lockChart renders the recent offset/sum history as an interactive HTML
// line chart. Debugging-only endpoint, no auth.
func (s *Server) lockChart(w http.ResponseWriter, r *http.Request) {
	hist := s.historySnapshot()
	if len(hist) == 0 {
		writeJSONError(w, http.StatusNotFound, "no lock history available")
		return
	}

	labels := make([]string, len(hist))
	offsets := make([]opts.LineData, len(hist))
	sums := make([]opts.LineData, len(hist))
	for i, p := range hist {
		labels[i] = p.At.Format("15:04:05.000")
		offsets[i] = opts.LineData{Value: p.Status.Offset}
		sums[i] = opts.LineData{Value: p.Status.Sum}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Focus Lock History", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Focus Lock", Subtitle: fmt.Sprintf("last %d samples", len(hist))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "offset"}),
	)
	line.SetXAxis(labels).
		AddSeries("offset", offsets).
		AddSeries("sum", sums)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// lockPlotPNG renders the offset history as a static PNG for quick capture
// into lab notes.
func (s *Server) lockPlotPNG(w http.ResponseWriter, r *http.Request) {
	hist := s.historySnapshot()
	if len(hist) == 0 {
		writeJSONError(w, http.StatusNotFound, "no lock history available")
		return
	}

	p := plot.New()
	p.Title.Text = "Focus Offset History"
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Offset"

	pts := make(plotter.XYs, 0, len(hist))
	for i, h := range hist {
		if !h.Status.IsGood {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i), Y: h.Status.Offset})
	}
	if len(pts) == 0 {
		writeJSONError(w, http.StatusNotFound, "no good samples in history")
		return
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Add(plotter.NewGrid())

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		return
	}
}
