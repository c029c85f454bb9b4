// Package plotting draws the standard analysis figures: stacked backgrounds with
// data, systematic variations around a nominal shape, and shape overlays.
package plotting

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/hist"
)

// Style carries the decorations shared by every figure.
type Style struct {
	Title  string
	XLabel string
	YLabel string
	// Label and Lumi share a line under the title,
	// e.g. "CMS Preliminary" and "59.7 fb-1 (13 TeV)".
	Label string
	Lumi  string
	LogY  bool
	Width vg.Length
	// Height of the whole figure, ratio panel included.
	Height vg.Length
}

func (s Style) size() (vg.Length, vg.Length) {
	w, h := s.Width, s.Height
	if w == 0 {
		w = 6 * vg.Inch
	}
	if h == 0 {
		h = 5 * vg.Inch
	}
	return w, h
}

var formats = map[string]bool{".png": true, ".pdf": true, ".svg": true, ".eps": true, ".jpg": true, ".jpeg": true}

// CheckOutput validates the extension that decides the output format.
func CheckOutput(output string) error {
	ext := strings.ToLower(filepath.Ext(output))
	if !formats[ext] {
		return anaerr.Invalid("plot", output, "unsupported output format %q", ext)
	}
	return nil
}

var palette = []color.Color{
	color.RGBA{R: 66, G: 133, B: 244, A: 255},
	color.RGBA{R: 234, G: 67, B: 53, A: 255},
	color.RGBA{R: 251, G: 188, B: 5, A: 255},
	color.RGBA{R: 52, G: 168, B: 83, A: 255},
	color.RGBA{R: 255, G: 109, B: 1, A: 255},
	color.RGBA{R: 70, G: 189, B: 198, A: 255},
	color.RGBA{R: 171, G: 71, B: 188, A: 255},
	color.RGBA{R: 158, G: 157, B: 36, A: 255},
	color.RGBA{R: 121, G: 85, B: 72, A: 255},
	color.RGBA{R: 120, G: 144, B: 156, A: 255},
}

// Color returns the i-th colour of the palette, cycling.
func Color(i int) color.Color {
	return palette[i%len(palette)]
}

var black = color.RGBA{A: 255}

func newPlot(s Style) *hplot.Plot {
	p := hplot.New()
	p.Title.Text = s.Title
	p.X.Label.Text = s.XLabel
	p.Y.Label.Text = s.YLabel
	p.X.Tick.Marker = PreciseTicks{NSuggestedTicks: 5}
	if s.LogY {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	} else {
		p.Y.Tick.Marker = PreciseTicks{NSuggestedTicks: 5}
	}
	p.Legend.Top = true
	return p
}

// line draws h as an unfilled histogram outline.
func line(h *hist.Hist1D, c color.Color, logY bool) *hplot.H1D {
	hh := hplot.NewH1D(h.ToHBook())
	hh.Infos.Style = hplot.HInfoNone
	hh.LineStyle.Color = c
	hh.LineStyle.Width = vg.Points(1.5)
	hh.LogY = logY
	return hh
}

// points is a histogram rendered as markers with vertical error bars.
type points struct {
	plotter.XYs
	plotter.YErrors
}

// newPoints skips empty bins on a log axis, where they cannot be drawn.
func newPoints(h *hist.Hist1D, logY bool) points {
	var pts points
	for i, c := range h.Contents {
		if logY && c <= 0 {
			continue
		}
		e := h.Error(i)
		pts.XYs = append(pts.XYs, plotter.XY{X: h.Center(i), Y: c})
		pts.YErrors = append(pts.YErrors, struct{ Low, High float64 }{Low: e, High: e})
	}
	return pts
}

func addPoints(p *hplot.Plot, pts points, label string) error {
	if len(pts.XYs) == 0 {
		return nil
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("plotting: data points: %w", err)
	}
	sc.GlyphStyle.Color = black
	sc.GlyphStyle.Radius = vg.Points(2)
	eb, err := plotter.NewYErrorBars(pts)
	if err != nil {
		return fmt.Errorf("plotting: data error bars: %w", err)
	}
	eb.LineStyle.Color = black
	p.Add(sc, eb)
	if label != "" {
		p.Legend.Add(label, sc)
	}
	return nil
}

// yRange returns the axis range covering all contents with headroom for the legend.
func yRange(logY bool, hists ...*hist.Hist1D) (min, max float64) {
	max = math.Inf(-1)
	minPos := math.Inf(1)
	min = math.Inf(1)
	for _, h := range hists {
		if h == nil {
			continue
		}
		for i, c := range h.Contents {
			hi := c + h.Error(i)
			max = math.Max(max, hi)
			min = math.Min(min, c)
			if c > 0 {
				minPos = math.Min(minPos, c)
			}
		}
	}
	if math.IsInf(max, -1) {
		return 0, 1
	}
	if logY {
		if math.IsInf(minPos, 1) {
			return 0.1, 1
		}
		return minPos / 2, max * 50
	}
	if min > 0 {
		min = 0
	}
	if max <= min {
		max = min + 1
	}
	return min, max + 0.35*(max-min)
}

func unityLine() *plotter.Function {
	f := plotter.NewFunction(func(float64) float64 { return 1 })
	f.LineStyle.Color = color.Gray{Y: 128}
	f.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	return f
}

func zeroLine() *plotter.Function {
	f := plotter.NewFunction(func(float64) float64 { return 0 })
	f.LineStyle.Color = color.Gray{Y: 128}
	f.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	return f
}

func annotate(p *hplot.Plot, s Style) {
	if s.Label == "" && s.Lumi == "" {
		return
	}
	parts := make([]string, 0, 2)
	if s.Label != "" {
		parts = append(parts, s.Label)
	}
	if s.Lumi != "" {
		parts = append(parts, s.Lumi)
	}
	if p.Title.Text == "" {
		p.Title.Text = strings.Join(parts, "    ")
	} else {
		p.Title.Text = p.Title.Text + "\n" + strings.Join(parts, "    ")
	}
}

// ratioPlot puts bottom under top in a pad a third of the height. The top pad
// loses its x tick labels.
func ratioPlot(top, bottom *hplot.Plot) *hplot.RatioPlot {
	rp := hplot.NewRatioPlot()
	top.X.Tick.Marker = hplot.NoTicks{}
	rp.Top, rp.Bottom = top, bottom
	return rp
}

func save(d hplot.Drawer, s Style, output string) error {
	if err := CheckOutput(output); err != nil {
		return err
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("plotting: %w", err)
		}
	}
	w, h := s.size()
	if err := hplot.Save(d, w, h, output); err != nil {
		return fmt.Errorf("plotting: save %s: %w", output, err)
	}
	return nil
}
