package plotting

import (
	"fmt"
	"image/color"
	"math"

	"github.com/decibelcooper/cmsana/internal/hist"
)

var (
	upColor   = color.RGBA{R: 220, G: 30, B: 30, A: 255}
	downColor = color.RGBA{R: 30, G: 60, B: 220, A: 255}
)

type shift struct {
	h     *hist.Hist1D
	c     color.Color
	label string
}

type VariationOptions struct {
	Style
	// Systematic names the variation in the legend.
	Systematic string
	// Down may be nil for one-sided variations.
	Nominal, Up, Down *hist.Hist1D
}

// Variations draws the nominal shape with its up and down variations, and their
// relative differences to the nominal in a lower panel.
func Variations(opts VariationOptions, output string) error {
	if opts.Nominal == nil || opts.Up == nil {
		return fmt.Errorf("plotting: variations %s: nominal and up histograms are required", output)
	}
	top := newPlot(opts.Style)
	annotate(top, opts.Style)

	nom := line(opts.Nominal, black, opts.LogY)
	top.Add(nom)
	top.Legend.Add("nominal", nom)

	shifted := []shift{{opts.Up, upColor, opts.Systematic + " up"}}
	if opts.Down != nil {
		shifted = append(shifted, shift{opts.Down, downColor, opts.Systematic + " down"})
	}

	bottom := newPlot(Style{XLabel: opts.XLabel, YLabel: "rel. diff."})
	bottom.Legend.Top = false
	bottom.Y.Tick.Marker = PreciseTicks{NSuggestedTicks: 3}
	bottom.Add(zeroLine())

	drawn := []*hist.Hist1D{opts.Nominal}
	largest := 0.0
	for _, s := range shifted {
		h := line(s.h, s.c, opts.LogY)
		top.Add(h)
		top.Legend.Add(s.label, h)
		drawn = append(drawn, s.h)

		rd, err := hist.RelativeDifference(opts.Nominal, s.h)
		if err != nil {
			return fmt.Errorf("plotting: variations %s: %w", output, err)
		}
		for _, v := range rd.Contents {
			largest = math.Max(largest, math.Abs(v))
		}
		bottom.Add(line(rd, s.c, false))
	}
	top.Y.Min, top.Y.Max = yRange(opts.LogY, drawn...)
	top.X.Label.Text = ""

	bound := SymmetricBound(largest)
	bottom.X.Min, bottom.X.Max = opts.Nominal.Edges[0], opts.Nominal.Edges[len(opts.Nominal.Edges)-1]
	bottom.Y.Min, bottom.Y.Max = -bound, bound

	return save(ratioPlot(top, bottom), opts.Style, output)
}

// SymmetricBound returns a round axis limit a little above largest, at least 0.01.
func SymmetricBound(largest float64) float64 {
	if largest <= 0 || math.IsNaN(largest) {
		return 0.01
	}
	v := largest * 1.2
	tens := math.Pow10(int(math.Floor(math.Log10(v))))
	for _, s := range niceSteps {
		if s*tens >= v {
			return math.Max(s*tens, 0.01)
		}
	}
	return math.Max(10*tens, 0.01)
}
