package plotting

import (
	"fmt"

	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot/vg"

	"github.com/decibelcooper/cmsana/internal/hist"
)

// Entry is a histogram with its legend label.
type Entry struct {
	Label string
	Hist  *hist.Hist1D
}

type StackOptions struct {
	Style
	// Backgrounds are stacked in order, the first at the bottom.
	Backgrounds []Entry
	// Signals are drawn as lines on top of the stack.
	Signals []Entry
	// Data, when set, is drawn as points and divided by the stack in a ratio panel.
	Data *Entry
	// RatioMin and RatioMax bound the ratio panel, 0.5 to 1.5 when both are zero.
	RatioMin, RatioMax float64
}

// Stack draws the stacked backgrounds, any signals and data into output.
func Stack(opts StackOptions, output string) error {
	if len(opts.Backgrounds) == 0 {
		return fmt.Errorf("plotting: stack %s: no backgrounds", output)
	}
	cumulative, err := cumulate(opts.Backgrounds)
	if err != nil {
		return fmt.Errorf("plotting: stack %s: %w", output, err)
	}
	total := cumulative[len(cumulative)-1]

	top := newPlot(opts.Style)
	annotate(top, opts.Style)
	layers := make([]*hplot.H1D, len(cumulative))
	for i, c := range cumulative {
		layers[i] = line(c, black, opts.LogY)
		layers[i].LineStyle.Width = vg.Points(0.5)
		layers[i].FillColor = Color(i)
	}
	// Tallest first so each lower layer paints over the one above it.
	for i := len(layers) - 1; i >= 0; i-- {
		top.Add(layers[i])
	}
	for i, b := range opts.Backgrounds {
		top.Legend.Add(b.Label, layers[i])
	}
	drawn := []*hist.Hist1D{total}
	for i, s := range opts.Signals {
		h := line(s.Hist, Color(len(opts.Backgrounds)+i), opts.LogY)
		h.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}
		top.Add(h)
		top.Legend.Add(s.Label, h)
		drawn = append(drawn, s.Hist)
	}

	if opts.Data == nil {
		top.Y.Min, top.Y.Max = yRange(opts.LogY, drawn...)
		return save(top, opts.Style, output)
	}

	if err := addPoints(top, newPoints(opts.Data.Hist, opts.LogY), opts.Data.Label); err != nil {
		return err
	}
	drawn = append(drawn, opts.Data.Hist)
	top.Y.Min, top.Y.Max = yRange(opts.LogY, drawn...)

	ratio, err := DataOverPrediction(opts.Data.Hist, total)
	if err != nil {
		return fmt.Errorf("plotting: stack %s: %w", output, err)
	}
	bottom := newPlot(Style{XLabel: opts.XLabel, YLabel: "Data / Pred."})
	bottom.Legend.Top = false
	bottom.Y.Tick.Marker = PreciseTicks{NSuggestedTicks: 3}
	bottom.Add(unityLine())
	if err := addPoints(bottom, newPoints(ratio, false), ""); err != nil {
		return err
	}
	bottom.X.Min, bottom.X.Max = total.Edges[0], total.Edges[len(total.Edges)-1]
	bottom.Y.Min, bottom.Y.Max = opts.RatioMin, opts.RatioMax
	if bottom.Y.Min == 0 && bottom.Y.Max == 0 {
		bottom.Y.Min, bottom.Y.Max = 0.5, 1.5
	}
	top.X.Label.Text = ""

	return save(ratioPlot(top, bottom), opts.Style, output)
}

// cumulate returns the running sums of the entries, copying the first name.
func cumulate(entries []Entry) ([]*hist.Hist1D, error) {
	out := make([]*hist.Hist1D, len(entries))
	for i, e := range entries {
		if e.Hist == nil {
			return nil, fmt.Errorf("entry %q has no histogram", e.Label)
		}
		c := e.Hist.Clone()
		if i > 0 {
			c = out[i-1].Clone()
			if err := c.Add(e.Hist, 1); err != nil {
				return nil, err
			}
		}
		out[i] = c
	}
	return out, nil
}

// DataOverPrediction divides data by the prediction, keeping only the data
// uncertainty in the result.
func DataOverPrediction(data, prediction *hist.Hist1D) (*hist.Hist1D, error) {
	den := prediction.Clone()
	for i := range den.SumW2 {
		den.SumW2[i] = 0
	}
	r := data.Clone()
	r.Name = data.Name + "_ratio"
	if err := r.Divide(den); err != nil {
		return nil, err
	}
	return r, nil
}
