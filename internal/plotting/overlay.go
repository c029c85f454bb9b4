package plotting

import (
	"fmt"

	"github.com/decibelcooper/cmsana/internal/hist"
)

type OverlayOptions struct {
	Style
	Entries []Entry
	// Normalize scales every entry to unit area before drawing.
	Normalize bool
}

// Overlay draws the entries as lines on shared axes to compare their shapes.
// The input histograms are not modified.
func Overlay(opts OverlayOptions, output string) error {
	if len(opts.Entries) == 0 {
		return fmt.Errorf("plotting: overlay %s: no histograms", output)
	}
	p := newPlot(opts.Style)
	annotate(p, opts.Style)
	if opts.Normalize && p.Y.Label.Text == "" {
		p.Y.Label.Text = "a.u."
	}

	drawn := make([]*hist.Hist1D, 0, len(opts.Entries))
	for i, e := range opts.Entries {
		h := e.Hist
		if opts.Normalize {
			h = h.Clone()
			h.Normalize()
		}
		l := line(h, Color(i), opts.LogY)
		p.Add(l)
		p.Legend.Add(e.Label, l)
		drawn = append(drawn, h)
	}
	p.Y.Min, p.Y.Max = yRange(opts.LogY, drawn...)
	return save(p, opts.Style, output)
}
