// Package hist holds the in-memory image of a one-dimensional ROOT histogram
// and the bin arithmetic the merging, rescaling, datacard and plotting tools share.
package hist

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const edgeTolerance = 1e-9

// Hist1D stores bin contents and sums of squared weights, with the flows kept
// apart. len(Edges) == len(Contents)+1 == len(SumW2)+1.
type Hist1D struct {
	Name     string
	Title    string
	Edges    []float64
	Contents []float64
	SumW2    []float64

	Underflow, Overflow Flow
	// Entries counts fills, as ROOT's TH1::GetEntries.
	Entries float64
}

// Flow is the content of an under- or overflow bin.
type Flow struct {
	Content float64
	SumW2   float64
}

func (f *Flow) add(o Flow, factor float64) {
	f.Content += factor * o.Content
	f.SumW2 += factor * factor * o.SumW2
}

func (f *Flow) scale(factor float64) {
	f.Content *= factor
	f.SumW2 *= factor * factor
}

func New(name string, edges []float64) *Hist1D {
	n := len(edges) - 1
	if n < 1 {
		panic("hist: need at least two edges")
	}
	return &Hist1D{
		Name:     name,
		Edges:    append([]float64(nil), edges...),
		Contents: make([]float64, n),
		SumW2:    make([]float64, n),
	}
}

func NewUniform(name string, nbins int, low, high float64) *Hist1D {
	edges := make([]float64, nbins+1)
	for i := range edges {
		edges[i] = low + float64(i)*(high-low)/float64(nbins)
	}
	edges[nbins] = high
	return New(name, edges)
}

func (h *Hist1D) Len() int { return len(h.Contents) }

func (h *Hist1D) Clone() *Hist1D {
	return &Hist1D{
		Name:      h.Name,
		Title:     h.Title,
		Edges:     append([]float64(nil), h.Edges...),
		Contents:  append([]float64(nil), h.Contents...),
		SumW2:     append([]float64(nil), h.SumW2...),
		Underflow: h.Underflow,
		Overflow:  h.Overflow,
		Entries:   h.Entries,
	}
}

// Fill adds weight w at x. Values outside the edges go to the flows.
func (h *Hist1D) Fill(x, w float64) {
	h.Entries++
	switch i := h.Bin(x); {
	case i >= 0:
		h.Contents[i] += w
		h.SumW2[i] += w * w
	case x < h.Edges[0]:
		h.Underflow.add(Flow{Content: w, SumW2: w * w}, 1)
	default:
		h.Overflow.add(Flow{Content: w, SumW2: w * w}, 1)
	}
}

// Bin returns the index of the bin containing x, or -1.
func (h *Hist1D) Bin(x float64) int {
	if x < h.Edges[0] || x >= h.Edges[len(h.Edges)-1] {
		return -1
	}
	lo, hi := 0, len(h.Edges)-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if x >= h.Edges[mid] {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

func (h *Hist1D) Center(i int) float64 { return 0.5 * (h.Edges[i] + h.Edges[i+1]) }

func (h *Hist1D) Width(i int) float64 { return h.Edges[i+1] - h.Edges[i] }

func (h *Hist1D) Error(i int) float64 { return math.Sqrt(h.SumW2[i]) }

func (h *Hist1D) Integral() float64 { return floats.Sum(h.Contents) }

// IntegralError is the statistical uncertainty on Integral.
func (h *Hist1D) IntegralError() float64 { return math.Sqrt(floats.Sum(h.SumW2)) }

func (h *Hist1D) Compatible(o *Hist1D) bool {
	return len(h.Edges) == len(o.Edges) && floats.EqualApprox(h.Edges, o.Edges, edgeTolerance)
}

func (h *Hist1D) checkCompatible(op string, o *Hist1D) error {
	if !h.Compatible(o) {
		return fmt.Errorf("hist: %s %q and %q: incompatible binning (%d vs %d bins)",
			op, h.Name, o.Name, h.Len(), o.Len())
	}
	return nil
}

// Add adds factor*o bin by bin, flows included. Entries add up as in hadd.
func (h *Hist1D) Add(o *Hist1D, factor float64) error {
	if err := h.checkCompatible("add", o); err != nil {
		return err
	}
	floats.AddScaled(h.Contents, factor, o.Contents)
	floats.AddScaled(h.SumW2, factor*factor, o.SumW2)
	h.Underflow.add(o.Underflow, factor)
	h.Overflow.add(o.Overflow, factor)
	h.Entries += o.Entries
	return nil
}

func (h *Hist1D) Subtract(o *Hist1D) error {
	return h.Add(o, -1)
}

func (h *Hist1D) Scale(factor float64) {
	floats.Scale(factor, h.Contents)
	floats.Scale(factor*factor, h.SumW2)
	h.Underflow.scale(factor)
	h.Overflow.scale(factor)
}

// Normalize scales to unit area. Empty histograms are left untouched.
func (h *Hist1D) Normalize() {
	if integral := h.Integral(); integral != 0 {
		h.Scale(1 / integral)
	}
}

// ClipNegative sets negative bins to zero along with their sumw2 and reports
// how many in-range bins were clipped. Negative flows are zeroed too.
func (h *Hist1D) ClipNegative() int {
	n := 0
	for i, c := range h.Contents {
		if c < 0 {
			h.Contents[i] = 0
			h.SumW2[i] = 0
			n++
		}
	}
	for _, f := range []*Flow{&h.Underflow, &h.Overflow} {
		if f.Content < 0 {
			*f = Flow{}
		}
	}
	return n
}

// Divide replaces h by h/o with uncorrelated error propagation. Bins where o is
// zero are set to zero, and so are the flows.
func (h *Hist1D) Divide(o *Hist1D) error {
	if err := h.checkCompatible("divide", o); err != nil {
		return err
	}
	h.Underflow, h.Overflow = Flow{}, Flow{}
	for i := range h.Contents {
		num, den := h.Contents[i], o.Contents[i]
		if den == 0 {
			h.Contents[i] = 0
			h.SumW2[i] = 0
			continue
		}
		r := num / den
		relNum2, relDen2 := 0.0, o.SumW2[i]/(den*den)
		if num != 0 {
			relNum2 = h.SumW2[i] / (num * num)
		}
		h.Contents[i] = r
		h.SumW2[i] = r * r * (relNum2 + relDen2)
	}
	return nil
}

// Rebin merges bins so that the histogram takes the given edges. Every new edge
// must coincide with an existing one; bins left outside the new range join the flows.
func (h *Hist1D) Rebin(edges []float64) (*Hist1D, error) {
	if len(edges) < 2 {
		return nil, fmt.Errorf("hist: rebin %q: need at least two edges", h.Name)
	}
	idx := make([]int, len(edges))
	for j, e := range edges {
		k := -1
		for i, old := range h.Edges {
			if math.Abs(old-e) < edgeTolerance {
				k = i
				break
			}
		}
		if k < 0 {
			return nil, fmt.Errorf("hist: rebin %q: edge %v is not an existing edge", h.Name, e)
		}
		if j > 0 && k <= idx[j-1] {
			return nil, fmt.Errorf("hist: rebin %q: edges not increasing", h.Name)
		}
		idx[j] = k
	}

	out := New(h.Name, edges)
	out.Title = h.Title
	out.Entries = h.Entries
	for j := 0; j < len(edges)-1; j++ {
		out.Contents[j] = floats.Sum(h.Contents[idx[j]:idx[j+1]])
		out.SumW2[j] = floats.Sum(h.SumW2[idx[j]:idx[j+1]])
	}
	last := idx[len(idx)-1]
	out.Underflow = Flow{
		Content: h.Underflow.Content + floats.Sum(h.Contents[:idx[0]]),
		SumW2:   h.Underflow.SumW2 + floats.Sum(h.SumW2[:idx[0]]),
	}
	out.Overflow = Flow{
		Content: h.Overflow.Content + floats.Sum(h.Contents[last:]),
		SumW2:   h.Overflow.SumW2 + floats.Sum(h.SumW2[last:]),
	}
	return out, nil
}

// Sum adds a list of compatible histograms into a new one named name.
func Sum(name string, hists []*Hist1D) (*Hist1D, error) {
	if len(hists) == 0 {
		return nil, fmt.Errorf("hist: sum %q: no histograms", name)
	}
	out := hists[0].Clone()
	out.Name = name
	for _, h := range hists[1:] {
		if err := out.Add(h, 1); err != nil {
			return nil, err
		}
	}
	return out, nil
}
