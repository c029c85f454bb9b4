package hist

import (
	"math"
	"os"

	"github.com/rs/zerolog/log"
	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rhist"
	"go-hep.org/x/hep/groot/riofs"
	"go-hep.org/x/hep/hbook"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/histname"
)

// ListNames returns the names of all top-level keys in a ROOT file in file
// order, each name once.
func ListNames(path string) ([]string, error) {
	f, err := open("hist.list", path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	keys := latestKeys(f)
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = key.Name()
	}
	return names, nil
}

// ReadFile loads every top-level one-dimensional histogram whose name passes sel.
// Keys holding other objects are skipped.
func ReadFile(path string, sel histname.Selector) ([]*Hist1D, error) {
	f, err := open("hist.read", path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*Hist1D
	for _, key := range latestKeys(f) {
		if !sel.Match(key.Name()) {
			continue
		}
		obj, err := key.Object()
		if err != nil {
			return nil, anaerr.Invalid("hist.read", path, "key %q: %v", key.Name(), err)
		}
		h1, ok := obj.(binnedH1)
		if !ok {
			log.Debug().Str("file", path).Str("key", key.Name()).Str("class", key.ClassName()).Msg("skipping non-TH1 object")
			continue
		}
		out = append(out, fromROOT(key.Name(), h1))
	}
	return out, nil
}

// ReadOne loads a single histogram by exact name.
func ReadOne(path, name string) (*Hist1D, error) {
	f, err := open("hist.read", path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	obj, err := f.Get(name)
	if err != nil {
		return nil, anaerr.NotFound("hist.read", path, err)
	}
	h1, ok := obj.(binnedH1)
	if !ok {
		return nil, anaerr.Invalid("hist.read", path, "%q is a %s, not a TH1", name, obj.Class())
	}
	return fromROOT(name, h1), nil
}

// WriteFile recreates path with the given histograms stored as TH1D.
func WriteFile(path string, hists []*Hist1D) error {
	f, err := groot.Create(path)
	if err != nil {
		return anaerr.Invalid("hist.write", path, "%v", err)
	}
	for _, h := range hists {
		if err := f.Put(h.Name, rhist.NewH1DFrom(h.ToHBook())); err != nil {
			_ = f.Close()
			return anaerr.Invalid("hist.write", path, "put %q: %v", h.Name, err)
		}
	}
	if err := f.Close(); err != nil {
		return anaerr.Invalid("hist.write", path, "close: %v", err)
	}
	return nil
}

// binnedH1 is what the groot TH1F/TH1D/TH1I types provide beyond rhist.H1.
type binnedH1 interface {
	rhist.H1
	NbinsX() int
	XBinLowEdge(i int) float64
	XBinWidth(i int) float64
	XBinContent(i int) float64
	XBinError(i int) float64
}

func fromROOT(name string, h binnedH1) *Hist1D {
	n := h.NbinsX()
	edges := make([]float64, n+1)
	out := &Hist1D{
		Name:      name,
		Title:     h.Title(),
		Contents:  make([]float64, n),
		SumW2:     make([]float64, n),
		Underflow: rootFlow(h, 0),
		Overflow:  rootFlow(h, n+1),
		Entries:   h.Entries(),
	}
	// ROOT bins run from 1 to n; 0 and n+1 are the flows.
	for i := 1; i <= n; i++ {
		edges[i-1] = h.XBinLowEdge(i)
		out.Contents[i-1] = h.XBinContent(i)
		e := h.XBinError(i)
		out.SumW2[i-1] = e * e
	}
	edges[n] = h.XBinLowEdge(n) + h.XBinWidth(n)
	out.Edges = edges
	return out
}

func rootFlow(h binnedH1, i int) Flow {
	e := h.XBinError(i)
	return Flow{Content: h.XBinContent(i), SumW2: e * e}
}

// ToHBook converts to an hbook histogram carrying the same contents, sumw2,
// flows and entry count.
func (h *Hist1D) ToHBook() *hbook.H1D {
	hh := hbook.NewH1DFromEdges(h.Edges)
	hh.Ann["name"] = h.Name
	if h.Title != "" {
		hh.Ann["title"] = h.Title
	}
	var sumw2 float64
	for i, c := range h.Contents {
		if c != 0 {
			hh.Fill(h.Center(i), c)
		}
		hh.Binning.Bins[i].Dist.Dist.SumW2 = h.SumW2[i]
		sumw2 += h.SumW2[i]
	}
	hh.Binning.Dist.Dist.SumW2 = sumw2
	for i, f := range [2]Flow{h.Underflow, h.Overflow} {
		hh.Binning.Outflows[i].Dist.SumW = f.Content
		hh.Binning.Outflows[i].Dist.SumW2 = f.SumW2
	}
	if h.Entries > 0 {
		hh.Binning.Dist.Dist.N = int64(math.Round(h.Entries))
	}
	return hh
}

func open(op, path string) (*riofs.File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, anaerr.NotFound(op, path, err)
	}
	f, err := groot.Open(path)
	if err != nil {
		return nil, anaerr.Invalid(op, path, "%v", err)
	}
	return f, nil
}

func latestKeys(f *riofs.File) []*riofs.Key {
	all := f.Keys()
	best := make(map[string]*riofs.Key, len(all))
	var order []string
	for i := range all {
		key := &all[i]
		prev, ok := best[key.Name()]
		if !ok {
			order = append(order, key.Name())
		}
		if !ok || key.Cycle() > prev.Cycle() {
			best[key.Name()] = key
		}
	}
	out := make([]*riofs.Key, len(order))
	for i, name := range order {
		out[i] = best[name]
	}
	return out
}
