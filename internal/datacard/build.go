package datacard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/hist"
	"github.com/decibelcooper/cmsana/internal/histname"
)

const (
	DefaultNominalPattern    = "$PROCESS_$CHANNEL"
	DefaultSystematicPattern = "$PROCESS_$CHANNEL_$SYSTEMATIC"
	nominal                  = "nominal"
)

type BuildOptions struct {
	Region        string
	SelectionType string
	Variable      string
	// Year selects catalog entries; it plays no part in histogram lookup.
	Year string
	// Channel defaults to <region>_<variable>, with _<year> appended when Year is set.
	Channel     string
	Signals     []string
	Backgrounds []string
	// DataProcess is the process name of the observed data histograms, "data" by default.
	DataProcess string
	// Asimov replaces the observation by the sum of all processes.
	Asimov bool
	// ClipNegative sets negative bins of the process shapes to zero.
	ClipNegative bool
	Catalog      Catalog
	AutoMCStats  int
	// Patterns default to DefaultNominalPattern and DefaultSystematicPattern.
	NominalPattern    string
	SystematicPattern string
}

func (o BuildOptions) channel() string {
	if o.Channel != "" {
		return o.Channel
	}
	ch := o.Region + "_" + o.Variable
	if o.Year != "" {
		ch += "_" + o.Year
	}
	return ch
}

func (o BuildOptions) dataProcess() string {
	if o.DataProcess == "" {
		return "data"
	}
	return o.DataProcess
}

// ShapeName expands a shapes pattern for one histogram.
func ShapeName(pattern, process, channel, systematic string) string {
	return strings.NewReplacer("$PROCESS", process, "$CHANNEL", channel, "$SYSTEMATIC", systematic).Replace(pattern)
}

// Build assembles the card for one region and variable from histograms named
// by the analysis convention. It also returns the histograms to write to the
// shapes file, renamed to the card's patterns with the observation as data_obs.
// The card's ShapesFile is left for the caller to set.
func Build(hists []*hist.Hist1D, opts BuildOptions) (Card, []*hist.Hist1D, error) {
	const op = "datacard.build"
	channel := opts.channel()
	nomPattern, sysPattern := opts.NominalPattern, opts.SystematicPattern
	if nomPattern == "" {
		nomPattern = DefaultNominalPattern
	}
	if sysPattern == "" {
		sysPattern = DefaultSystematicPattern
	}

	known := append(append([]string{opts.dataProcess()}, opts.Signals...), opts.Backgrounds...)
	byProcess := make(map[string]map[string]*hist.Hist1D)
	for _, h := range hists {
		n, err := histname.ParseWithProcesses(h.Name, known)
		if err != nil {
			continue
		}
		if n.Region != opts.Region || n.SelectionType != opts.SelectionType || n.Variable != opts.Variable {
			continue
		}
		if byProcess[n.Process] == nil {
			byProcess[n.Process] = make(map[string]*hist.Hist1D)
		}
		byProcess[n.Process][n.Systematic] = h
	}

	var (
		procs  []Process
		shapes []*hist.Hist1D
		nomByP = make(map[string]*hist.Hist1D)
	)
	add := func(name string, signal bool) {
		h, ok := byProcess[name][nominal]
		if !ok {
			log.Warn().Str("channel", channel).Str("process", name).Msg("no nominal histogram, process left out of the card")
			return
		}
		h = h.Clone()
		if opts.ClipNegative {
			if n := h.ClipNegative(); n > 0 {
				log.Warn().Str("channel", channel).Str("process", name).Int("bins", n).Msg("clipped negative bins")
			}
		}
		rate := h.Integral()
		if rate <= 0 {
			log.Warn().Str("channel", channel).Str("process", name).Float64("rate", rate).Msg("non-positive rate")
		}
		h.Name = ShapeName(nomPattern, name, channel, "")
		shapes = append(shapes, h)
		nomByP[name] = h
		procs = append(procs, Process{Name: name, Signal: signal, Rate: rate})
	}
	for _, s := range opts.Signals {
		add(s, true)
	}
	for _, b := range opts.Backgrounds {
		add(b, false)
	}
	if len(procs) == 0 {
		return Card{}, nil, anaerr.NotFound(op, channel, nil)
	}
	if !procs[0].Signal {
		return Card{}, nil, anaerr.NotFound(op, channel, fmt.Errorf("none of the signal processes %v has a nominal histogram", opts.Signals))
	}

	// Shape systematics need both directions for the same process.
	shapeValues := make(map[string]map[string]string)
	for _, p := range procs {
		variations := byProcess[p.Name]
		for _, sys := range sortedKeys(variations) {
			base, dir := histname.SplitSystematic(sys)
			if dir != histname.Up || opts.Catalog.Ignored(base) {
				continue
			}
			down, ok := variations[base+string(histname.Down)]
			if !ok {
				log.Warn().Str("channel", channel).Str("process", p.Name).Str("systematic", base).Msg("up variation without down, skipped")
				continue
			}
			for _, pair := range []struct {
				h   *hist.Hist1D
				dir histname.Direction
			}{{variations[sys], histname.Up}, {down, histname.Down}} {
				v := pair.h.Clone()
				if opts.ClipNegative {
					v.ClipNegative()
				}
				v.Name = ShapeName(sysPattern, p.Name, channel, base+string(pair.dir))
				shapes = append(shapes, v)
			}
			if shapeValues[base] == nil {
				shapeValues[base] = make(map[string]string)
			}
			shapeValues[base][p.Name] = "1"
		}
	}

	var obs *hist.Hist1D
	dataNominal, haveData := byProcess[opts.dataProcess()][nominal]
	switch {
	case opts.Asimov:
		total := make([]*hist.Hist1D, 0, len(procs))
		for _, p := range procs {
			total = append(total, nomByP[p.Name])
		}
		sum, err := hist.Sum("", total)
		if err != nil {
			return Card{}, nil, anaerr.Invalid(op, channel, "asimov observation: %v", err)
		}
		obs = sum
	case haveData:
		obs = dataNominal.Clone()
	default:
		name := histname.Name{Process: opts.dataProcess(), Region: opts.Region, SelectionType: opts.SelectionType, Variable: opts.Variable, Systematic: nominal}
		return Card{}, nil, anaerr.NotFound(op, name.String(), nil)
	}
	obs.Name = ShapeName(nomPattern, DataProcess, channel, "")
	shapes = append(shapes, obs)

	systs := opts.Catalog.Apply(procs, opts.Year, opts.Region)
	for _, name := range sortedKeys(shapeValues) {
		systs = append(systs, Systematic{Name: name, Type: Shape, Values: shapeValues[name]})
	}
	sortSystematics(systs)

	card := Card{
		Channel:           channel,
		Observation:       obs.Integral(),
		Processes:         procs,
		Systematics:       systs,
		NominalPattern:    nomPattern,
		SystematicPattern: sysPattern,
		AutoMCStats:       opts.AutoMCStats,
		RateParams:        opts.Catalog.RateParamsFor(procs),
	}
	return card, shapes, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
