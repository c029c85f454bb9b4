// Package rescale derives normalisation factors for a simulated process from a
// control region and applies them to that process's histograms.
package rescale

import (
	"fmt"
	"math"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/decibelcooper/cmsana/internal/hist"
	"github.com/decibelcooper/cmsana/internal/histname"
)

type Result struct {
	Factor float64
	Error  float64
}

// Factor returns (data - sum(others)) / target using histogram integrals, with
// the statistical uncertainty propagated from all inputs.
func Factor(data, target *hist.Hist1D, others []*hist.Hist1D) (Result, error) {
	num := data.Integral()
	numVar := data.IntegralError() * data.IntegralError()
	for _, o := range others {
		num -= o.Integral()
		e := o.IntegralError()
		numVar += e * e
	}
	den := target.Integral()
	if den == 0 {
		return Result{}, fmt.Errorf("rescale: %q has zero integral", target.Name)
	}
	f := num / den
	denErr := target.IntegralError()
	relVar := denErr * denErr / (den * den)
	if num != 0 {
		relVar += numVar / (num * num)
	}
	res := Result{Factor: f}
	if relVar > 0 {
		res.Error = math.Abs(f) * math.Sqrt(relVar)
	}
	return res, nil
}

// FactorFromNames picks data, target and the other processes out of a set of
// nominal histograms sharing region, selection type and variable. Processes
// lists the known process names so that names containing underscores parse
// correctly; data and target are always known. A process seen twice is an error.
func FactorFromNames(hists []*hist.Hist1D, dataProcess, targetProcess string, processes []string) (Result, error) {
	known := knownProcesses(processes, dataProcess, targetProcess)
	var data, target *hist.Hist1D
	var others []*hist.Hist1D
	for _, h := range hists {
		n, err := histname.ParseWithProcesses(h.Name, known)
		if err != nil {
			n, err = histname.Parse(h.Name)
		}
		if err != nil {
			log.Warn().Str("hist", h.Name).Msg("skipping histogram with unconventional name")
			continue
		}
		switch n.Process {
		case dataProcess:
			if data != nil {
				return Result{}, fmt.Errorf("rescale: data process %q has two histograms, %q and %q", dataProcess, data.Name, h.Name)
			}
			data = h
		case targetProcess:
			if target != nil {
				return Result{}, fmt.Errorf("rescale: process %q has two histograms, %q and %q", targetProcess, target.Name, h.Name)
			}
			target = h
		default:
			others = append(others, h)
		}
	}
	if data == nil {
		return Result{}, fmt.Errorf("rescale: no histogram for data process %q", dataProcess)
	}
	if target == nil {
		return Result{}, fmt.Errorf("rescale: no histogram for process %q", targetProcess)
	}
	return Factor(data, target, others)
}

// Apply scales every histogram of process by factor and returns how many
// matched. A histogram matches when its name parses to exactly process given
// the known processes, so TTZ leaves TTZ_other alone when both are known.
func Apply(hists []*hist.Hist1D, process string, processes []string, factor float64) int {
	known := knownProcesses(processes, process)
	n := 0
	for _, h := range hists {
		name, err := histname.ParseWithProcesses(h.Name, known)
		if err != nil || name.Process != process {
			continue
		}
		h.Scale(factor)
		n++
	}
	if n == 0 {
		log.Warn().Str("process", process).Msg("no histograms to rescale")
	}
	return n
}

func knownProcesses(processes []string, extra ...string) []string {
	out := append([]string(nil), processes...)
	for _, p := range extra {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
