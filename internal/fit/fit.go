// Package fit drives the combine tool: datacards become workspaces, and
// workspaces are fitted for signal strengths or significances.
package fit

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/runner"
)

const multiSignalModel = "HiggsAnalysis.CombinedLimit.PhysicsModel:multiSignalModel"

type Method string

const (
	MultiDimFit    Method = "MultiDimFit"
	FitDiagnostics Method = "FitDiagnostics"
	Significance   Method = "Significance"
)

func ParseMethod(s string) (Method, error) {
	for _, m := range []Method{MultiDimFit, FitDiagnostics, Significance} {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", anaerr.Invalid("fit", "", "unknown method %q", s)
}

// POI is a signal strength scaling the listed processes.
type POI struct {
	Name      string
	Processes []string
	Init      float64
	Min, Max  float64
}

// ParsePOI reads "name=proc1,proc2" with the default range [0, 10] and initial value 1,
// or "name=proc1,proc2:init,min,max".
func ParsePOI(s string) (POI, error) {
	name, rest, ok := strings.Cut(s, "=")
	if !ok || name == "" || rest == "" {
		return POI{}, anaerr.Invalid("fit.poi", "", "expected name=process[,process...][:init,min,max], got %q", s)
	}
	procs, rng, hasRange := strings.Cut(rest, ":")
	p := POI{Name: name, Processes: strings.Split(procs, ","), Init: 1, Min: 0, Max: 10}
	if hasRange {
		fields := strings.Split(rng, ",")
		if len(fields) != 3 {
			return POI{}, anaerr.Invalid("fit.poi", "", "range of %s needs init,min,max", name)
		}
		vals := make([]float64, 3)
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return POI{}, anaerr.Invalid("fit.poi", "", "range of %s: %v", name, err)
			}
			vals[i] = v
		}
		p.Init, p.Min, p.Max = vals[0], vals[1], vals[2]
	}
	if p.Min >= p.Max || p.Init < p.Min || p.Init > p.Max {
		return POI{}, anaerr.Invalid("fit.poi", "", "invalid range for %s: init %g in [%g, %g]", name, p.Init, p.Min, p.Max)
	}
	for _, proc := range p.Processes {
		if proc == "" {
			return POI{}, anaerr.Invalid("fit.poi", "", "empty process name in %q", s)
		}
	}
	return p, nil
}

// mapOption renders the multiSignalModel mapping of a POI.
func (p POI) mapOption() string {
	procs := p.Processes[0]
	if len(p.Processes) > 1 {
		procs = "(" + strings.Join(p.Processes, "|") + ")"
	}
	return fmt.Sprintf("map=.*/%s:%s[%g,%g,%g]", procs, p.Name, p.Init, p.Min, p.Max)
}

// Workspace converts card into a workspace with text2workspace.py and returns
// its path. Without POIs the default single signal strength r is used.
func Workspace(ctx context.Context, r runner.Runner, card, output string, pois []POI) (string, error) {
	const op = "fit.workspace"
	if _, err := os.Stat(card); err != nil {
		return "", anaerr.NotFound(op, card, err)
	}
	if output == "" {
		output = strings.TrimSuffix(card, ".txt") + ".root"
	}
	args := []string{card, "-o", output}
	if len(pois) > 0 {
		args = append(args, "-P", multiSignalModel)
		for _, p := range pois {
			args = append(args, "--PO", p.mapOption())
		}
	}
	if _, err := r.Run(ctx, "text2workspace.py", args...); err != nil {
		return "", fmt.Errorf("text2workspace.py %s: %w", card, err)
	}
	return output, nil
}

type Options struct {
	Method Method
	// Expected fits the Asimov dataset with every POI set to 1.
	Expected bool
	// POIs to report; empty means the default r.
	POIs []string
	// Name is the -n suffix of the combine output files.
	Name  string
	Extra []string
}

func (o Options) args(ws string) []string {
	method := o.Method
	if method == "" {
		method = MultiDimFit
	}
	args := []string{"-M", string(method), ws}
	if o.Name != "" {
		args = append(args, "-n", o.Name)
	}
	pois := o.POIs
	if len(pois) == 0 {
		pois = []string{"r"}
	}
	if len(o.POIs) > 0 {
		args = append(args, "--redefineSignalPOIs", strings.Join(pois, ","))
	}
	if o.Expected {
		args = append(args, "-t", "-1")
		set := make([]string, len(pois))
		for i, p := range pois {
			set[i] = p + "=1"
		}
		args = append(args, "--setParameters", strings.Join(set, ","))
	}
	if method == MultiDimFit {
		args = append(args, "--algo", "singles")
	}
	return append(args, o.Extra...)
}

// SignalStrength runs combine on a workspace and parses the fitted values, or
// the significance, from its output.
func SignalStrength(ctx context.Context, r runner.Runner, ws string, opts Options) (Result, error) {
	const op = "fit.combine"
	if _, err := os.Stat(ws); err != nil {
		return Result{}, anaerr.NotFound(op, ws, err)
	}
	res, err := r.Run(ctx, "combine", opts.args(ws)...)
	if err != nil {
		return Result{}, fmt.Errorf("combine %s: %w", ws, err)
	}
	out := ParseOutput(string(res.Stdout))
	out.Method = opts.Method
	if out.Method == "" {
		out.Method = MultiDimFit
	}
	out.Expected = opts.Expected
	if out.Empty() {
		return out, anaerr.Execution(op, fmt.Errorf("no fit result in combine output for %s", ws))
	}
	for _, e := range out.Estimates {
		log.Info().Str("poi", e.Name).Float64("value", e.Value).Float64("down", e.Down).Float64("up", e.Up).Bool("expected", opts.Expected).Msg("fit result")
	}
	if out.HasSignificance {
		log.Info().Float64("significance", out.Significance).Bool("expected", opts.Expected).Msg("fit result")
	}
	return out, nil
}
