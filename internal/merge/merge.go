// Package merge combines the histogram files written by the event-loop jobs,
// either through ROOT's hadd or natively, with optional process renaming and
// negative-bin clipping.
package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/hist"
	"github.com/decibelcooper/cmsana/internal/histname"
	"github.com/decibelcooper/cmsana/internal/runner"
	"github.com/decibelcooper/cmsana/internal/samples"
)

type Merger interface {
	Merge(ctx context.Context, output string, inputs []string) error
}

func checkInputs(op, output string, inputs []string) error {
	if len(inputs) == 0 {
		return anaerr.Invalid(op, output, "no input files")
	}
	for _, in := range inputs {
		if _, err := os.Stat(in); err != nil {
			return anaerr.NotFound(op, in, err)
		}
	}
	return nil
}

// Hadd merges through ROOT's hadd executable.
type Hadd struct {
	Runner runner.Runner
	Force  bool
}

func (h Hadd) Merge(ctx context.Context, output string, inputs []string) error {
	if err := checkInputs("merge.hadd", output, inputs); err != nil {
		return err
	}
	args := make([]string, 0, len(inputs)+2)
	if h.Force {
		args = append(args, "-f")
	}
	args = append(args, output)
	args = append(args, inputs...)
	if _, err := h.Runner.Run(ctx, "hadd", args...); err != nil {
		return fmt.Errorf("hadd %s: %w", output, err)
	}
	return nil
}

type Options struct {
	Selector histname.Selector
	// Rename maps a process name to the process it is merged into.
	Rename map[string]string
	Clip   bool
}

// Native merges histogram files in process: histograms with the same name
// (after renaming) are summed across and within files.
type Native struct {
	Options Options
}

func (n Native) Merge(ctx context.Context, output string, inputs []string) error {
	if err := checkInputs("merge.native", output, inputs); err != nil {
		return err
	}

	sums := make(map[string]*hist.Hist1D)
	var order []string
	expected := -1
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		hists, err := hist.ReadFile(in, n.Options.Selector)
		if err != nil {
			return err
		}
		if expected >= 0 && len(hists) != expected {
			log.Warn().Str("file", in).Int("expected", expected).Int("found", len(hists)).Msg("histogram count differs between inputs")
		}
		if expected < 0 {
			expected = len(hists)
		}
		for _, h := range hists {
			h.Name = RenameProcesses(h.Name, n.Options.Rename)
			if prev, ok := sums[h.Name]; ok {
				if err := prev.Add(h, 1); err != nil {
					return anaerr.Invalid("merge.native", in, "%v", err)
				}
				continue
			}
			sums[h.Name] = h
			order = append(order, h.Name)
		}
	}

	out := make([]*hist.Hist1D, 0, len(order))
	clipped := 0
	for _, name := range order {
		h := sums[name]
		if n.Options.Clip {
			clipped += h.ClipNegative()
		}
		out = append(out, h)
	}
	if clipped > 0 {
		log.Info().Str("output", output).Int("bins", clipped).Msg("clipped negative bins")
	}
	return hist.WriteFile(output, out)
}

// RenameProcesses applies the first rename rule whose source process leads name.
// Longer source names are tried first so TTZ_other wins over TTZ.
func RenameProcesses(name string, rename map[string]string) string {
	if len(rename) == 0 {
		return name
	}
	from := make([]string, 0, len(rename))
	for k := range rename {
		from = append(from, k)
	}
	sort.Slice(from, func(i, j int) bool {
		if len(from[i]) != len(from[j]) {
			return len(from[i]) > len(from[j])
		}
		return from[i] < from[j]
	})
	for _, f := range from {
		if renamed, ok := histname.RenameProcess(name, f, rename[f]); ok {
			return renamed
		}
	}
	return name
}

// ParseRename reads rules of the form "from=to".
func ParseRename(rules []string) (map[string]string, error) {
	out := make(map[string]string, len(rules))
	for _, rule := range rules {
		from, to, ok := strings.Cut(rule, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("bad rename rule %q, want from=to", rule)
		}
		out[from] = to
	}
	return out, nil
}

type Step struct {
	Output string
	Inputs []string
}

// PlanByProcess groups job outputs in dir by the process of the sample whose
// short name they start with. Files matching no sample are returned separately.
func PlanByProcess(files []string, list []samples.Sample, outdir string) ([]Step, []string) {
	matched, unmatched := matchSamples(files, list)
	byProcess := make(map[string][]string)
	for _, m := range matched {
		byProcess[m.sample.Process] = append(byProcess[m.sample.Process], m.file)
	}
	return stepsFor(byProcess, outdir), unmatched
}

// unknownYear holds samples without a recognised campaign tag when other
// years are present.
const unknownYear = "unknown"

// Plan merges per process and year into outdir/<year>/<process>.root. With
// combined set, every year is then merged into outdir/<year>/<combined> and,
// when there are several years, those into outdir/<combined>. Samples without a
// recognised year go straight into outdir when they are alone, and into
// outdir/unknown otherwise.
func Plan(files []string, list []samples.Sample, outdir, combined string) ([]Step, []string) {
	matched, unmatched := matchSamples(files, list)
	byYear := make(map[string]map[string][]string)
	for _, m := range matched {
		y := m.sample.Year()
		if byYear[y] == nil {
			byYear[y] = make(map[string][]string)
		}
		byYear[y][m.sample.Process] = append(byYear[y][m.sample.Process], m.file)
	}
	years := make([]string, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Strings(years)

	var steps, finals []Step
	for _, y := range years {
		dir := y
		if y == "" && len(years) > 1 {
			// Untagged samples must not land on the all-years output.
			dir = unknownYear
		}
		perProcess := stepsFor(byYear[y], filepath.Join(outdir, dir))
		steps = append(steps, perProcess...)
		if combined == "" {
			continue
		}
		final := Step{Output: filepath.Join(outdir, dir, combined)}
		for _, s := range perProcess {
			final.Inputs = append(final.Inputs, s.Output)
		}
		finals = append(finals, final)
	}
	steps = append(steps, finals...)
	if len(finals) > 1 {
		all := Step{Output: filepath.Join(outdir, combined)}
		for _, f := range finals {
			all.Inputs = append(all.Inputs, f.Output)
		}
		steps = append(steps, all)
	}
	return steps, unmatched
}

type match struct {
	file   string
	sample samples.Sample
}

func matchSamples(files []string, list []samples.Sample) ([]match, []string) {
	// Longest short names first so "TTZToLL_M-1to10" is not claimed by "TTZToLL".
	sorted := append([]samples.Sample(nil), list...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].ShortName()) > len(sorted[j].ShortName()) })

	var matched []match
	var unmatched []string
	for _, f := range files {
		base := filepath.Base(f)
		found := false
		for _, s := range sorted {
			if strings.HasPrefix(base, s.ShortName()) {
				matched = append(matched, match{file: f, sample: s})
				found = true
				break
			}
		}
		if !found {
			unmatched = append(unmatched, f)
		}
	}
	return matched, unmatched
}

func stepsFor(byProcess map[string][]string, outdir string) []Step {
	processes := make([]string, 0, len(byProcess))
	for p := range byProcess {
		processes = append(processes, p)
	}
	sort.Strings(processes)
	steps := make([]Step, 0, len(processes))
	for _, p := range processes {
		steps = append(steps, Step{Output: filepath.Join(outdir, p+".root"), Inputs: byProcess[p]})
	}
	return steps
}

// Glob lists the .root files directly inside dir.
func Glob(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, anaerr.NotFound("merge.glob", dir, err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.root"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

type Report struct {
	Output string
	Inputs int
	Size   uint64
}

func (r Report) String() string {
	return fmt.Sprintf("%s (%d inputs, %s)", r.Output, r.Inputs, humanize.Bytes(r.Size))
}

// Run executes the steps in order, creating output directories as needed.
func Run(ctx context.Context, m Merger, steps []Step) ([]Report, error) {
	reports := make([]Report, 0, len(steps))
	for _, step := range steps {
		if err := os.MkdirAll(filepath.Dir(step.Output), 0o755); err != nil {
			return reports, err
		}
		if err := m.Merge(ctx, step.Output, step.Inputs); err != nil {
			return reports, err
		}
		r := Report{Output: step.Output, Inputs: len(step.Inputs)}
		if info, err := os.Stat(step.Output); err == nil {
			r.Size = uint64(info.Size())
		}
		log.Info().Str("output", r.Output).Int("inputs", r.Inputs).Str("size", humanize.Bytes(r.Size)).Msg("merged")
		reports = append(reports, r)
	}
	return reports, nil
}
