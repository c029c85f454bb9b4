package commands

import (
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/histname"
	"github.com/decibelcooper/cmsana/internal/samples"
)

// floatList collects floats from repeated or comma separated flag values. The
// first Set replaces the default.
type floatList struct {
	Values  []float64
	beenSet bool
}

var _ pflag.Value = (*floatList)(nil)

func (f *floatList) Set(raw string) error {
	if !f.beenSet {
		f.beenSet = true
		f.Values = nil
	}
	for _, part := range strings.Split(raw, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return err
		}
		f.Values = append(f.Values, v)
	}
	return nil
}

func (f *floatList) String() string {
	parts := make([]string, len(f.Values))
	for i, v := range f.Values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (f *floatList) Type() string { return "floats" }

// common holds the flags every analysis tool takes.
type common struct {
	inputDir       string
	sampleLists    []string
	outputDir      string
	eventSelection []string
	runMode        string
}

func (c *common) register(fs *pflag.FlagSet, withRunMode bool) {
	fs.StringVar(&c.inputDir, "inputdir", "", "directory holding the input files")
	fs.StringSliceVar(&c.sampleLists, "samplelist", nil, "sample list file(s)")
	fs.StringVar(&c.outputDir, "outputdir", "", "output directory")
	fs.StringSliceVar(&c.eventSelection, "event_selection", nil, "region name(s), from the campaign or literal selections")
	if withRunMode {
		fs.StringVar(&c.runMode, "runmode", "condor", "condor or local")
	}
}

func (c *common) validRunMode() error {
	switch c.runMode {
	case "condor", "local":
		return nil
	}
	return anaerr.Invalid("flags", "", "--runmode must be condor or local, got %q", c.runMode)
}

// readSamples loads the sample lists, resolving paths against --inputdir when given.
func (c *common) readSamples() ([]samples.Sample, error) {
	if len(c.sampleLists) == 0 {
		return nil, anaerr.Invalid("flags", "", "--samplelist is required")
	}
	list, err := samples.ReadAll(c.sampleLists, true)
	if err != nil {
		return nil, err
	}
	if c.inputDir != "" {
		return samples.Resolve(c.inputDir, list)
	}
	return list, nil
}

// selectorFlags are the four histogram name filters.
type selectorFlags struct {
	sel histname.Selector
}

func (s *selectorFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceVar(&s.sel.MustContainOne, "mustcontainone", nil, "keep histograms containing at least one of these")
	fs.StringSliceVar(&s.sel.MustContainAll, "mustcontainall", nil, "keep histograms containing all of these")
	fs.StringSliceVar(&s.sel.MayNotContainOne, "maynotcontainone", nil, "drop histograms containing any of these")
	fs.StringSliceVar(&s.sel.MayNotContainAll, "maynotcontainall", nil, "drop histograms containing all of these")
}

// parseAssignments reads repeated key=value flags.
func parseAssignments(flag string, raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, r := range raw {
		k, v, ok := strings.Cut(r, "=")
		if !ok || k == "" || v == "" {
			return nil, anaerr.Invalid("flags", "", "--%s expects key=value, got %q", flag, r)
		}
		out[k] = v
	}
	return out, nil
}

func sortedNames(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
