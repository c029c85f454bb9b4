package commands

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/hist"
	"github.com/decibelcooper/cmsana/internal/histname"
	"github.com/decibelcooper/cmsana/internal/plotting"
	"github.com/decibelcooper/cmsana/internal/variables"
)

// plotFlags are shared by the plot subcommands.
type plotFlags struct {
	input     string
	outputDir string
	region    string
	selType   string
	vars      []string
	varsFile  string
	format    string
	logY      bool
	rebin     floatList
	label     string
	lumi      string

	set   variables.Set
	hists map[string]*hist.Hist1D
}

func (f *plotFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.input, "input", "i", "", "merged histogram file")
	fs.StringVar(&f.outputDir, "outputdir", "plots", "directory receiving the figures")
	fs.StringVar(&f.region, "region", "", "region to plot")
	fs.StringVar(&f.selType, "selection-type", "", "selection type to plot")
	fs.StringSliceVar(&f.vars, "variable", nil, "variables to plot (default every variable of --variables)")
	fs.StringVar(&f.varsFile, "variables", "", "variables JSON file, for axis titles")
	fs.StringVar(&f.format, "format", "png", "figure format: png, pdf, svg, eps, jpg")
	fs.BoolVar(&f.logY, "logy", false, "logarithmic y axis")
	fs.Var(&f.rebin, "rebin", "new bin edges, comma separated")
	fs.StringVar(&f.label, "label", "CMS Preliminary", "experiment label")
	fs.StringVar(&f.lumi, "lumi", "", "luminosity label, e.g. \"59.7 fb^{-1} (13 TeV)\"")
}

// load reads the histograms and works out which variables to plot.
func (f *plotFlags) load() error {
	if f.input == "" || f.region == "" || f.selType == "" {
		return anaerr.Invalid("plot", "", "--input, --region and --selection-type are required")
	}
	if f.varsFile != "" {
		set, err := variables.Read(f.varsFile)
		if err != nil {
			return err
		}
		f.set = set
	}
	if len(f.vars) == 0 {
		f.vars = f.set.Names()
	}
	if len(f.vars) == 0 {
		return anaerr.Invalid("plot", "", "give --variable or --variables")
	}
	if err := plotting.CheckOutput("x." + f.format); err != nil {
		return err
	}

	list, err := hist.ReadFile(f.input, histname.Selector{MustContainAll: []string{"_" + f.region + "_" + f.selType + "_"}})
	if err != nil {
		return err
	}
	f.hists = make(map[string]*hist.Hist1D, len(list))
	for _, h := range list {
		f.hists[h.Name] = h
	}
	return nil
}

// get returns the histogram of process, variable and systematic, rebinned when
// asked. Missing histograms give nil.
func (f *plotFlags) get(process, variable, systematic string) (*hist.Hist1D, error) {
	base := histname.Name{Region: f.region, SelectionType: f.selType, Variable: variable}
	h, ok := f.hists[base.WithProcess(process).WithSystematic(systematic).String()]
	if !ok {
		return nil, nil
	}
	if len(f.rebin.Values) > 0 {
		return h.Rebin(f.rebin.Values)
	}
	return h.Clone(), nil
}

func (f *plotFlags) style(variable string) plotting.Style {
	s := plotting.Style{XLabel: variable, YLabel: "Events", Label: f.label, Lumi: f.lumi, LogY: f.logY}
	if v, ok := f.set.Find(variable); ok {
		s.XLabel = v.AxisTitle()
	}
	return s
}

func (f *plotFlags) output(parts ...string) string {
	name := f.region + "_" + f.selType
	for _, p := range parts {
		name += "_" + p
	}
	return filepath.Join(f.outputDir, name+"."+f.format)
}

func plotCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "plot",
		Short: "Draw histograms from a merged file",
	}
	c.AddCommand(plotStackCmd(), plotVariationsCmd(), plotOverlayCmd())
	return c
}

func plotStackCmd() *cobra.Command {
	var (
		f           plotFlags
		backgrounds []string
		signals     []string
		data        string
		ratioRange  floatList
	)

	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Stacked backgrounds with signals, data and a data/prediction panel",
		RunE: func(_ *cobra.Command, _ []string) error {
			if len(backgrounds) == 0 {
				return anaerr.Invalid("plot.stack", "", "--backgrounds is required")
			}
			if n := len(ratioRange.Values); n != 0 && n != 2 {
				return anaerr.Invalid("plot.stack", "", "--ratio-range takes two values")
			}
			if err := f.load(); err != nil {
				return err
			}
			for _, v := range f.vars {
				opts := plotting.StackOptions{Style: f.style(v)}
				if len(ratioRange.Values) == 2 {
					opts.RatioMin, opts.RatioMax = ratioRange.Values[0], ratioRange.Values[1]
				}
				entries := func(processes []string) ([]plotting.Entry, error) {
					var out []plotting.Entry
					for _, p := range processes {
						h, err := f.get(p, v, "nominal")
						if err != nil {
							return nil, err
						}
						if h == nil {
							log.Warn().Str("process", p).Str("variable", v).Msg("no histogram, left out")
							continue
						}
						out = append(out, plotting.Entry{Label: p, Hist: h})
					}
					return out, nil
				}
				var err error
				if opts.Backgrounds, err = entries(backgrounds); err != nil {
					return err
				}
				if len(opts.Backgrounds) == 0 {
					log.Warn().Str("variable", v).Msg("no background histograms, skipping")
					continue
				}
				if opts.Signals, err = entries(signals); err != nil {
					return err
				}
				if data != "" {
					d, err := entries([]string{data})
					if err != nil {
						return err
					}
					if len(d) == 1 {
						opts.Data = &d[0]
					}
				}
				out := f.output(v)
				if err := plotting.Stack(opts, out); err != nil {
					return err
				}
				fmt.Println(out)
			}
			return nil
		},
	}

	f.register(cmd.Flags())
	cmd.Flags().StringSliceVar(&backgrounds, "backgrounds", nil, "background processes, bottom of the stack first")
	cmd.Flags().StringSliceVar(&signals, "signals", nil, "signal processes drawn as lines")
	cmd.Flags().StringVar(&data, "data", "data", "data process; empty for no data")
	cmd.Flags().Var(&ratioRange, "ratio-range", "lower and upper bound of the ratio panel")
	return cmd
}

func plotVariationsCmd() *cobra.Command {
	var (
		f           plotFlags
		processes   []string
		systematics []string
		envelope    string
		members     []string
		rms         bool
	)

	cmd := &cobra.Command{
		Use:   "variations",
		Short: "Nominal shape against its up and down variations",
		Long: "Draw each systematic's Up and Down histograms against the nominal. With --envelope\n" +
			"the members are folded into one band, bin-wise min/max or nominal -/+ RMS with --rms.",
		RunE: func(_ *cobra.Command, _ []string) error {
			if len(processes) == 0 || (len(systematics) == 0 && envelope == "") {
				return anaerr.Invalid("plot.variations", "", "--processes and --systematics or --envelope are required")
			}
			if envelope != "" && len(members) == 0 {
				return anaerr.Invalid("plot.variations", "", "--envelope needs --members")
			}
			if err := f.load(); err != nil {
				return err
			}
			draw := func(v, p, sys string, nominal, up, down *hist.Hist1D) error {
				style := f.style(v)
				style.Title = p
				out := f.output(v, p, sys)
				err := plotting.Variations(plotting.VariationOptions{
					Style: style, Systematic: sys, Nominal: nominal, Up: up, Down: down,
				}, out)
				if err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			}

			for _, v := range f.vars {
				for _, p := range processes {
					nominal, err := f.get(p, v, "nominal")
					if err != nil {
						return err
					}
					if nominal == nil {
						log.Warn().Str("process", p).Str("variable", v).Msg("no nominal histogram, skipping")
						continue
					}
					for _, sys := range systematics {
						up, err := f.get(p, v, sys+string(histname.Up))
						if err != nil {
							return err
						}
						down, err := f.get(p, v, sys+string(histname.Down))
						if err != nil {
							return err
						}
						if up == nil {
							log.Warn().Str("process", p).Str("systematic", sys).Msg("no up variation, skipping")
							continue
						}
						if err := draw(v, p, sys, nominal, up, down); err != nil {
							return err
						}
					}
					if envelope == "" {
						continue
					}
					var varied []*hist.Hist1D
					for _, m := range members {
						h, err := f.get(p, v, m)
						if err != nil {
							return err
						}
						if h == nil {
							log.Warn().Str("process", p).Str("member", m).Msg("envelope member missing")
							continue
						}
						varied = append(varied, h)
					}
					if len(varied) == 0 {
						continue
					}
					fold := hist.Envelope
					if rms {
						fold = hist.RMSEnvelope
					}
					down, up, err := fold(nominal, varied)
					if err != nil {
						return err
					}
					if err := draw(v, p, envelope, nominal, up, down); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}

	f.register(cmd.Flags())
	cmd.Flags().StringSliceVar(&processes, "processes", nil, "processes to draw")
	cmd.Flags().StringSliceVar(&systematics, "systematics", nil, "systematics, without the Up/Down suffix")
	cmd.Flags().StringVar(&envelope, "envelope", "", "name of a band built from --members")
	cmd.Flags().StringSliceVar(&members, "members", nil, "full systematic names folded into the envelope, e.g. qcdScalesShape0")
	cmd.Flags().BoolVar(&rms, "rms", false, "fold the envelope members as nominal -/+ RMS (PDF replicas)")
	return cmd
}

func plotOverlayCmd() *cobra.Command {
	var (
		f         plotFlags
		processes []string
		normalize bool
	)

	cmd := &cobra.Command{
		Use:   "overlay",
		Short: "Compare the shapes of several processes",
		RunE: func(_ *cobra.Command, _ []string) error {
			if len(processes) == 0 {
				return anaerr.Invalid("plot.overlay", "", "--processes is required")
			}
			if err := f.load(); err != nil {
				return err
			}
			for _, v := range f.vars {
				opts := plotting.OverlayOptions{Style: f.style(v), Normalize: normalize}
				if normalize {
					opts.YLabel = ""
				}
				for _, p := range processes {
					h, err := f.get(p, v, "nominal")
					if err != nil {
						return err
					}
					if h != nil {
						opts.Entries = append(opts.Entries, plotting.Entry{Label: p, Hist: h})
					}
				}
				if len(opts.Entries) == 0 {
					log.Warn().Str("variable", v).Msg("no histograms, skipping")
					continue
				}
				out := f.output(v, "overlay")
				if err := plotting.Overlay(opts, out); err != nil {
					return err
				}
				fmt.Println(out)
			}
			return nil
		},
	}

	f.register(cmd.Flags())
	cmd.Flags().StringSliceVar(&processes, "processes", nil, "processes to compare")
	cmd.Flags().BoolVar(&normalize, "normalize", true, "scale every shape to unit area")
	return cmd
}
