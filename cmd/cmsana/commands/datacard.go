package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/datacard"
	"github.com/decibelcooper/cmsana/internal/runner"
)

// cardFlags fill the datacard.BuildOptions shared by make and sweep.
type cardFlags struct {
	input       string
	outputDir   string
	selType     string
	signals     []string
	backgrounds []string
	data        string
	asimov      bool
	clip        bool
	catalogPath string
	autoMCStats int
	nominal     string
	systematic  string
}

func (f *cardFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.input, "input", "i", "", "merged histogram file")
	fs.StringVar(&f.outputDir, "outputdir", "datacards", "directory receiving cards and shapes")
	fs.StringVar(&f.selType, "selection-type", "", "selection type of the histograms")
	fs.StringSliceVar(&f.signals, "signals", nil, "signal processes")
	fs.StringSliceVar(&f.backgrounds, "backgrounds", nil, "background processes")
	fs.StringVar(&f.data, "data", "data", "process name of the observed data")
	fs.BoolVar(&f.asimov, "asimov", false, "use the sum of all processes as observation")
	fs.BoolVar(&f.clip, "clip", true, "set negative bins of the shapes to zero")
	fs.StringVar(&f.catalogPath, "systematics", "", "YAML catalog of normalisation systematics and rate parameters")
	fs.IntVar(&f.autoMCStats, "automcstats", 10, "autoMCStats threshold; negative disables it")
	fs.StringVar(&f.nominal, "shapes-nominal", datacard.DefaultNominalPattern, "shape name pattern of nominal histograms")
	fs.StringVar(&f.systematic, "shapes-systematic", datacard.DefaultSystematicPattern, "shape name pattern of varied histograms")
}

func (f *cardFlags) options() (datacard.BuildOptions, error) {
	if f.input == "" || f.selType == "" {
		return datacard.BuildOptions{}, anaerr.Invalid("datacard", "", "--input and --selection-type are required")
	}
	if len(f.signals) == 0 {
		return datacard.BuildOptions{}, anaerr.Invalid("datacard", "", "--signals is required")
	}
	opts := datacard.BuildOptions{
		SelectionType:     f.selType,
		Signals:           f.signals,
		Backgrounds:       f.backgrounds,
		DataProcess:       f.data,
		Asimov:            f.asimov,
		ClipNegative:      f.clip,
		AutoMCStats:       f.autoMCStats,
		NominalPattern:    f.nominal,
		SystematicPattern: f.systematic,
	}
	if f.catalogPath != "" {
		catalog, err := datacard.LoadCatalog(f.catalogPath)
		if err != nil {
			return datacard.BuildOptions{}, err
		}
		opts.Catalog = catalog
	}
	return opts, nil
}

func datacardCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "datacard",
		Short: "Write combine datacards and shapes files",
	}
	c.AddCommand(datacardMakeCmd(), datacardSweepCmd(), datacardCombineCmd())
	return c
}

func datacardMakeCmd() *cobra.Command {
	var (
		f        cardFlags
		region   string
		variable string
		year     string
		channel  string
	)

	cmd := &cobra.Command{
		Use:   "make",
		Short: "Write the card of one region and variable",
		RunE: func(_ *cobra.Command, _ []string) error {
			if region == "" || variable == "" {
				return anaerr.Invalid("datacard.make", "", "--region and --variable are required")
			}
			opts, err := f.options()
			if err != nil {
				return err
			}
			opts.Region, opts.Variable, opts.Year, opts.Channel = region, variable, year, channel
			w, err := datacard.Make(f.input, opts, f.outputDir)
			if err != nil {
				return err
			}
			fmt.Println(w.Card)
			return nil
		},
	}

	f.register(cmd.Flags())
	cmd.Flags().StringVar(&region, "region", "", "signal or control region")
	cmd.Flags().StringVar(&variable, "variable", "", "fitted variable")
	cmd.Flags().StringVar(&year, "year", "", "year, selecting year-specific systematics")
	cmd.Flags().StringVar(&channel, "channel", "", "channel name (default <region>_<variable>[_<year>])")
	return cmd
}

func datacardSweepCmd() *cobra.Command {
	var (
		f         cardFlags
		regions   []string
		variables []string
		years     []string
		combined  string
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Write one card per region, variable and year",
		Long: "Write one card per region, variable and year. With several years the input path\n" +
			"must contain " + datacard.YearPlaceholder + ", replaced by each year in turn.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}
			written, err := datacard.Sweep(datacard.SweepOptions{
				Template:  opts,
				Input:     f.input,
				OutputDir: f.outputDir,
				Variables: variables,
				Regions:   regions,
				Years:     years,
			})
			for _, w := range written {
				fmt.Println(w.Card)
			}
			if err != nil {
				return err
			}
			if combined == "" {
				return nil
			}
			return combineWritten(cmd, written, filepath.Join(f.outputDir, combined))
		},
	}

	f.register(cmd.Flags())
	cmd.Flags().StringSliceVar(&regions, "regions", nil, "regions")
	cmd.Flags().StringSliceVar(&variables, "variables", nil, "fitted variables")
	cmd.Flags().StringSliceVar(&years, "years", nil, "years")
	cmd.Flags().StringVar(&combined, "combine", "", "also combine every card into this file in --outputdir")
	return cmd
}

// datacard combine ch1=card1.txt ch2=card2.txt
func datacardCombineCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "combine <channel=card>...",
		Short: "Combine cards into one through combineCards.py",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return anaerr.Invalid("datacard.combine", "", "--output is required")
			}
			named, err := parseAssignments("channel=card", args)
			if err != nil {
				return err
			}
			cards := make([]datacard.Written, 0, len(named))
			for _, ch := range sortedNames(named) {
				cards = append(cards, datacard.Written{Channel: ch, Card: named[ch]})
			}
			return combineWritten(cmd, cards, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "combined card")
	return cmd
}

func combineWritten(cmd *cobra.Command, cards []datacard.Written, output string) error {
	if dryRun {
		args := make([]string, 0, len(cards))
		for _, c := range cards {
			args = append(args, c.Channel+"="+c.Card)
		}
		fmt.Println(runner.JoinCommand("combineCards.py", args), ">", output)
		return nil
	}
	r, err := newRunner()
	if err != nil {
		return err
	}
	if err := datacard.CombineCards(cmd.Context(), r, cards, output); err != nil {
		return err
	}
	fmt.Println(output)
	return nil
}
