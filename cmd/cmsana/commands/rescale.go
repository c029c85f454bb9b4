package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/hist"
	"github.com/decibelcooper/cmsana/internal/histname"
	"github.com/decibelcooper/cmsana/internal/rescale"
	"github.com/decibelcooper/cmsana/internal/samples"
)

// rescale: normalise a process to data in a control region and write the
// scaled histograms to a new file.
func rescaleCmd() *cobra.Command {
	var (
		input, output string
		process       string
		dataProcess   string
		region        string
		selType       string
		variable      string
		factor        float64
		sampleLists   []string
		processes     []string
	)

	cmd := &cobra.Command{
		Use:   "rescale",
		Short: "Scale a process by its data/simulation ratio in a control region",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input == "" || output == "" || process == "" {
				return anaerr.Invalid("rescale", "", "--input, --output and --process are required")
			}
			if len(sampleLists) > 0 {
				list, err := samples.ReadAll(sampleLists, true)
				if err != nil {
					return err
				}
				processes = append(processes, samples.Processes(list)...)
			}
			hists, err := hist.ReadFile(input, histname.Selector{})
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("factor") {
				if region == "" || variable == "" {
					return anaerr.Invalid("rescale", input, "--region and --variable are required without --factor")
				}
				var control []*hist.Hist1D
				for _, h := range hists {
					n, err := histname.ParseWithProcesses(h.Name, processes)
					if err != nil {
						n, err = histname.Parse(h.Name)
					}
					if err != nil {
						continue
					}
					if n.Region == region && n.Variable == variable && n.Systematic == "nominal" &&
						(selType == "" || n.SelectionType == selType) {
						control = append(control, h)
					}
				}
				res, err := rescale.FactorFromNames(control, dataProcess, process, processes)
				if err != nil {
					if selType == "" {
						return anaerr.Invalid("rescale", input, "%v (try --selection-type)", err)
					}
					return anaerr.Invalid("rescale", input, "%v", err)
				}
				factor = res.Factor
				log.Info().Str("process", process).Str("region", region).Float64("factor", res.Factor).Float64("error", res.Error).Msg("derived scale factor")
				fmt.Printf("%s: %.4f +- %.4f\n", process, res.Factor, res.Error)
			}

			n := rescale.Apply(hists, process, processes, factor)
			if n == 0 {
				return anaerr.NotFound("rescale", input, fmt.Errorf("no histograms for process %q", process))
			}
			if dryRun {
				fmt.Printf("would write %d histograms (%d scaled) to %s\n", len(hists), n, output)
				return nil
			}
			return hist.WriteFile(output, hists)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "merged histogram file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file receiving all histograms, rescaled")
	cmd.Flags().StringVar(&process, "process", "", "process to rescale")
	cmd.Flags().StringVar(&dataProcess, "data", "data", "process name of the observed data")
	cmd.Flags().StringVar(&region, "region", "", "control region")
	cmd.Flags().StringVar(&selType, "selection-type", "", "selection type in the control region (default any)")
	cmd.Flags().StringVar(&variable, "variable", "", "variable whose integrals give the factor")
	cmd.Flags().Float64Var(&factor, "factor", 1, "apply this factor instead of deriving one")
	cmd.Flags().StringSliceVar(&sampleLists, "samplelist", nil, "sample list(s) naming the processes in the file")
	cmd.Flags().StringSliceVar(&processes, "processes", nil, "process names in the file, for names containing underscores")
	return cmd
}
