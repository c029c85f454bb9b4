package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/condor"
	"github.com/decibelcooper/cmsana/internal/jobs"
	"github.com/decibelcooper/cmsana/internal/ledger"
	"github.com/decibelcooper/cmsana/internal/runner"
)

// submit: expand an executable over samples, regions and years and run the
// resulting event loops on condor or locally.
func submitCmd() *cobra.Command {
	var (
		flags       common
		executable  string
		varsFile    string
		systematics []string
		years       []string
		parallel    int
		keepGoing   bool
		chunk       int
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Run an event-loop executable over a sample list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flags.validRunMode(); err != nil {
				return err
			}
			exe, ok := campaign.Executable(executable)
			if !ok {
				return anaerr.Invalid("submit", executable, "no executable %q in the campaign file", executable)
			}
			list, err := flags.readSamples()
			if err != nil {
				return err
			}
			if len(years) == 0 {
				years = campaign.Years
			}

			var regions []jobs.Region
			for _, r := range campaign.RegionsNamed(flags.eventSelection) {
				regions = append(regions, jobs.Region{Name: r.Name, Selection: r.Selection})
			}
			cmds, err := jobs.Expand(
				jobs.Template{Executable: exe.Path, Args: exe.Args, Output: exe.Output},
				list, regions, years,
				jobs.Options{OutputDir: flags.outputDir, Variables: varsFile, Systematics: systematics},
			)
			if err != nil {
				return anaerr.Invalid("submit", executable, "%v", err)
			}
			if len(cmds) == 0 {
				return anaerr.Invalid("submit", executable, "no commands: check samples, regions and years")
			}
			if flags.outputDir != "" && !dryRun {
				if err := os.MkdirAll(flags.outputDir, 0o755); err != nil {
					return err
				}
			}

			r, err := newRunner()
			if err != nil {
				return err
			}
			var store *ledger.Store
			if !dryRun {
				store, err = ledger.Open(cmd.Context(), campaign.LedgerPath)
				if err != nil {
					return err
				}
				defer store.Close()
			}
			batch := ledger.NewBatchID()
			log.Info().Str("batch", batch).Int("commands", len(cmds)).Str("runmode", flags.runMode).Msg("starting")

			if flags.runMode == "local" {
				return submitLocal(cmd, r, store, batch, cmds, parallel, keepGoing)
			}

			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			entries, err := condor.SubmitBatch(cmd.Context(), r, store, jobs.Chunk(cmds, chunk), condor.BatchOptions{
				Dir:   filepath.Join(campaign.WorkDir, batch),
				Batch: batch,
				Settings: condor.Settings{
					CMSSW:      campaign.CMSSW,
					Proxy:      campaign.Condor.Proxy,
					Flavour:    campaign.Condor.Flavour,
					CPUs:       campaign.Condor.CPUs,
					Memory:     campaign.Condor.Memory,
					MaxRuntime: campaign.Condor.MaxRuntime,
					WorkDir:    wd,
				},
				Schedd: campaign.Condor.Schedd,
				DryRun: dryRun,
			})
			fmt.Printf("batch %s: %d condor jobs\n", batch, len(entries))
			return err
		},
	}

	flags.register(cmd.Flags(), true)
	cmd.Flags().StringVarP(&executable, "executable", "e", "", "executable name from the campaign file")
	cmd.Flags().StringVar(&varsFile, "variables", "", "variables JSON file passed to the executable")
	cmd.Flags().StringSliceVar(&systematics, "systematics", nil, "systematic variations, one job each")
	cmd.Flags().StringSliceVar(&years, "years", nil, "data-taking years (default from the campaign file)")
	cmd.Flags().IntVarP(&parallel, "parallel", "j", 1, "local commands to run at once")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "continue after a failed local command")
	cmd.Flags().IntVar(&chunk, "chunk", 1, "commands per condor job")
	_ = cmd.MarkFlagRequired("executable")
	return cmd
}

func submitLocal(cmd *cobra.Command, r runner.Runner, store *ledger.Store, batch string, cmds []jobs.Command, parallel int, keepGoing bool) error {
	report, runErr := condor.RunLocal(cmd.Context(), r, cmds, parallel, keepGoing)
	if dry, ok := r.(*runner.Dry); ok {
		for _, c := range dry.Calls() {
			fmt.Println(c)
		}
	}
	if store != nil {
		if err := condor.RecordLocal(cmd.Context(), store, batch, report); err != nil {
			return err
		}
	}
	failed := report.Failed()
	fmt.Printf("batch %s: %d of %d commands ran, %d failed\n", batch, report.Ran(), len(cmds), len(failed))
	if runErr != nil {
		return runErr
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d local commands failed", len(failed))
	}
	return nil
}
