package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/merge"
	"github.com/decibelcooper/cmsana/internal/samples"
)

// merge: hadd the job outputs per process and year, then optionally per year
// and over all years into one file each.
func mergeCmd() *cobra.Command {
	var (
		flags    common
		sel      selectorFlags
		method   string
		rename   []string
		clip     bool
		force    bool
		combined string
	)

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge job outputs per process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.inputDir == "" || flags.outputDir == "" {
				return anaerr.Invalid("merge", "", "--inputdir and --outputdir are required")
			}
			if len(flags.sampleLists) == 0 {
				return anaerr.Invalid("merge", "", "--samplelist is required")
			}
			rules, err := merge.ParseRename(rename)
			if err != nil {
				return anaerr.Invalid("merge", "", "%v", err)
			}

			var m merge.Merger
			switch method {
			case "hadd":
				if len(rules) > 0 || clip || !sel.sel.IsZero() {
					return anaerr.Invalid("merge", "", "--rename, --clip and the name filters need --method native")
				}
				r, err := newRunner()
				if err != nil {
					return err
				}
				m = merge.Hadd{Runner: r, Force: force}
			case "native":
				m = merge.Native{Options: merge.Options{Selector: sel.sel, Rename: rules, Clip: clip}}
			default:
				return anaerr.Invalid("merge", "", "--method must be hadd or native, got %q", method)
			}

			list, err := samples.ReadAll(flags.sampleLists, true)
			if err != nil {
				return err
			}
			files, err := merge.Glob(flags.inputDir)
			if err != nil {
				return err
			}
			steps, unmatched := merge.Plan(files, list, flags.outputDir, combined)
			for _, f := range unmatched {
				log.Warn().Str("file", f).Msg("matches no sample, not merged")
			}
			if len(steps) == 0 {
				return anaerr.NotFound("merge", flags.inputDir, fmt.Errorf("no job outputs match the sample list"))
			}

			if dryRun {
				for _, s := range steps {
					fmt.Printf("%s %s <- %d files\n", method, s.Output, len(s.Inputs))
				}
				return nil
			}
			reports, err := merge.Run(cmd.Context(), m, steps)
			for _, r := range reports {
				fmt.Println(r)
			}
			return err
		},
	}

	flags.register(cmd.Flags(), false)
	sel.register(cmd.Flags())
	cmd.Flags().StringVar(&method, "method", "hadd", "hadd or native")
	cmd.Flags().StringSliceVar(&rename, "rename", nil, "merge process from into to, as from=to (native only)")
	cmd.Flags().BoolVar(&clip, "clip", false, "set negative bins to zero (native only)")
	cmd.Flags().BoolVarP(&force, "force", "f", true, "let hadd overwrite existing outputs")
	cmd.Flags().StringVar(&combined, "combined", "", "also merge all processes into this file, per year and over all years")
	return cmd
}
