package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/fit"
)

func fitCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "fit",
		Short: "Build workspaces and fit signal strengths with combine",
	}
	c.AddCommand(fitWorkspaceCmd(), fitMuCmd())
	return c
}

func parsePOIs(raw []string) ([]fit.POI, error) {
	pois := make([]fit.POI, 0, len(raw))
	for _, s := range raw {
		p, err := fit.ParsePOI(s)
		if err != nil {
			return nil, err
		}
		pois = append(pois, p)
	}
	return pois, nil
}

func fitWorkspaceCmd() *cobra.Command {
	var (
		output string
		pois   []string
	)

	cmd := &cobra.Command{
		Use:   "workspace <card.txt>",
		Short: "Convert a card into a workspace with text2workspace.py",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parsePOIs(pois)
			if err != nil {
				return err
			}
			r, err := newRunner()
			if err != nil {
				return err
			}
			ws, err := fit.Workspace(cmd.Context(), r, args[0], output, parsed)
			if err != nil {
				return err
			}
			fmt.Println(ws)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "workspace file (default the card with .root)")
	// Array, not slice: a POI lists its processes with commas.
	cmd.Flags().StringArrayVar(&pois, "poi", nil, "signal strength as name=proc1,proc2[:init,min,max]; repeatable")
	return cmd
}

// fit mu ws.root [-- extra combine arguments]
func fitMuCmd() *cobra.Command {
	var (
		method   string
		expected bool
		pois     []string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "mu <workspace.root> [-- combine args]",
		Short: "Fit signal strengths or compute the significance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := fit.ParseMethod(method)
			if err != nil {
				return err
			}
			opts := fit.Options{Method: m, Expected: expected, POIs: pois, Name: name, Extra: args[1:]}
			r, err := newRunner()
			if err != nil {
				return err
			}
			res, err := fit.SignalStrength(cmd.Context(), r, args[0], opts)
			if err != nil {
				// The dry runner prints nothing to parse.
				if dryRun && anaerr.IsKind(err, anaerr.KindExecution) {
					return nil
				}
				return err
			}
			kind := "observed"
			if res.Expected {
				kind = "expected"
			}
			for _, e := range res.Estimates {
				fmt.Printf("%s %s\n", kind, e)
			}
			if res.HasSignificance {
				fmt.Printf("%s significance: %.2f\n", kind, res.Significance)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "M", string(fit.MultiDimFit), "MultiDimFit, FitDiagnostics or Significance")
	cmd.Flags().BoolVarP(&expected, "expected", "t", false, "fit the Asimov dataset with every POI at 1")
	cmd.Flags().StringSliceVar(&pois, "pois", nil, "POIs to report (default r)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "suffix of the combine output files")
	return cmd
}
