package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/decibelcooper/cmsana/internal/variables"
)

func variablesCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "variables",
		Short: "Inspect variable definition files",
	}
	c.AddCommand(variablesCheckCmd())
	return c
}

func variablesCheckCmd() *cobra.Command {
	var rewrite bool

	cmd := &cobra.Command{
		Use:   "check <variables.json>...",
		Short: "Validate variable files and print their binning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			for _, path := range args {
				set, err := variables.Read(path)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d variables\n", path, len(set))
				for _, v := range set {
					edges := v.Edges()
					fmt.Printf("  %-28s %3d bins [%g, %g]  %s\n", v.Name, len(edges)-1, edges[0], edges[len(edges)-1], v.AxisTitle())
				}
				if rewrite {
					if err := variables.Write(path, set); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rewrite, "rewrite", false, "write each file back in canonical form")
	return cmd
}
