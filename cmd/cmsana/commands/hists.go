package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/decibelcooper/cmsana/internal/hist"
	"github.com/decibelcooper/cmsana/internal/histname"
)

func histsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "hists",
		Short: "Look inside histogram files",
	}
	c.AddCommand(histsListCmd(), histsShowCmd())
	return c
}

// hists list file.root --mustcontainall _nominal
func histsListCmd() *cobra.Command {
	var (
		sel   selectorFlags
		parse bool
	)

	cmd := &cobra.Command{
		Use:   "list <file.root>",
		Short: "List the histogram names passing the name filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			names, err := hist.ListNames(args[0])
			if err != nil {
				return err
			}
			selected, _ := sel.sel.Select(names)
			if !parse {
				for _, n := range selected {
					fmt.Println(n)
				}
				fmt.Printf("%d of %d histograms selected\n", len(selected), len(names))
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROCESS\tREGION\tSELECTION\tVARIABLE\tSYSTEMATIC")
			for _, n := range selected {
				parsed, err := histname.Parse(n)
				if err != nil {
					fmt.Fprintf(tw, "%s\t(unparsable)\t\t\t\n", n)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", parsed.Process, parsed.Region, parsed.SelectionType, parsed.Variable, parsed.Systematic)
			}
			return tw.Flush()
		},
	}
	sel.register(cmd.Flags())
	cmd.Flags().BoolVar(&parse, "parse", false, "split each name into its convention fields")
	return cmd
}

func histsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file.root> <name>",
		Short: "Print the bin contents of one histogram",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			h, err := hist.ReadOne(args[0], args[1])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BIN\tLOW\tHIGH\tCONTENT\tERROR")
			for i := range h.Contents {
				fmt.Fprintf(tw, "%d\t%g\t%g\t%g\t%g\n", i+1, h.Edges[i], h.Edges[i+1], h.Contents[i], h.Error(i))
			}
			fmt.Fprintf(tw, "integral\t\t\t%g\t%g\n", h.Integral(), h.IntegralError())
			return tw.Flush()
		},
	}
}
