package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/decibelcooper/cmsana/internal/samples"
)

func samplesCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "samples",
		Short: "Inspect sample lists",
	}
	c.AddCommand(samplesCheckCmd())
	return c
}

// samples check: parse the lists and summarise them per process.
func samplesCheckCmd() *cobra.Command {
	var flags common

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Parse sample lists and report processes, years and missing files",
		RunE: func(_ *cobra.Command, _ []string) error {
			list, err := flags.readSamples()
			if err != nil {
				return err
			}
			byProcess := samples.ByProcess(list)
			for _, p := range samples.Processes(list) {
				years := make(map[string]bool)
				data := false
				for _, s := range byProcess[p] {
					years[s.Year()] = true
					data = data || s.IsData()
				}
				kind := "mc"
				if data {
					kind = "data"
				}
				fmt.Printf("%-24s %-4s %3d samples  years %v\n", p, kind, len(byProcess[p]), yearList(years))
			}
			fmt.Printf("%d samples, %d processes\n", len(list), len(byProcess))
			return nil
		},
	}
	flags.register(cmd.Flags(), false)
	return cmd
}

func yearList(years map[string]bool) []string {
	out := make([]string, 0, len(years))
	for y := range years {
		if y == "" {
			y = "?"
		}
		out = append(out, y)
	}
	sort.Strings(out)
	return out
}
