package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/condor"
	"github.com/decibelcooper/cmsana/internal/ledger"
)

func jobsCmd() *cobra.Command {
	var batch string

	c := &cobra.Command{
		Use:   "jobs",
		Short: "Track submitted jobs",
	}
	c.PersistentFlags().StringVar(&batch, "batch", "", "batch ID (default the most recent one)")
	c.AddCommand(jobsListCmd(&batch), jobsShowCmd(), jobsStatusCmd(&batch), jobsResubmitCmd(&batch))
	return c
}

// openBatch opens the ledger and resolves an empty batch to the latest one.
func openBatch(ctx context.Context, batch string) (*ledger.Store, string, error) {
	store, err := ledger.Open(ctx, campaign.LedgerPath)
	if err != nil {
		return nil, "", err
	}
	if batch == "" {
		batch, err = store.LatestBatch(ctx)
		if errors.Is(err, ledger.ErrNotFound) {
			store.Close()
			return nil, "", anaerr.NotFound("jobs", campaign.LedgerPath, errors.New("no jobs recorded"))
		}
		if err != nil {
			store.Close()
			return nil, "", err
		}
	}
	return store, batch, nil
}

func printEntries(batch string, entries []ledger.Entry) {
	fmt.Printf("batch %s\n", batch)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMODE\tCLUSTER\tSTATUS\tEXIT\tATTEMPTS\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%d\t%d\t%s\n",
			e.ID, e.Name, e.RunMode, e.ClusterID, e.Status, e.ExitCode, e.Attempts, humanize.Time(e.UpdatedAt))
	}
	tw.Flush()
}

func printSummary(entries []ledger.Entry) {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[string(e.Status)]++
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("%-10s %d\n", s, counts[s])
	}
}

func jobsListCmd(batch *string) *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the jobs of a batch as last recorded",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, b, err := openBatch(cmd.Context(), *batch)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := ledger.Filter{Batch: b}
			if failedOnly {
				filter.Statuses = []ledger.Status{ledger.StatusFailed, ledger.StatusAborted, ledger.StatusHeld}
			}
			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printEntries(b, entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only failed, aborted and held jobs")
	return cmd
}

func jobsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print everything recorded about one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return anaerr.Invalid("jobs.show", "", "job id %q is not a number", args[0])
			}
			store, err := ledger.Open(cmd.Context(), campaign.LedgerPath)
			if err != nil {
				return err
			}
			defer store.Close()

			e, err := store.Get(cmd.Context(), id)
			if errors.Is(err, ledger.ErrNotFound) {
				return anaerr.NotFound("jobs.show", campaign.LedgerPath, fmt.Errorf("job %d", id))
			}
			if err != nil {
				return err
			}
			fmt.Printf("job %d (%s) in batch %s\n", e.ID, e.Name, e.Batch)
			fmt.Printf("  mode     %s\n", e.RunMode)
			fmt.Printf("  status   %s (exit %d, %d attempts)\n", e.Status, e.ExitCode, e.Attempts)
			if e.ClusterID != 0 {
				fmt.Printf("  cluster  %d\n", e.ClusterID)
			}
			for _, kv := range [][2]string{{"script", e.Script}, {"submit", e.SubmitFile}, {"log", e.LogPath}, {"output", e.Output}} {
				if kv[1] != "" {
					fmt.Printf("  %-8s %s\n", kv[0], kv[1])
				}
			}
			fmt.Printf("  created  %s (%s)\n", e.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(e.CreatedAt))
			fmt.Printf("  command\n%s\n", e.Command)
			return nil
		},
	}
}

func jobsStatusCmd(batch *string) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Refresh job states from the condor logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, b, err := openBatch(cmd.Context(), *batch)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := condor.Refresh(cmd.Context(), store, b)
			if err != nil {
				return err
			}
			if verbose {
				printEntries(b, entries)
			}
			printSummary(entries)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every job")
	return cmd
}

func jobsResubmitCmd(batch *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resubmit",
		Short: "Submit the failed and aborted condor jobs of a batch again",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, b, err := openBatch(cmd.Context(), *batch)
			if err != nil {
				return err
			}
			defer store.Close()

			if dryRun {
				entries, err := condor.Survey(cmd.Context(), store, b)
				if err != nil {
					return err
				}
				for _, e := range entries {
					if condor.Resubmittable(e) {
						fmt.Printf("would resubmit %s (%s)\n", e.Name, e.SubmitFile)
					}
				}
				return nil
			}
			if _, err := condor.Refresh(cmd.Context(), store, b); err != nil {
				return err
			}
			r, err := newRunner()
			if err != nil {
				return err
			}
			truncate := func(path string) error { return os.Truncate(path, 0) }
			n, err := condor.Resubmit(cmd.Context(), r, store, b, campaign.Condor.Schedd, truncate)
			fmt.Printf("batch %s: %d jobs resubmitted\n", b, n)
			return err
		},
	}
}
