package condor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/decibelcooper/cmsana/internal/jobs"
	"github.com/decibelcooper/cmsana/internal/ledger"
	"github.com/decibelcooper/cmsana/internal/runner"
)

type BatchOptions struct {
	// Dir receives the scripts, submit files and condor logs.
	Dir      string
	Batch    string
	Settings Settings
	Schedd   string
	Env      map[string]string
	// DryRun writes the job files without submitting or recording anything.
	DryRun bool
}

// GroupName names the job running a group of commands after its first one.
func GroupName(group []jobs.Command) string {
	if len(group) == 1 {
		return group[0].Name
	}
	return fmt.Sprintf("%s_and_%d_more", group[0].Name, len(group)-1)
}

// SubmitBatch prepares and submits one condor job per command group and
// records each in store, which may be nil. Submission stops at the first error;
// the entries submitted so far are returned with it.
func SubmitBatch(ctx context.Context, r runner.Runner, store *ledger.Store, groups [][]jobs.Command, opts BatchOptions) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		lines := make([]string, len(group))
		outputs := make([]string, 0, len(group))
		for i, c := range group {
			lines[i] = c.String()
			if c.Output != "" {
				outputs = append(outputs, c.Output)
			}
		}
		job := Job{Name: GroupName(group), Commands: lines, Env: opts.Env}
		files, err := Prepare(opts.Dir, job, opts.Settings)
		if err != nil {
			return out, err
		}
		entry := ledger.Entry{
			Batch:      opts.Batch,
			Name:       job.Name,
			RunMode:    ledger.RunModeCondor,
			Command:    strings.Join(lines, "\n"),
			Script:     files.Script,
			SubmitFile: files.Submit,
			LogPath:    files.Log,
			Output:     strings.Join(outputs, " "),
			Status:     ledger.StatusSubmitted,
		}
		if opts.DryRun {
			log.Info().Str("job", job.Name).Str("submit", files.Submit).Msg("prepared, not submitted")
			out = append(out, entry)
			continue
		}

		cluster, err := Submit(ctx, r, files.Submit, opts.Schedd)
		if err != nil {
			return out, fmt.Errorf("submit %s: %w", job.Name, err)
		}
		entry.ClusterID = cluster
		if store != nil {
			id, err := store.Record(ctx, entry)
			if err != nil {
				return out, err
			}
			entry.ID = id
		}
		log.Info().Str("job", job.Name).Int64("cluster", cluster).Int("commands", len(group)).Msg("submitted")
		out = append(out, entry)
	}
	return out, nil
}

// RecordLocal stores one ledger entry per started command of a local run,
// with the status and exit code it ended with.
func RecordLocal(ctx context.Context, store *ledger.Store, batch string, report LocalReport) error {
	for _, o := range report.Outcomes {
		status := ledger.StatusSucceeded
		if o.Err != nil {
			status = ledger.StatusFailed
		}
		_, err := store.Record(ctx, ledger.Entry{
			Batch:    batch,
			Name:     o.Command.Name,
			RunMode:  ledger.RunModeLocal,
			Command:  o.Command.String(),
			Output:   o.Command.Output,
			Status:   status,
			ExitCode: o.ExitCode,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
