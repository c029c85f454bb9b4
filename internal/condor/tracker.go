package condor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/decibelcooper/cmsana/internal/ledger"
	"github.com/decibelcooper/cmsana/internal/runner"
)

func ledgerStatus(s State) ledger.Status {
	switch s {
	case StateIdle:
		return ledger.StatusIdle
	case StateRunning:
		return ledger.StatusRunning
	case StateHeld:
		return ledger.StatusHeld
	case StateSucceeded:
		return ledger.StatusSucceeded
	case StateFailed:
		return ledger.StatusFailed
	case StateAborted:
		return ledger.StatusAborted
	}
	return ledger.StatusSubmitted
}

// Refresh reads the condor log of every unfinished condor job in the batch and
// stores the new state. Jobs whose log has no events yet are left alone.
func Refresh(ctx context.Context, store *ledger.Store, batch string) ([]ledger.Entry, error) {
	entries, changed, err := survey(ctx, store, batch)
	if err != nil {
		return nil, err
	}
	for _, i := range changed {
		if err := store.UpdateStatus(ctx, entries[i].ID, entries[i].Status, entries[i].ExitCode); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Survey is Refresh without the writes: the states read from the condor logs
// are applied to the returned entries only.
func Survey(ctx context.Context, store *ledger.Store, batch string) ([]ledger.Entry, error) {
	entries, _, err := survey(ctx, store, batch)
	return entries, err
}

// survey returns the batch with log states applied and the indexes that changed.
func survey(ctx context.Context, store *ledger.Store, batch string) ([]ledger.Entry, []int, error) {
	entries, err := store.List(ctx, ledger.Filter{Batch: batch})
	if err != nil {
		return nil, nil, err
	}
	var changed []int
	for i, e := range entries {
		if e.RunMode != ledger.RunModeCondor || e.Status.Finished() || e.LogPath == "" {
			continue
		}
		status, err := ParseLog(e.LogPath)
		if errors.Is(err, ErrNoEvents) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("job", e.Name).Msg("cannot read condor log")
			continue
		}
		next := ledgerStatus(status.State)
		if next == e.Status && status.ExitCode == e.ExitCode {
			continue
		}
		entries[i].Status = next
		entries[i].ExitCode = status.ExitCode
		changed = append(changed, i)
	}
	return entries, changed, nil
}

// Resubmittable reports whether Resubmit would submit e again.
func Resubmittable(e ledger.Entry) bool {
	failed := e.Status == ledger.StatusFailed || e.Status == ledger.StatusAborted
	return failed && e.RunMode == ledger.RunModeCondor && e.SubmitFile != ""
}

// Resubmit submits the failed and aborted condor jobs of a batch again, reusing
// their submit files. The previous log is truncated so the next Refresh only
// sees the new attempt.
func Resubmit(ctx context.Context, r runner.Runner, store *ledger.Store, batch, schedd string, truncate func(path string) error) (int, error) {
	entries, err := store.List(ctx, ledger.Filter{
		Batch:    batch,
		Statuses: []ledger.Status{ledger.StatusFailed, ledger.StatusAborted},
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !Resubmittable(e) {
			log.Warn().Str("job", e.Name).Msg("not a condor job, skipping resubmission")
			continue
		}
		if truncate != nil && e.LogPath != "" {
			if err := truncate(e.LogPath); err != nil {
				return n, fmt.Errorf("reset log of %s: %w", e.Name, err)
			}
		}
		cluster, err := Submit(ctx, r, e.SubmitFile, schedd)
		if err != nil {
			return n, fmt.Errorf("resubmit %s: %w", e.Name, err)
		}
		if err := store.MarkResubmitted(ctx, e.ID, cluster); err != nil {
			return n, err
		}
		log.Info().Str("job", e.Name).Int64("cluster", cluster).Int("attempt", e.Attempts+1).Msg("resubmitted")
		n++
	}
	return n, nil
}
