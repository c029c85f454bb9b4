package condor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/decibelcooper/cmsana/internal/jobs"
	"github.com/decibelcooper/cmsana/internal/runner"
)

// Outcome is the result of one local command that was started.
type Outcome struct {
	Command jobs.Command
	// ExitCode is the command's exit status, or -1 when it could not be run
	// to completion (not started, killed, cancelled).
	ExitCode int
	Err      error
}

// LocalReport holds an outcome for every command started, in completion
// order. Commands never started because the run stopped have none.
type LocalReport struct {
	Outcomes []Outcome
}

// Ran is the number of commands started.
func (r LocalReport) Ran() int { return len(r.Outcomes) }

// Failed lists the commands that ended with an error.
func (r LocalReport) Failed() []jobs.Command {
	var out []jobs.Command
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o.Command)
		}
	}
	return out
}

// RunLocal executes commands on this machine. With parallel <= 1 they run one
// after another in slice order. Without keepGoing the first failure stops
// the remaining commands.
func RunLocal(ctx context.Context, r runner.Runner, cmds []jobs.Command, parallel int, keepGoing bool) (LocalReport, error) {
	var (
		mu     sync.Mutex
		report LocalReport
	)

	run := func(ctx context.Context, cmd jobs.Command) error {
		if len(cmd.Argv) == 0 {
			return fmt.Errorf("command %q has no argv", cmd.Name)
		}
		log.Info().Str("job", cmd.Name).Str("cmd", cmd.String()).Msg("running locally")
		_, err := r.Run(ctx, cmd.Argv[0], cmd.Argv[1:]...)

		outcome := Outcome{Command: cmd, Err: err}
		if err != nil {
			code, ok := runner.ExitCode(err)
			if !ok {
				code = -1
			}
			outcome.ExitCode = code
		}
		mu.Lock()
		defer mu.Unlock()
		report.Outcomes = append(report.Outcomes, outcome)
		if err == nil {
			return nil
		}
		if keepGoing && ctx.Err() == nil {
			log.Warn().Err(err).Str("job", cmd.Name).Int("exit", outcome.ExitCode).Msg("command failed, continuing")
			return nil
		}
		return fmt.Errorf("job %s: %w", cmd.Name, err)
	}

	if parallel <= 1 {
		for _, cmd := range cmds {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if err := run(ctx, cmd); err != nil {
				return report, err
			}
		}
		return report, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, cmd := range cmds {
		cmd := cmd
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return run(gctx, cmd)
		})
	}
	err := g.Wait()
	return report, err
}
